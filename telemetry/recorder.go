package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned when trying to start an already running recorder.
var ErrAlreadyRunning = errors.New("recorder is already running")

// Recorder aggregates reported failures in memory and periodically hands a
// Report to a registered callback.
//
// Example usage:
//
//	rec := telemetry.NewRecorder(5 * time.Second)
//	rec.OnReport(func(r telemetry.Report) {
//	    fmt.Printf("failures: %d, last: %s\n", r.Total, r.Last.Kind)
//	})
//	rec.Start()
//	defer rec.Stop()
type Recorder struct {
	reportInterval time.Duration
	maxHistory     int

	mu      sync.RWMutex
	running bool

	counts  map[Kind]uint64
	total   uint64
	history []Entry

	reportCallback func(report Report)

	ctx    context.Context
	cancel context.CancelFunc

	// Time provider for deterministic testing.
	timeProvider TimeProvider
}

// Entry is one failure stamped with the time it was reported.
type Entry struct {
	Failure Failure
	At      time.Time
}

// Report is an aggregated snapshot.
type Report struct {
	Counts    map[Kind]uint64
	Total     uint64
	Last      Failure
	History   []Entry
	Timestamp time.Time
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// NewRecorder creates a recorder that reports every reportInterval once started.
func NewRecorder(reportInterval time.Duration) *Recorder {
	logrus.WithFields(logrus.Fields{
		"function":        "NewRecorder",
		"report_interval": reportInterval,
	}).Info("Creating telemetry recorder")

	ctx, cancel := context.WithCancel(context.Background())

	return &Recorder{
		reportInterval: reportInterval,
		maxHistory:     64,
		counts:         make(map[Kind]uint64),
		history:        make([]Entry, 0, 64),
		ctx:            ctx,
		cancel:         cancel,
		timeProvider:   DefaultTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (r *Recorder) SetTimeProvider(tp TimeProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	r.timeProvider = tp
}

// Report records f. It never blocks on the report callback.
func (r *Recorder) Report(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[f.Kind]++
	r.total++
	r.history = append(r.history, Entry{Failure: f, At: r.timeProvider.Now()})
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function": "Recorder.Report",
			"kind":     string(f.Kind),
			"total":    r.total,
		}).Trace("Failure recorded")
	}
}

// Count returns the number of failures recorded for kind.
func (r *Recorder) Count(kind Kind) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[kind]
}

// Snapshot returns the current aggregated report.
func (r *Recorder) Snapshot() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() Report {
	counts := make(map[Kind]uint64, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	history := make([]Entry, len(r.history))
	copy(history, r.history)

	report := Report{
		Counts:    counts,
		Total:     r.total,
		History:   history,
		Timestamp: r.timeProvider.Now(),
	}
	if len(history) > 0 {
		report.Last = history[len(history)-1].Failure
	}
	return report
}

// OnReport registers the periodic report callback.
func (r *Recorder) OnReport(callback func(report Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reportCallback = callback
}

// Start begins periodic reporting.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	if r.reportInterval <= 0 {
		r.reportInterval = 5 * time.Second
	}

	r.running = true
	go r.reportLoop(r.ctx, r.reportInterval)

	logrus.WithFields(logrus.Fields{
		"function":        "Recorder.Start",
		"report_interval": r.reportInterval,
	}).Info("Telemetry recorder started")

	return nil
}

// Stop halts periodic reporting. The recorder keeps accepting failures.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())

	logrus.WithFields(logrus.Fields{
		"function": "Recorder.Stop",
	}).Info("Telemetry recorder stopped")
}

// IsRunning returns whether periodic reporting is active.
func (r *Recorder) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Recorder) reportLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			callback := r.reportCallback
			report := r.snapshotLocked()
			r.mu.RUnlock()

			if callback != nil {
				callback(report)
			}
		}
	}
}
