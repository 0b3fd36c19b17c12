package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/roomcall/call"
	"github.com/opd-ai/roomcall/config"
	"github.com/opd-ai/roomcall/focus"
	"github.com/opd-ai/roomcall/media"
	"github.com/opd-ai/roomcall/participant"
	"github.com/opd-ai/roomcall/recording"
	"github.com/opd-ai/roomcall/sim"
	"github.com/opd-ai/roomcall/speaker"
	"github.com/opd-ai/roomcall/telemetry"
)

const settleTimeout = 5 * time.Second

type scenarioParams struct {
	Channel string
	UserID  string
	Variant recording.Variant
	// Fast skips real waits for the startup delay and retry backoff.
	Fast bool
	// BusyMicrophone makes the first microphone requests report busy.
	BusyMicrophone int
	// ReportInterval is the period of the telemetry reports printed while
	// the call runs.
	ReportInterval time.Duration
}

type scenarioResult struct {
	Artifact    *recording.Artifact
	Transitions []focus.Layout
	Failures    telemetry.Report
	Reports     int
	Metrics     map[string]float64
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	params := scenarioParams{}
	var variant string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scripted call and record it",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(flags)
			if err != nil {
				return err
			}
			switch variant {
			case "call":
				params.Variant = recording.VariantCall
			case "audio":
				params.Variant = recording.VariantAudio
			default:
				return fmt.Errorf("unknown variant %q, want call or audio", variant)
			}

			_, err = runScenario(cmd.Context(), opts, params, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVar(&params.Channel, "channel", "demo", "channel identifier")
	cmd.Flags().StringVar(&params.UserID, "user", "demo-user", "local member identifier")
	cmd.Flags().StringVar(&variant, "variant", "call", "recording variant: call or audio")
	cmd.Flags().BoolVar(&params.Fast, "fast", false, "do not wait for startup delay and retry backoff")
	cmd.Flags().IntVar(&params.BusyMicrophone, "busy-mic", 0, "number of microphone requests reporting a busy device")
	cmd.Flags().DurationVar(&params.ReportInterval, "report-interval", time.Second, "period of telemetry reports during the call")

	return cmd
}

// runScenario plays a fixed call script and writes a transcript to out.
func runScenario(ctx context.Context, opts *config.Options, params scenarioParams, out io.Writer) (*scenarioResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Focus callbacks print from the dispatcher goroutine.
	out = &syncWriter{w: out}

	registry := prometheus.NewRegistry()
	promSink, err := telemetry.NewPrometheusSink(registry)
	if err != nil {
		return nil, err
	}
	recorder := telemetry.NewRecorder(params.ReportInterval)
	sink := telemetry.Multi{telemetry.LogSink{}, recorder, promSink}
	reports := &reportPrinter{out: out, tick: make(chan struct{}, 1)}
	recorder.OnReport(reports.print)
	if err := recorder.Start(); err != nil {
		return nil, err
	}
	defer recorder.Stop()
	defer reports.close()

	transport := sim.NewTransport("uid-local")
	devices := sim.NewDevices()
	for i := 0; i < params.BusyMicrophone; i++ {
		devices.FailMicrophone(fmt.Errorf("NotReadableError: %w", media.ErrDeviceBusy))
	}
	capturer := sim.NewCapturer()

	var scheduler media.Scheduler = media.DefaultScheduler{}
	if params.Fast {
		scheduler = sim.NewScheduler()
	}

	session, err := call.Open(ctx, call.Config{
		ChannelID:        params.Channel,
		UserID:           params.UserID,
		Options:          opts,
		Transport:        transport,
		Devices:          devices,
		Capturer:         capturer,
		Saver:            recording.DirectorySaver{Dir: opts.RecordingDir},
		Presence:         sim.NewPresence(),
		Permissions:      call.Permissions{Role: call.RoleAdmin, UserID: params.UserID},
		RecordingVariant: params.Variant,
		Sink:             sink,
		Scheduler:        scheduler,
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close(context.Background())

	result := &scenarioResult{}
	layouts := make(chan focus.Layout, 64)
	session.SetFocusCallback(func(state focus.State, layout focus.Layout) {
		select {
		case layouts <- layout:
		default:
		}
		fmt.Fprintf(out, "focus  %-6s target=%-8s primary=%-8s secondary=%s\n",
			state.Mode, state.Target, layout.Primary, joinIDs(layout.Secondary))
	})

	fmt.Fprintf(out, "join   channel=%s\n", params.Channel)
	if err := session.Join(ctx); err != nil {
		return nil, err
	}
	if err := waitUntil(func() bool { return len(transport.Publishes()) > 0 }); err != nil {
		return nil, fmt.Errorf("waiting for local tracks: %w", err)
	}
	fmt.Fprintf(out, "media  published=%s\n", strings.Join(transport.Publishes()[0].TrackIDs, ","))

	transport.AddRemote("alice")
	transport.AddRemote("bob")
	if err := waitUntil(func() bool { return len(session.Remotes()) == 2 }); err != nil {
		return nil, fmt.Errorf("waiting for remotes: %w", err)
	}

	steps := []struct {
		label   string
		samples []speaker.VolumeSample
		target  participant.ID
	}{
		{"alice speaks", []speaker.VolumeSample{{ID: "alice", Level: 40}, {ID: "bob", Level: 10}}, "alice"},
		{"bob speaks", []speaker.VolumeSample{{ID: "alice", Level: 12}, {ID: "bob", Level: 70}}, "bob"},
		{"local speaks", []speaker.VolumeSample{{ID: "uid-local", Level: 55}}, participant.Local},
	}
	for _, step := range steps {
		fmt.Fprintf(out, "tick   %s\n", step.label)
		transport.EmitVolume(step.samples...)
		target := step.target
		if err := waitUntil(func() bool { return session.Focus().Target == target }); err != nil {
			return nil, fmt.Errorf("%s: %w", step.label, err)
		}
	}

	fmt.Fprintln(out, "pin    alice")
	if err := session.SelectTile("alice"); err != nil {
		return nil, err
	}
	transport.EmitVolume(speaker.VolumeSample{ID: "bob", Level: 90})
	if err := waitUntil(func() bool { return session.Focus().LastSpeaking == "bob" }); err != nil {
		return nil, fmt.Errorf("pinned tick: %w", err)
	}

	if err := session.StartRecording(ctx); err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}
	fmt.Fprintf(out, "record %s\n", session.Snapshot().Recording)
	if stream := capturer.Latest(); stream != nil {
		for _, chunk := range sampleChunks(params.Variant) {
			stream.Push(chunk)
		}
	}

	fmt.Fprintln(out, "leave  alice")
	transport.RemoveRemote("alice")
	if err := waitUntil(func() bool { return session.Focus().Target == participant.Local }); err != nil {
		return nil, fmt.Errorf("pinned departure: %w", err)
	}

	artifact, err := session.StopRecording(ctx)
	if err != nil {
		return nil, fmt.Errorf("stop recording: %w", err)
	}
	result.Artifact = artifact
	if artifact != nil {
		fmt.Fprintf(out, "saved  %s (%s, %d bytes, digest %x)\n",
			filepath.Join(opts.RecordingDir, artifact.Filename), artifact.MIMEType, len(artifact.Data), artifact.Digest[:8])
	}

	// Let at least one periodic report cover the call before leaving.
	reports.drain()
	select {
	case <-reports.tick:
	case <-time.After(settleTimeout):
		return nil, fmt.Errorf("no telemetry report within %s", settleTimeout)
	}

	if err := session.Leave(ctx); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "left")

	for drained := false; !drained; {
		select {
		case layout := <-layouts:
			result.Transitions = append(result.Transitions, layout)
		default:
			drained = true
		}
	}
	result.Failures = recorder.Snapshot()
	result.Reports = reports.count()
	result.Metrics = gatherFailures(registry)

	for _, name := range sortedKeys(result.Metrics) {
		fmt.Fprintf(out, "metric %s=%g\n", name, result.Metrics[name])
	}
	return result, nil
}

// sampleChunks returns capture data in the format sim.Capturer grants.
func sampleChunks(v recording.Variant) [][]byte {
	if v == recording.VariantAudio {
		pcm := make([]byte, 0, 960)
		for i := 0; i < 480; i++ {
			sample := int16((i % 64) * 256)
			pcm = append(pcm, byte(sample), byte(sample>>8))
		}
		return [][]byte{pcm}
	}
	return [][]byte{[]byte("\x1a\x45\xdf\xa3"), []byte("simulated-cluster")}
}

func gatherFailures(registry *prometheus.Registry) map[string]float64 {
	out := make(map[string]float64)
	families, err := registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			out[family.GetName()+"{"+strings.Join(labels, ",")+"}"] = metric.GetCounter().GetValue()
		}
	}
	return out
}

// reportPrinter prints periodic telemetry reports until closed.
type reportPrinter struct {
	out  io.Writer
	tick chan struct{}

	mu      sync.Mutex
	printed int
	closed  bool
}

func (p *reportPrinter) print(r telemetry.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.printed++
	fmt.Fprintf(p.out, "report failures=%d", r.Total)
	if r.Total > 0 {
		fmt.Fprintf(p.out, " last=%s/%s", r.Last.Component, r.Last.Kind)
	}
	fmt.Fprintln(p.out)

	select {
	case p.tick <- struct{}{}:
	default:
	}
}

// drain discards a report signalled before the caller started waiting.
func (p *reportPrinter) drain() {
	select {
	case <-p.tick:
	default:
	}
}

func (p *reportPrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printed
}

func (p *reportPrinter) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func waitUntil(cond func() bool) error {
	deadline := time.Now().Add(settleTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %s", settleTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func joinIDs(ids []participant.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
