package recording

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
	"github.com/youpy/go-wav"
	"golang.org/x/crypto/blake2b"
)

const (
	mimeWebM      = "video/webm"
	mimeAudioWebM = "audio/webm"
	mimeWAV       = "audio/wav"

	// The decoder writes one 20 ms frame of 48 kHz S16LE mono per packet.
	opusSampleRate = 48000
	opusFrameBytes = 1920
)

// Timestamp formats t like an ISO-8601 UTC string with milliseconds, with
// ':' and '.' replaced by '-' so it is safe in filenames.
func Timestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// Filename derives the artifact filename for a variant, channel and time.
func Filename(v Variant, channel string, t time.Time, ext string) string {
	prefix := "recording"
	if v == VariantAudio {
		prefix = "audio-recording"
	}
	return fmt.Sprintf("%s-%s-%s.%s", prefix, channel, Timestamp(t), ext)
}

// BuildArtifact turns the buffered chunks of one cycle into an artifact.
func BuildArtifact(v Variant, f Format, channel string, chunks [][]byte, at time.Time) (Artifact, error) {
	var (
		data []byte
		mime string
		ext  string
		err  error
	)

	switch {
	case v == VariantCall:
		data, mime, ext = bytes.Join(chunks, nil), mimeWebM, "webm"
	case f.Codec == CodecWebM:
		data, mime, ext = bytes.Join(chunks, nil), mimeAudioWebM, "webm"
	case f.Codec == CodecPCM16:
		data, err = encodeWAV(pcmFromChunks(chunks), f.Channels, f.SampleRate)
		mime, ext = mimeWAV, "wav"
	case f.Codec == CodecOpus:
		var pcm []int16
		var channels int
		pcm, channels, err = decodeOpus(chunks)
		if err == nil {
			data, err = encodeWAV(pcm, channels, opusSampleRate)
		}
		mime, ext = mimeWAV, "wav"
	default:
		err = fmt.Errorf("%w: codec %d", ErrUnsupportedFormat, f.Codec)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "BuildArtifact",
			"variant":  v.String(),
			"codec":    f.Codec,
			"chunks":   len(chunks),
			"error":    err.Error(),
		}).Error("Failed to build recording artifact")
		return Artifact{}, err
	}

	artifact := Artifact{
		Data:     data,
		MIMEType: mime,
		Filename: Filename(v, channel, at, ext),
		Digest:   blake2b.Sum256(data),
	}

	logrus.WithFields(logrus.Fields{
		"function":  "BuildArtifact",
		"variant":   v.String(),
		"filename":  artifact.Filename,
		"mime_type": artifact.MIMEType,
		"size":      len(artifact.Data),
	}).Info("Recording artifact built")

	return artifact, nil
}

// pcmFromChunks reassembles little-endian int16 samples. A trailing odd byte
// of one chunk is carried into the next.
func pcmFromChunks(chunks [][]byte) []int16 {
	raw := bytes.Join(chunks, nil)
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}
	return pcm
}

// decodeOpus decodes one Opus packet per chunk into interleaved PCM. The
// channel layout of the first packet applies to the whole stream.
func decodeOpus(chunks [][]byte) ([]int16, int, error) {
	decoder := opus.NewDecoder()
	var frame [opusFrameBytes]byte

	var pcm []int16
	channels := 0
	for i, packet := range chunks {
		if len(packet) == 0 {
			continue
		}
		_, isStereo, err := decoder.Decode(packet, frame[:])
		if err != nil {
			return nil, 0, fmt.Errorf("opus decode failed on packet %d: %w", i, err)
		}

		packetChannels := 1
		if isStereo {
			packetChannels = 2
		}
		if channels == 0 {
			channels = packetChannels
		} else if packetChannels != channels {
			return nil, 0, fmt.Errorf("%w: packet %d switches to %d channels", ErrUnsupportedFormat, i, packetChannels)
		}

		for j := 0; j+1 < len(frame); j += 2 {
			pcm = append(pcm, int16(frame[j])|int16(frame[j+1])<<8)
		}
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("opus decode failed: no packets")
	}
	return pcm, channels, nil
}

// encodeWAV writes interleaved 16-bit PCM into a WAV container.
func encodeWAV(pcm []int16, channels, sampleRate int) ([]byte, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}

	frames := len(pcm) / channels
	samples := make([]wav.Sample, frames)
	for i := range samples {
		for c := 0; c < channels; c++ {
			samples[i].Values[c] = int(pcm[i*channels+c])
		}
	}

	var buf bytes.Buffer
	writer := wav.NewWriter(&buf, uint32(frames), uint16(channels), uint32(sampleRate), 16)
	if err := writer.WriteSamples(samples); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	return buf.Bytes(), nil
}
