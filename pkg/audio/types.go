package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common container mime types.
const (
	MimeWAV  = "audio/wav"
	MimeWebM = "audio/webm"
)

// bytesPerSample is fixed: every PCM buffer in this package is 16-bit signed
// little-endian.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the capture format used for speech practice: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns the playback length of n PCM bytes in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Clip is a finalized recording. It is immutable once produced; callers must
// not modify Data.
type Clip struct {
	// Data is the encoded container bytes.
	Data []byte

	// MimeType tags the container.
	MimeType string

	// Duration is the playback length.
	Duration time.Duration
}

// Empty reports whether the clip carries no audio.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// DataURL renders the clip as a base64 data URL.
func (c Clip) DataURL() string {
	mime := c.MimeType
	if mime == "" {
		mime = MimeWAV
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// ErrInvalidDataURL is returned by ParseDataURL for malformed input.
var ErrInvalidDataURL = errors.New("audio: invalid data URL")

// ParseDataURL decodes either a "data:<mime>;base64,<payload>" URL or a bare
// base64 payload. The mime type is empty for bare payloads.
func ParseDataURL(s string) (data []byte, mime string, err error) {
	s = strings.TrimSpace(s)
	payload := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("%w: missing comma", ErrInvalidDataURL)
		}
		params := strings.Split(header, ";")
		if params[len(params)-1] != "base64" {
			return nil, "", fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
		}
		mime = strings.Join(params[:len(params)-1], ";")
		payload = body
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
		}
	}
	return data, mime, nil
}

// FileExtension returns the conventional file extension (without dot) for a
// container mime type. Unknown types map to "webm", the browser default.
func FileExtension(mime string) string {
	base, _, _ := strings.Cut(strings.ToLower(mime), ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/flac":
		return "flac"
	default:
		return "webm"
	}
}
