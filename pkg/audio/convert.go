package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter normalises PCM chunks from a capture device to a target format.
// Devices usually honour the requested format; some backends fall back to
// the hardware's native rate or channel count, in which case chunks are
// downmixed and resampled here. Create one per stream.
type Converter struct {
	From, To Format

	warnOnce sync.Once
}

// Convert returns pcm in the target format. Odd trailing bytes are dropped.
func (c *Converter) Convert(pcm []byte) []byte {
	if len(pcm)%bytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if c.From == c.To || c.From.SampleRate <= 0 || c.From.Channels <= 0 {
		return pcm
	}
	c.warnOnce.Do(func() {
		slog.Warn("audio: capture format differs from target, converting",
			"from", c.From.String(),
			"to", c.To.String(),
		)
	})

	if c.From.Channels > 1 && c.To.Channels == 1 {
		pcm = Downmix(pcm, c.From.Channels)
	}
	if c.From.SampleRate != c.To.SampleRate {
		pcm = ResampleMono16(pcm, c.From.SampleRate, c.To.SampleRate)
	}
	return pcm
}

// Downmix averages interleaved channels into a single mono channel.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * bytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*bytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < bytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / bytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, dstSamples*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s0*(1-frac)+s1*frac)))
	}
	return out
}
