package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS computes the normalized root-mean-square energy of a chunk of 16-bit
// signed little-endian mono PCM. The result is in [0, 1]; a trailing odd byte
// is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// PCMDuration reports how much audio time a byte count represents for 16-bit
// mono PCM at the given sample rate.
func PCMDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
