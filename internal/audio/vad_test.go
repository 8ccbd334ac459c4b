package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

// pcmChunk builds 16-bit mono PCM with a constant absolute amplitude.
func pcmChunk(amplitude int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func loudChunk() []byte  { return pcmChunk(8000, 160) }  // 20ms @ 8kHz, well above threshold
func quietChunk() []byte { return pcmChunk(50, 160) }    // near-silence

func TestVADSpeechStartAndSingleSpeechEnd(t *testing.T) {
	v := NewVAD(0, 700*time.Millisecond, 8000)

	if evt := v.Process(quietChunk()); evt != VADNone {
		t.Fatalf("silence before speech produced %v", evt)
	}
	if evt := v.Process(loudChunk()); evt != VADSpeechStart {
		t.Fatalf("loud chunk produced %v, want VADSpeechStart", evt)
	}
	if evt := v.Process(loudChunk()); evt != VADNone {
		t.Fatalf("continued speech produced %v, want VADNone", evt)
	}

	// 700ms of silence at 20ms per chunk is 35 chunks; exactly one speech-end
	// must fire across a much longer silent stretch.
	ends := 0
	for i := 0; i < 100; i++ {
		if evt := v.Process(quietChunk()); evt == VADSpeechEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("speech end fired %d times, want exactly 1", ends)
	}
	if v.Speaking() {
		t.Fatalf("Speaking() = true after speech end")
	}
}

func TestVADSilenceTimerClearedBySpeech(t *testing.T) {
	v := NewVAD(0, 100*time.Millisecond, 8000)
	if evt := v.Process(loudChunk()); evt != VADSpeechStart {
		t.Fatalf("want speech start, got %v", evt)
	}

	// Interleave near-threshold silence with speech; the timer must never
	// accumulate across speech chunks.
	for i := 0; i < 20; i++ {
		if evt := v.Process(quietChunk()); evt != VADNone {
			t.Fatalf("iteration %d: short silence produced %v", i, evt)
		}
		if evt := v.Process(loudChunk()); evt != VADNone {
			t.Fatalf("iteration %d: speech produced %v", i, evt)
		}
	}
}

func TestVADResetSuppressesPendingSpeechEnd(t *testing.T) {
	v := NewVAD(0, 100*time.Millisecond, 8000)
	v.Process(loudChunk())
	for i := 0; i < 4; i++ {
		v.Process(quietChunk()) // 80ms of the 100ms hold consumed
	}

	v.Reset()
	if v.Speaking() {
		t.Fatalf("Speaking() = true after Reset")
	}
	// The next silent chunk must not complete the old timer.
	if evt := v.Process(quietChunk()); evt != VADNone {
		t.Fatalf("chunk after Reset produced %v, want VADNone", evt)
	}
	// And a fresh utterance still starts cleanly.
	if evt := v.Process(loudChunk()); evt != VADSpeechStart {
		t.Fatalf("chunk after Reset produced %v, want VADSpeechStart", evt)
	}
}

func TestRMSBounds(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]byte{0x01}); got != 0 {
		t.Fatalf("RMS(odd byte) = %v, want 0", got)
	}
	loud := RMS(loudChunk())
	quiet := RMS(quietChunk())
	if loud <= quiet {
		t.Fatalf("RMS(loud)=%v not greater than RMS(quiet)=%v", loud, quiet)
	}
	if loud > 1 {
		t.Fatalf("RMS out of range: %v", loud)
	}
}

func TestPCMDuration(t *testing.T) {
	if d := PCMDuration(16000, 8000); d != time.Second {
		t.Fatalf("PCMDuration(16000, 8000) = %v, want 1s", d)
	}
	if d := PCMDuration(320, 8000); d != 20*time.Millisecond {
		t.Fatalf("PCMDuration(320, 8000) = %v, want 20ms", d)
	}
}
