package audio

// DefaultBargeInThreshold is deliberately higher than the speech threshold:
// during playback the line carries echo and comfort noise, and only a clearly
// energetic caller utterance should cut the assistant off.
const DefaultBargeInThreshold = 0.05

// BargeInDetector watches caller audio while the assistant is speaking and
// fires once per playback window when caller energy crosses the interrupt
// threshold. After firing it stays latched until the window is re-armed by
// SetAISpeaking(false) followed by SetAISpeaking(true), so one utterance
// cannot trigger multiple interrupts.
//
// Not safe for concurrent use; owned by a single call's engine.
type BargeInDetector struct {
	threshold  float64
	aiSpeaking bool
	triggered  bool
}

func NewBargeInDetector(threshold float64) *BargeInDetector {
	if threshold <= 0 {
		threshold = DefaultBargeInThreshold
	}
	return &BargeInDetector{threshold: threshold}
}

// SetAISpeaking toggles whether interruption is currently relevant. A
// false→true transition re-arms the detector for the new playback.
func (b *BargeInDetector) SetAISpeaking(on bool) {
	if on && !b.aiSpeaking {
		b.triggered = false
	}
	b.aiSpeaking = on
}

// AISpeaking reports the current playback flag.
func (b *BargeInDetector) AISpeaking() bool {
	return b.aiSpeaking
}

// Check evaluates one caller chunk. It returns true exactly once per armed
// playback window.
func (b *BargeInDetector) Check(chunk []byte) bool {
	if !b.aiSpeaking || b.triggered {
		return false
	}
	if RMS(chunk) >= b.threshold {
		b.triggered = true
		return true
	}
	return false
}
