package audio

import "time"

// VADEvent is the result of feeding one chunk to the detector.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechEnd
)

const (
	// DefaultSpeechThreshold is the normalized RMS level above which a chunk
	// counts as caller speech on an 8 kHz telephony leg.
	DefaultSpeechThreshold = 0.02

	// DefaultSilenceHold is how much continuous low-energy audio ends an
	// utterance.
	DefaultSilenceHold = 700 * time.Millisecond
)

// VAD is an energy-threshold voice activity detector. It tracks a single
// "currently speaking" flag and a silence timer measured in audio time (from
// chunk lengths, not wall clock), so identical input always yields identical
// events. It is a heuristic, not a classifier: callers must tolerate false
// positives and negatives.
//
// VAD is not safe for concurrent use; each call's engine owns its own.
type VAD struct {
	threshold  float64
	hold       time.Duration
	sampleRate int

	speaking bool
	silence  time.Duration
}

// NewVAD builds a detector. Zero values select the defaults.
func NewVAD(threshold float64, hold time.Duration, sampleRate int) *VAD {
	if threshold <= 0 {
		threshold = DefaultSpeechThreshold
	}
	if hold <= 0 {
		hold = DefaultSilenceHold
	}
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &VAD{threshold: threshold, hold: hold, sampleRate: sampleRate}
}

// Process consumes one PCM chunk and reports at most one transition.
func (v *VAD) Process(chunk []byte) VADEvent {
	level := RMS(chunk)
	if level >= v.threshold {
		v.silence = 0
		if !v.speaking {
			v.speaking = true
			return VADSpeechStart
		}
		return VADNone
	}

	if !v.speaking {
		return VADNone
	}
	v.silence += PCMDuration(len(chunk), v.sampleRate)
	if v.silence >= v.hold {
		v.speaking = false
		v.silence = 0
		return VADSpeechEnd
	}
	return VADNone
}

// Speaking reports whether the detector currently considers the caller to be
// mid-utterance.
func (v *VAD) Speaking() bool {
	return v.speaking
}

// Reset clears the speaking flag and silence timer without emitting events.
// The engine calls this when it forcibly changes state (after a barge-in or
// before re-entering listening) so a stale timer cannot fire into the new
// state.
func (v *VAD) Reset() {
	v.speaking = false
	v.silence = 0
}
