package providers

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Mock providers back local development and tests when no vendor keys are
// configured. They are deterministic: N audio chunks yield one transcript,
// the model replies with a canned sentence, and synthesis returns silence
// sized to the text.

const (
	// mockChunksPerUtterance is how many audio chunks the mock transcriber
	// consumes before committing a transcript.
	mockChunksPerUtterance = 40

	mockTranscript = "simulated caller speech"
	mockReply      = "Thanks for calling, I can help with that."

	// mockCharsPerSecond sizes synthesized silence so playback pacing stays
	// realistic without a real voice.
	mockCharsPerSecond = 15
)

type MockSTT struct{}

func NewMockSTT() *MockSTT { return &MockSTT{} }

func (p *MockSTT) StartStream(_ context.Context, _ string, _ int, _ string) (STTStream, <-chan STTEvent, error) {
	events := make(chan STTEvent, 64)
	return &mockSTTStream{events: events}, events, nil
}

type mockSTTStream struct {
	mu     sync.Mutex
	events chan STTEvent
	chunks int
	closed bool
}

func (s *mockSTTStream) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(pcm) == 0 {
		return nil
	}
	s.chunks++
	now := time.Now().UnixMilli()
	if s.chunks%10 == 0 {
		s.emit(STTEvent{Type: STTPartial, Text: "...", TimestampMs: now})
	}
	if s.chunks%mockChunksPerUtterance == 0 {
		s.emit(STTEvent{Type: STTFinal, Text: mockTranscript, TimestampMs: now})
		s.emit(STTEvent{Type: STTUtteranceEnd, TimestampMs: now})
	}
	return nil
}

// emit drops rather than blocks; the mock must never stall the audio path.
func (s *mockSTTStream) emit(evt STTEvent) {
	select {
	case s.events <- evt:
	default:
	}
}

func (s *mockSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

type MockLLM struct{}

func NewMockLLM() *MockLLM { return &MockLLM{} }

func (p *MockLLM) Stream(ctx context.Context, _ string, messages []Message, _ []FunctionSchema) (<-chan LLMChunk, error) {
	out := make(chan LLMChunk, 16)
	go func() {
		defer close(out)
		words := strings.Fields(mockReply)
		for i, w := range words {
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			select {
			case out <- LLMChunk{TextDelta: delta}:
			case <-ctx.Done():
				return
			}
		}
		usage := &Usage{
			PromptTokens:     EstimateMessagesTokens(messages),
			CompletionTokens: EstimateTokens(mockReply),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		select {
		case out <- LLMChunk{Done: true, Usage: usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

type MockTTS struct{}

func NewMockTTS() *MockTTS { return &MockTTS{} }

func (p *MockTTS) Synthesize(ctx context.Context, req TTSRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	chars := len(strings.TrimSpace(req.Text))
	if chars == 0 {
		return nil, nil
	}
	samples := rate * chars / mockCharsPerSecond
	if samples == 0 {
		samples = rate / 10
	}
	return make([]byte, samples*2), nil
}
