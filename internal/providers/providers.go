package providers

import "context"

// The engine consumes speech-to-text, language-model and text-to-speech
// capabilities only through the contracts below; vendor adapters live in
// subpackages and are resolved once at call setup.

// STTEventType enumerates transcript stream events.
type STTEventType string

const (
	STTPartial      STTEventType = "partial"
	STTFinal        STTEventType = "final"
	STTUtteranceEnd STTEventType = "utterance_end"
	STTError        STTEventType = "error"
)

// STTEvent is one event from a speech-to-text stream.
type STTEvent struct {
	Type        STTEventType
	Text        string
	Err         error
	TimestampMs int64
}

// STTStream accepts raw PCM and is closed when the call ends. Close must not
// block on graceful provider shutdown.
type STTStream interface {
	SendAudio(ctx context.Context, pcm []byte) error
	Close() error
}

// STTProvider opens one transcript stream per call leg. The events channel
// is closed when the stream dies; the engine treats that as a provider
// error, not a call end.
type STTProvider interface {
	StartStream(ctx context.Context, callID string, sampleRate int, language string) (STTStream, <-chan STTEvent, error)
}

// Role values for dialogue messages. Providers require message order to
// reflect actual conversation order, so the engine never reorders these.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message is one dialogue message in the model's running context.
type Message struct {
	Role    string
	Content string

	// Name carries the function name for RoleFunction messages.
	Name string

	// FunctionCall is set on assistant messages that requested a function.
	FunctionCall *FunctionCall
}

// FunctionCall is a structured action requested by the model. Arguments is
// the raw JSON argument object as streamed by the provider.
type FunctionCall struct {
	Name      string
	Arguments string
}

// FunctionSchema describes a callable function to the model.
type FunctionSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage is the provider-reported token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMChunk is one increment of a streamed completion. Exactly one chunk has
// Done set; it is the last one before the channel closes and carries Usage
// and any final FunctionCall. Err is only set alongside Done.
type LLMChunk struct {
	TextDelta    string
	FunctionCall *FunctionCall
	Done         bool
	Usage        *Usage
	Err          error
}

// LLMProvider streams a completion for the full message history. The
// returned channel is closed after the terminal chunk. Implementations must
// stop streaming when ctx is cancelled; callers may simply abandon the
// channel.
type LLMProvider interface {
	Stream(ctx context.Context, model string, messages []Message, functions []FunctionSchema) (<-chan LLMChunk, error)
}

// TTSRequest asks for one utterance to be synthesized.
type TTSRequest struct {
	Text       string
	Voice      string
	SampleRate int
	Format     string
}

// TTSProvider returns the complete synthesized audio buffer for a request.
// Synthesis is not streamed in this design; barge-in cancellation happens at
// the playback layer, not here.
type TTSProvider interface {
	Synthesize(ctx context.Context, req TTSRequest) ([]byte, error)
}
