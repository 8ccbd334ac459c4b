// Package engine runs the turn-taking conversation loop for one call: it
// composes the audio transport, voice-activity and barge-in detection, and
// the streaming provider interfaces into a single event-driven state
// machine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxline-ai/voxline/internal/agent"
	"github.com/voxline-ai/voxline/internal/audio"
	"github.com/voxline-ai/voxline/internal/monitor"
	"github.com/voxline-ai/voxline/internal/observability"
	"github.com/voxline-ai/voxline/internal/providers"
	"github.com/voxline-ai/voxline/internal/registry"
	"github.com/voxline-ai/voxline/internal/reliability"
	"github.com/voxline-ai/voxline/internal/store"
)

// State is the engine's position in the call lifecycle.
type State string

const (
	StateInit         State = "init"
	StateGreeting     State = "greeting"
	StateListening    State = "listening"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
	StateFunctionCall State = "function_call"
	StateTransferring State = "transferring"
	StateEnding       State = "ending"
	StateEnded        State = "ended"
)

// Outcome tags distinguish why a call ended; analytics depends on policy
// terminations not being folded into generic errors.
const (
	OutcomeCompleted   = "completed"
	OutcomeHangup      = "hangup"
	OutcomeMaxTurns    = "max_turns_reached"
	OutcomeMaxDuration = "max_duration_reached"
	OutcomeTransferred = "transferred"
	OutcomeShutdown    = "server_shutdown"
)

// Transport is the engine's view of the audio session: playback out, close
// on teardown. The session delivers inbound events by calling OnAudio and
// OnHangup directly.
type Transport interface {
	SendAudio(pcm []byte) error
	Close() error
}

// Deps carries everything a call needs, constructed once at call setup.
// Provider instances are injected rather than looked up so tests can
// substitute fakes.
type Deps struct {
	Agent     *agent.Config
	CallID    string
	Transport Transport
	STT       providers.STTProvider
	LLM       providers.LLMProvider
	TTS       providers.TTSProvider
	Store     store.Store
	Registry  *registry.Registry
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Functions *FunctionSet

	SampleRate       int
	SpeechThreshold  float64
	BargeInThreshold float64
	SilenceHold      time.Duration
	MinSpeakChars    int
	CharsPerSecond   int
	ConnectTimeout   time.Duration
}

type eventKind int

const (
	evStart eventKind = iota
	evAudio
	evHangup
	evSTT
	evSegment
	evReplyDone
	evSpeakingDone
	evStop
	evDeadline
)

type replyResult struct {
	text      string
	call      *providers.FunctionCall
	usage     *providers.Usage
	err       error
	startedAt time.Time
}

type event struct {
	kind   eventKind
	pcm    []byte
	stt    providers.STTEvent
	gen    int
	seg    string
	segErr error
	reply  *replyResult
	reason string
}

// Engine drives one call. All state below the mutex is owned by the run
// loop; external goroutines interact only through posted events and the
// State/CallID accessors.
type Engine struct {
	cfg       *agent.Config
	callID    string
	transport Transport
	sttProv   providers.STTProvider
	llm       providers.LLMProvider
	tts       providers.TTSProvider
	st        store.Store
	reg       *registry.Registry
	metrics   *observability.Metrics
	log       *zap.Logger
	functions *FunctionSet

	sampleRate     int
	minSpeakChars  int
	charsPerSecond int
	connectTimeout time.Duration

	vad   *audio.VAD
	barge *audio.BargeInDetector

	events chan event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	state     State
	startedAt time.Time
	regID     string

	// Everything below is touched only by the run loop.
	conv          *Conversation
	sttStream     providers.STTStream
	turnCancel    context.CancelFunc
	deadlineTimer *time.Timer

	playGen      int
	playing      bool
	speakUntil   time.Time
	spokenText   string
	pendingReply *replyResult
	pendingFinal []string
	userTurns    int
}

func New(d Deps) (*Engine, error) {
	if d.Agent == nil {
		return nil, fmt.Errorf("engine: nil agent config")
	}
	if d.CallID == "" {
		return nil, fmt.Errorf("engine: empty call id")
	}
	if d.Transport == nil || d.STT == nil || d.LLM == nil || d.TTS == nil {
		return nil, fmt.Errorf("engine: missing transport or provider")
	}
	if d.Store == nil {
		d.Store = store.NewInMemoryStore()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.SampleRate <= 0 {
		d.SampleRate = 8000
	}
	if d.MinSpeakChars <= 0 {
		d.MinSpeakChars = 60
	}
	if d.CharsPerSecond <= 0 {
		d.CharsPerSecond = 15
	}
	if d.ConnectTimeout <= 0 {
		d.ConnectTimeout = 10 * time.Second
	}
	if d.Functions == nil {
		d.Functions = NewFunctionSet()
	}

	e := &Engine{
		cfg:            d.Agent,
		callID:         d.CallID,
		transport:      d.Transport,
		sttProv:        d.STT,
		llm:            d.LLM,
		tts:            d.TTS,
		st:             d.Store,
		reg:            d.Registry,
		metrics:        d.Metrics,
		log:            d.Logger.With(zap.String("call_id", d.CallID), zap.String("agent_id", d.Agent.ID)),
		functions:      d.Functions,
		sampleRate:     d.SampleRate,
		minSpeakChars:  d.MinSpeakChars,
		charsPerSecond: d.CharsPerSecond,
		connectTimeout: d.ConnectTimeout,
		vad:            audio.NewVAD(d.SpeechThreshold, d.SilenceHold, d.SampleRate),
		barge:          audio.NewBargeInDetector(d.BargeInThreshold),
		events:         make(chan event, 1024),
		done:           make(chan struct{}),
		state:          StateInit,
		regID:          d.CallID,
	}
	e.conv = newConversation(d.Agent.ID, d.CallID, d.Agent.SystemPrompt)
	return e, nil
}

// Start opens the transcript stream, registers the call, and launches the
// event loop. A provider setup failure here is fatal to the call; mid-call
// provider failures are not.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	connectCtx, cancel := context.WithTimeout(ctx, e.connectTimeout)
	defer cancel()
	stream, sttEvents, err := e.sttProv.StartStream(connectCtx, e.callID, e.sampleRate, e.cfg.Language)
	if err != nil {
		e.cancel()
		return fmt.Errorf("engine: start transcript stream: %w", err)
	}
	e.sttStream = stream

	e.mu.Lock()
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()

	if err := e.st.BeginConversation(ctx, store.ConversationRecord{
		CallID:    e.callID,
		AgentID:   e.cfg.ID,
		StartedAt: e.startedAt,
	}); err != nil {
		e.storeFailure("begin conversation", err)
	}

	if e.reg != nil {
		e.reg.Register(e)
	}
	if e.metrics != nil {
		e.metrics.ActiveCalls.Inc()
	}
	if d := e.cfg.MaxCallDuration.Std(); d > 0 {
		e.deadlineTimer = time.AfterFunc(d, func() {
			e.post(event{kind: evDeadline})
		})
	}

	go e.pumpSTT(sttEvents)
	go e.run()
	e.post(event{kind: evStart})
	return nil
}

// OnAudio delivers one decoded caller audio chunk. Never blocks the session
// read loop: under backpressure audio is dropped, control events are not.
func (e *Engine) OnAudio(pcm []byte) {
	select {
	case e.events <- event{kind: evAudio, pcm: pcm}:
	case <-e.done:
	default:
	}
}

// OnHangup delivers a caller hangup or transport loss.
func (e *Engine) OnHangup() {
	e.post(event{kind: evHangup})
}

// Stop ends the call with the given outcome tag. Safe to call at any time,
// including after the call has ended.
func (e *Engine) Stop(reason string) {
	e.post(event{kind: evStop, reason: reason})
}

// Done closes when the call has fully torn down. The Conversation is safe
// to read only after Done.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Conversation() *Conversation { return e.conv }

// CallID is the identity the registry and monitor feed currently track the
// call under. Persistence keeps the identity from the first handshake even
// if a later one changes this.
func (e *Engine) CallID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.regID
}

// SetRegistryID updates the tracked identity after a mid-call handshake
// change, so teardown deregisters the entry the registry actually holds.
func (e *Engine) SetRegistryID(id string) {
	e.mu.Lock()
	e.regID = id
	e.mu.Unlock()
}

func (e *Engine) AgentID() string { return e.cfg.ID }

func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return string(e.state)
}

func (e *Engine) StartedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startedAt
}

func (e *Engine) post(evt event) {
	select {
	case e.events <- evt:
	case <-e.done:
	}
}

func (e *Engine) pumpSTT(events <-chan providers.STTEvent) {
	for evt := range events {
		e.post(event{kind: evSTT, stt: evt})
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for evt := range e.events {
		switch evt.kind {
		case evStart:
			e.handleStart()
		case evAudio:
			e.handleAudio(evt.pcm)
		case evSTT:
			e.handleSTT(evt.stt)
		case evSegment:
			e.handleSegment(evt)
		case evReplyDone:
			e.handleReplyDone(evt.gen, evt.reply)
		case evSpeakingDone:
			e.handleSpeakingDone(evt.gen)
		case evHangup:
			e.shutdown(OutcomeHangup)
		case evStop:
			e.shutdown(evt.reason)
		case evDeadline:
			e.shutdown(OutcomeMaxDuration)
		}
		if e.current() == StateEnded {
			return
		}
	}
}

func (e *Engine) current() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.Debug("state change", zap.String("state", string(s)))
	e.publish(monitor.CallState(e.CallID(), string(s)))
	if e.metrics != nil {
		e.metrics.CallEvents.WithLabelValues(string(s)).Inc()
	}
}

func (e *Engine) publish(evt monitor.Event) {
	if e.reg != nil {
		e.reg.Publish(evt)
	}
}

func (e *Engine) handleStart() {
	e.setState(StateGreeting)
	greeting := e.cfg.Greeting
	e.conv.addTurn(providers.RoleAssistant, greeting)
	e.conv.addMessage(providers.Message{Role: providers.RoleAssistant, Content: greeting})
	e.saveTurn(e.conv.Turns[len(e.conv.Turns)-1])
	e.publish(monitor.AssistantText(e.CallID(), greeting))
	e.speak(e.playGen, greeting)
}

// speak synthesizes text off-loop and posts the result as a playback
// segment tagged with the current generation.
func (e *Engine) speak(gen int, text string) {
	go func() {
		pcm, err := e.tts.Synthesize(e.ctx, providers.TTSRequest{
			Text:       text,
			Voice:      e.cfg.VoiceID,
			SampleRate: e.sampleRate,
			Format:     "pcm16",
		})
		e.post(event{kind: evSegment, gen: gen, seg: text, pcm: pcm, segErr: err})
	}()
}

func (e *Engine) handleAudio(pcm []byte) {
	switch e.current() {
	case StateListening:
		if e.sttStream != nil {
			if err := e.sttStream.SendAudio(e.ctx, pcm); err != nil {
				e.providerError("stt", err)
			}
		}
		if e.vad.Process(pcm) == audio.VADSpeechEnd {
			e.commitUtterance()
		}
	case StateGreeting, StateSpeaking:
		if e.barge.Check(pcm) {
			e.handleBargeIn()
		}
	}
}

func (e *Engine) handleSTT(evt providers.STTEvent) {
	switch evt.Type {
	case providers.STTPartial:
		if strings.TrimSpace(evt.Text) != "" {
			e.publish(monitor.Transcript(e.CallID(), "user", evt.Text, false))
		}
	case providers.STTFinal:
		if strings.TrimSpace(evt.Text) != "" {
			e.pendingFinal = append(e.pendingFinal, strings.TrimSpace(evt.Text))
			e.publish(monitor.Transcript(e.CallID(), "user", evt.Text, true))
		}
	case providers.STTUtteranceEnd:
		if e.current() == StateListening {
			e.commitUtterance()
		}
	case providers.STTError:
		e.providerError("stt", evt.Err)
	}
}

// commitUtterance closes the caller's turn and starts generating a reply.
// An empty transcript is discarded without burning a turn.
func (e *Engine) commitUtterance() {
	text := strings.TrimSpace(strings.Join(e.pendingFinal, " "))
	e.pendingFinal = nil
	if text == "" {
		return
	}
	e.conv.addTurn(providers.RoleUser, text)
	e.conv.addMessage(providers.Message{Role: providers.RoleUser, Content: text})
	e.saveTurn(e.conv.Turns[len(e.conv.Turns)-1])
	e.userTurns++
	e.beginThinking()
}

// beginThinking enters THINKING and launches one generation against the
// current message history.
func (e *Engine) beginThinking() {
	e.setState(StateThinking)
	e.spokenText = ""
	e.playing = false
	e.pendingReply = nil

	turnCtx, cancel := context.WithCancel(e.ctx)
	e.turnCancel = cancel
	msgs := e.conv.messagesSnapshot()
	schemas := e.functions.Schemas()
	go e.generateReply(turnCtx, e.playGen, msgs, schemas)
}

// generateReply consumes the model stream, dispatching synthesis for an
// early first segment so playback starts before the stream completes, then
// for the remainder once the stream ends.
func (e *Engine) generateReply(ctx context.Context, gen int, msgs []providers.Message, schemas []providers.FunctionSchema) {
	started := time.Now()
	ch, err := e.llm.Stream(ctx, e.cfg.LLMModel, msgs, schemas)
	if err != nil {
		e.post(event{kind: evReplyDone, gen: gen, reply: &replyResult{err: err, startedAt: started}})
		return
	}

	var (
		text   strings.Builder
		call   *providers.FunctionCall
		usage  *providers.Usage
		spoken int
	)
	for chunk := range ch {
		if chunk.TextDelta != "" {
			text.WriteString(chunk.TextDelta)
			if spoken == 0 && text.Len() >= e.minSpeakChars {
				seg := text.String()
				spoken = len(seg)
				e.synthesize(ctx, gen, seg)
			}
		}
		if chunk.FunctionCall != nil {
			call = chunk.FunctionCall
		}
		if chunk.Done {
			usage = chunk.Usage
			if chunk.FunctionCall != nil {
				call = chunk.FunctionCall
			}
			if chunk.Err != nil {
				e.post(event{kind: evReplyDone, gen: gen, reply: &replyResult{err: chunk.Err, startedAt: started}})
				return
			}
		}
	}
	if ctx.Err() != nil {
		return
	}

	full := text.String()
	if rest := strings.TrimSpace(full[spoken:]); rest != "" {
		e.synthesize(ctx, gen, rest)
	}
	e.post(event{kind: evReplyDone, gen: gen, reply: &replyResult{
		text:      full,
		call:      call,
		usage:     usage,
		startedAt: started,
	}})
}

// synthesize runs inline so segments post in order.
func (e *Engine) synthesize(ctx context.Context, gen int, text string) {
	pcm, err := e.tts.Synthesize(ctx, providers.TTSRequest{
		Text:       text,
		Voice:      e.cfg.VoiceID,
		SampleRate: e.sampleRate,
		Format:     "pcm16",
	})
	if ctx.Err() != nil {
		return
	}
	e.post(event{kind: evSegment, gen: gen, seg: text, pcm: pcm, segErr: err})
}

func (e *Engine) handleSegment(evt event) {
	if evt.gen != e.playGen {
		return
	}
	state := e.current()
	if state != StateGreeting && state != StateThinking && state != StateSpeaking {
		return
	}

	var dur time.Duration
	if evt.segErr != nil {
		e.providerError("tts", evt.segErr)
	} else if len(evt.pcm) > 0 {
		if err := e.transport.SendAudio(evt.pcm); err != nil {
			e.log.Warn("playback write failed", zap.Error(err))
			e.shutdown(OutcomeHangup)
			return
		}
		dur = audio.PCMDuration(len(evt.pcm), e.sampleRate)
	}
	if dur == 0 && evt.segErr == nil {
		// Non-PCM or empty buffer: pace playback by text length instead.
		dur = time.Duration(len(evt.seg)) * time.Second / time.Duration(e.charsPerSecond)
	}

	if state == StateThinking {
		e.setState(StateSpeaking)
	}
	e.barge.SetAISpeaking(true)
	e.playing = true
	if evt.segErr == nil {
		// Only playback that actually reached the caller counts as spoken;
		// a barged-in turn must not record text the caller never heard.
		e.spokenText = strings.TrimSpace(e.spokenText + " " + evt.seg)
	}

	now := time.Now()
	if e.speakUntil.Before(now) {
		e.speakUntil = now
	}
	e.speakUntil = e.speakUntil.Add(dur)
	gen := e.playGen
	time.AfterFunc(time.Until(e.speakUntil), func() {
		e.post(event{kind: evSpeakingDone, gen: gen})
	})
}

func (e *Engine) handleSpeakingDone(gen int) {
	if gen != e.playGen || !e.playing {
		return
	}
	// A longer timer is still outstanding when more audio was queued after
	// this one was scheduled.
	if time.Until(e.speakUntil) > 10*time.Millisecond {
		return
	}
	e.playing = false
	e.barge.SetAISpeaking(false)

	switch e.current() {
	case StateGreeting:
		e.toListening()
	case StateSpeaking:
		if e.pendingReply != nil {
			r := e.pendingReply
			e.pendingReply = nil
			e.finalizeReply(r)
		}
		// Otherwise the stream is still running; stay in SPEAKING until
		// evReplyDone arrives.
	}
}

func (e *Engine) handleReplyDone(gen int, r *replyResult) {
	if gen != e.playGen || r == nil {
		return
	}
	if r.err != nil {
		if e.ctx.Err() == nil {
			e.providerError("llm", r.err)
			e.toListening()
		}
		return
	}
	if e.playing {
		e.pendingReply = r
		return
	}
	e.finalizeReply(r)
}

// finalizeReply records the completed assistant turn and either dispatches
// a requested function or hands the floor back to the caller.
func (e *Engine) finalizeReply(r *replyResult) {
	latency := time.Since(r.startedAt)
	if strings.TrimSpace(r.text) != "" {
		turn := e.conv.addTurn(providers.RoleAssistant, r.text)
		turn.LatencyMs = latency.Milliseconds()
		e.saveTurn(*turn)
		e.publish(monitor.AssistantText(e.CallID(), r.text))
	}
	e.conv.addMessage(providers.Message{
		Role:         providers.RoleAssistant,
		Content:      r.text,
		FunctionCall: r.call,
	})
	if r.usage != nil {
		e.conv.TotalTokens += r.usage.TotalTokens
	} else {
		e.conv.TotalTokens += providers.EstimateTokens(r.text)
	}
	if e.metrics != nil {
		e.metrics.ObserveTurnLatency(latency)
	}

	if r.call != nil {
		e.dispatchFunction(r.call)
		return
	}
	e.afterAssistantTurn()
}

// afterAssistantTurn enforces turn and duration limits before returning the
// floor to the caller.
func (e *Engine) afterAssistantTurn() {
	if e.cfg.MaxTurns > 0 && e.userTurns >= e.cfg.MaxTurns {
		e.shutdown(OutcomeMaxTurns)
		return
	}
	if d := e.cfg.MaxCallDuration.Std(); d > 0 && time.Since(e.startedAt) >= d {
		e.shutdown(OutcomeMaxDuration)
		return
	}
	e.toListening()
}

func (e *Engine) toListening() {
	e.vad.Reset()
	e.barge.SetAISpeaking(false)
	e.playing = false
	e.setState(StateListening)
}

// handleBargeIn cancels playback immediately: the generation counter
// invalidates queued segments and timers, and any in-flight model stream is
// abandoned.
func (e *Engine) handleBargeIn() {
	e.playGen++
	e.speakUntil = time.Time{}
	wasSpeaking := e.current() == StateSpeaking
	spoken := e.spokenText
	e.pendingReply = nil
	if e.turnCancel != nil {
		e.turnCancel()
		e.turnCancel = nil
	}
	if e.metrics != nil {
		e.metrics.BargeIns.Inc()
	}
	e.publish(monitor.BargeIn(e.CallID()))
	e.log.Debug("barge-in")

	if wasSpeaking && strings.TrimSpace(spoken) != "" {
		turn := e.conv.addTurn(providers.RoleAssistant, spoken)
		turn.BargedIn = true
		e.saveTurn(*turn)
		e.conv.addMessage(providers.Message{Role: providers.RoleAssistant, Content: spoken})
	}
	if wasSpeaking {
		e.afterAssistantTurn()
		return
	}
	e.toListening()
}

func (e *Engine) dispatchFunction(call *providers.FunctionCall) {
	e.setState(StateFunctionCall)
	e.publish(monitor.FunctionCall(e.CallID(), call.Name))

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			e.log.Warn("bad function arguments", zap.String("function", call.Name), zap.Error(err))
		}
	}

	var res FunctionResult
	fn, ok := e.functions.Get(call.Name)
	if !ok {
		e.log.Warn("unknown function requested", zap.String("function", call.Name))
		res = FunctionResult{Success: false, Result: "unknown function " + call.Name, Action: ActionContinue}
	} else {
		res = fn.Handler(e.ctx, args, e.conv)
	}

	turn := e.conv.addTurn(providers.RoleFunction, res.Result)
	turn.Function = call.Name
	turn.Arguments = call.Arguments
	turn.Result = res.Result
	e.saveTurn(*turn)
	e.conv.addMessage(providers.Message{
		Role:    providers.RoleFunction,
		Name:    call.Name,
		Content: res.Result,
	})

	switch res.Action {
	case ActionEnd:
		outcome := res.Result
		if outcome == "" {
			outcome = OutcomeCompleted
		}
		e.shutdown(outcome)
	case ActionTransfer:
		e.setState(StateTransferring)
		e.log.Info("transferring call", zap.String("target", res.Target))
		e.shutdown(OutcomeTransferred)
	default:
		e.beginThinking()
	}
}

// providerError reports a mid-call provider failure without ending the
// call.
func (e *Engine) providerError(provider string, err error) {
	if err == nil || e.ctx.Err() != nil {
		return
	}
	e.log.Warn("provider error",
		zap.String("provider", provider),
		zap.Bool("retryable", reliability.IsRetryable(err)),
		zap.Error(err),
	)
	if e.metrics != nil {
		e.metrics.ProviderErrors.WithLabelValues(provider, reliability.Label(err)).Inc()
	}
}

func (e *Engine) saveTurn(t Turn) {
	rec := store.TurnRecord{
		CallID:    e.callID,
		Seq:       t.Seq,
		Role:      t.Role,
		Content:   t.Content,
		Function:  t.Function,
		BargedIn:  t.BargedIn,
		LatencyMs: t.LatencyMs,
		CreatedAt: t.CreatedAt,
	}
	if err := e.st.SaveTurn(e.ctx, rec); err != nil {
		e.storeFailure("save turn", err)
	}
}

func (e *Engine) storeFailure(op string, err error) {
	if e.ctx != nil && e.ctx.Err() != nil {
		return
	}
	e.log.Warn("store write failed", zap.String("op", op), zap.Error(err))
	if e.metrics != nil {
		e.metrics.StoreFailures.Inc()
	}
}

// shutdown runs the ENDING teardown and moves to ENDED. Idempotent: once
// ended, further triggers are ignored.
func (e *Engine) shutdown(outcome string) {
	if e.current() == StateEnded {
		return
	}
	if outcome == "" {
		outcome = OutcomeCompleted
	}
	e.setState(StateEnding)

	if e.deadlineTimer != nil {
		e.deadlineTimer.Stop()
	}
	if e.turnCancel != nil {
		e.turnCancel()
		e.turnCancel = nil
	}
	if e.sttStream != nil {
		if err := e.sttStream.Close(); err != nil {
			e.log.Debug("transcript stream close", zap.Error(err))
		}
		e.sttStream = nil
	}
	e.cancel()
	if err := e.transport.Close(); err != nil {
		e.log.Debug("transport close", zap.Error(err))
	}

	e.conv.EndedAt = time.Now().UTC()
	e.conv.Outcome = outcome

	persistCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.st.EndConversation(persistCtx, e.callID, outcome, e.conv.EndedAt, len(e.conv.Turns), e.conv.TotalTokens); err != nil {
		e.log.Warn("store write failed", zap.String("op", "end conversation"), zap.Error(err))
		if e.metrics != nil {
			e.metrics.StoreFailures.Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.ActiveCalls.Dec()
		e.metrics.CallOutcomes.WithLabelValues(outcome).Inc()
	}
	e.publish(monitor.CallEnded(e.CallID(), outcome))
	e.log.Info("call ended",
		zap.String("outcome", outcome),
		zap.Int("turns", len(e.conv.Turns)),
		zap.Int("tokens", e.conv.TotalTokens),
	)
	// Publish the terminal state before deregistering: Deregister closes the
	// subscriber channels, and monitors must see "ended" first.
	e.setState(StateEnded)
	if e.reg != nil {
		e.reg.Deregister(e.CallID())
	}
}
