package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoniostano/callbridge/internal/calllog"
	"github.com/antoniostano/callbridge/internal/chat"
	"github.com/antoniostano/callbridge/internal/conversation"
	"github.com/antoniostano/callbridge/internal/observability"
	"github.com/antoniostano/callbridge/internal/policy"
	"github.com/antoniostano/callbridge/internal/protocol"
	"github.com/antoniostano/callbridge/internal/session"
)

var (
	// ErrTransportWrite ends a session: playback or hangup could not reach
	// the call transport.
	ErrTransportWrite = errors.New("transport write failed")

	// ErrMalformedEvent marks transport events that are dropped, such as
	// media before start.
	ErrMalformedEvent = errors.New("malformed transport event")
)

const (
	defaultSendTimeout = 600 * time.Millisecond
	defaultHangupWait  = 10 * time.Second
	callLogSaveTimeout = 2 * time.Second
	registryTouchEvery = 5 * time.Second
)

// Persona is the scripted part of every conversation.
type Persona struct {
	SystemPrompt      string
	OpeningPrompt     string
	FarewellPrompt    string
	UserTurnThreshold int
	// FarewellAtZero makes a zero threshold say goodbye right after the
	// opening instead of never.
	FarewellAtZero bool
}

// Generator produces the next assistant turn from a transcript snapshot.
type Generator interface {
	Generate(ctx context.Context, snapshot []conversation.Turn) (conversation.Turn, error)
}

type Options struct {
	STT         STTProvider
	TTS         TTSProvider
	Generator   Generator
	Calls       CallController
	Persona     Persona
	Speech      SpeechConfig
	Sessions    *session.Manager
	CallLog     calllog.Store
	Metrics     *observability.Metrics
	SendTimeout time.Duration
	HangupWait  time.Duration
}

// Orchestrator runs one call session per media stream connection.
type Orchestrator struct {
	stt         STTProvider
	tts         TTSProvider
	generator   Generator
	calls       CallController
	persona     Persona
	speech      SpeechConfig
	sessions    *session.Manager
	callLog     calllog.Store
	metrics     *observability.Metrics
	sendTimeout time.Duration
	hangupWait  time.Duration
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	switch {
	case opts.STT == nil:
		return nil, errors.New("stt provider is required")
	case opts.TTS == nil:
		return nil, errors.New("tts provider is required")
	case opts.Generator == nil:
		return nil, errors.New("turn generator is required")
	case opts.Calls == nil:
		return nil, errors.New("call controller is required")
	case opts.Metrics == nil:
		return nil, errors.New("metrics are required")
	}
	if opts.Persona.UserTurnThreshold < 0 {
		return nil, fmt.Errorf("user turn threshold must be >= 0, got %d", opts.Persona.UserTurnThreshold)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(0)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.HangupWait <= 0 {
		opts.HangupWait = defaultHangupWait
	}
	return &Orchestrator{
		stt:         opts.STT,
		tts:         opts.TTS,
		generator:   opts.Generator,
		calls:       opts.Calls,
		persona:     opts.Persona,
		speech:      opts.Speech,
		sessions:    opts.Sessions,
		callLog:     opts.CallLog,
		metrics:     opts.Metrics,
		sendTimeout: opts.SendTimeout,
		hangupWait:  opts.HangupWait,
	}, nil
}

type triggerKind string

const (
	triggerOpening       triggerKind = "opening"
	triggerTranscription triggerKind = "transcription"
	triggerFarewell      triggerKind = "farewell"
)

type trigger struct {
	kind       triggerKind
	text       string
	receivedAt time.Time
}

type generationResult struct {
	trigger  trigger
	prompt   conversation.Turn
	turn     conversation.Turn
	err      error
	duration time.Duration
}

type playback struct {
	seq      uint64
	trigger  trigger
	issuedAt time.Time
	sentAt   time.Time
}

// callSession is owned by the RunConnection loop goroutine. No other
// goroutine reads or writes it.
type callSession struct {
	id         string
	streamSID  string
	callSID    string
	accountSID string
	state      session.State
	startedAt  time.Time
	lastTouch  time.Time

	transcript     *conversation.Transcript
	policy         *conversation.TerminationPolicy
	userTurnCount  int
	hangupPending  bool
	farewellLabel  string
	farewellSeq    uint64
	farewellMarked bool

	generating         bool
	farewellInProgress bool
	queue              []trigger
	pending            map[string]*playback
	playbackSeq        uint64

	outcome calllog.Outcome
	log     *slog.Logger
}

// RunConnection drives one media stream until the transport stops, the
// inbound channel closes or ctx ends. Collaborator results are funnelled into
// this goroutine, which is the only writer of session state.
func (o *Orchestrator) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) (retErr error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	call := o.sessions.Create(cancel)
	s := &callSession{
		id:         call.ID,
		state:      session.StateAwaitingStart,
		transcript: conversation.NewTranscript(o.persona.SystemPrompt, o.persona.OpeningPrompt),
		policy:     o.newPolicy(),
		pending:    make(map[string]*playback),
		outcome:    calllog.OutcomeCallerDisconnected,
		log:        logger.With("session_id", call.ID),
	}

	ctx, span := tracer.Start(ctx, "voice.call", trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	sttSession, sttEvents, err := o.stt.StartSession(ctx, s.id)
	if err != nil {
		o.sessions.End(s.id)
		o.metrics.ProviderErrors.WithLabelValues("stt", "connect_failed").Inc()
		return fmt.Errorf("start stt session: %w", err)
	}
	defer sttSession.Close()

	speechResults := make(chan speechResult, 1)
	speech := newSpeechWorker(o.tts, o.speech, speechResults)
	go speech.run(ctx)

	// One generation in flight at most, so a buffer of one never blocks.
	genResults := make(chan generationResult, 1)

	defer func() {
		o.finish(s, span)
		if retErr != nil && errors.Is(retErr, ErrTransportWrite) {
			s.log.Error("session ended by transport failure", "error", retErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			stop, err := o.handleInbound(ctx, s, sttSession, msg)
			if err != nil {
				return o.fail(s, err)
			}
			if stop {
				return nil
			}
		case ev, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				s.log.Warn("transcription stream closed")
				continue
			}
			o.handleSTTEvent(s, ev)
		case res := <-genResults:
			if err := o.handleGeneration(ctx, s, speech, res); err != nil {
				return o.fail(s, err)
			}
		case res := <-speechResults:
			if err := o.handleSpeech(ctx, s, outbound, res); err != nil {
				return o.fail(s, err)
			}
		}
		o.runNext(ctx, s, genResults)
	}
}

func (o *Orchestrator) newPolicy() *conversation.TerminationPolicy {
	if o.persona.FarewellAtZero {
		return conversation.NewCountingTerminationPolicy(o.persona.UserTurnThreshold)
	}
	return conversation.NewTerminationPolicy(o.persona.UserTurnThreshold)
}

func (o *Orchestrator) fail(s *callSession, err error) error {
	if errors.Is(err, ErrTransportWrite) {
		s.outcome = calllog.OutcomeTransportError
		o.metrics.SessionEvents.WithLabelValues("transport_write_failed").Inc()
	}
	return err
}

func (o *Orchestrator) finish(s *callSession, span trace.Span) {
	o.sessions.End(s.id)
	if s.callSID == "" {
		return
	}
	o.metrics.ActiveCalls.Dec()
	span.SetAttributes(
		attribute.String("call.outcome", string(s.outcome)),
		attribute.Int("call.user_turns", s.userTurnCount),
	)
	s.log.Info("call session ended", "outcome", s.outcome, "user_turns", s.userTurnCount, "turns", s.transcript.Len())
	if o.callLog == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), callLogSaveTimeout)
	defer cancel()
	if err := o.callLog.Save(saveCtx, calllog.Record{
		CallSID:   s.callSID,
		StreamSID: s.streamSID,
		UserTurns: s.userTurnCount,
		Outcome:   s.outcome,
		StartedAt: s.startedAt,
		EndedAt:   time.Now().UTC(),
	}); err != nil {
		s.log.Warn("save call outcome failed", "error", err)
	}
}

// handleInbound applies one transport event. stop reports that the transport
// has closed the stream.
func (o *Orchestrator) handleInbound(ctx context.Context, s *callSession, stt STTSession, msg any) (stop bool, err error) {
	switch m := msg.(type) {
	case protocol.Connected:
		s.log.Debug("media stream connected", "protocol", m.Protocol)
	case protocol.Start:
		o.handleStart(s, m)
	case protocol.Media:
		o.handleMedia(ctx, s, stt, m)
	case protocol.Mark:
		return false, o.handleMark(ctx, s, m)
	case protocol.Stop:
		o.metrics.SessionEvents.WithLabelValues("stop").Inc()
		s.log.Info("media stream stopped", "sequence", m.SequenceNumber)
		return true, nil
	case protocol.DTMF:
		s.log.Debug("ignoring dtmf", "digit", m.DTMF.Digit)
	default:
		o.malformed(s, fmt.Sprintf("unexpected inbound %T", msg))
	}
	return false, nil
}

func (o *Orchestrator) malformed(s *callSession, detail string) {
	o.metrics.SessionEvents.WithLabelValues("malformed_event").Inc()
	o.metrics.ObserveIndicator("malformed_event")
	s.log.Warn("dropping transport event", "error", fmt.Errorf("%w: %s", ErrMalformedEvent, detail))
}

func (o *Orchestrator) handleStart(s *callSession, m protocol.Start) {
	if s.state != session.StateAwaitingStart {
		o.metrics.SessionEvents.WithLabelValues("duplicate_start").Inc()
		s.log.Warn("dropping start event", "state", s.state, "stream_sid", m.StreamSid)
		return
	}
	s.streamSID = m.StreamSid
	s.callSID = m.Start.CallSid
	s.accountSID = m.Start.AccountSid
	s.startedAt = time.Now().UTC()
	s.state = session.StateActive
	s.log = s.log.With("call_sid", s.callSID, "stream_sid", s.streamSID)

	if err := o.sessions.Attach(s.id, s.streamSID, s.callSID, s.accountSID); err != nil {
		s.log.Warn("registry attach failed", "error", err)
	}
	o.metrics.ActiveCalls.Inc()
	o.metrics.SessionEvents.WithLabelValues("start").Inc()
	s.log.Info("call started", "tracks", m.Start.Tracks, "encoding", m.Start.MediaFormat.Encoding)

	s.queue = append(s.queue, trigger{kind: triggerOpening, receivedAt: time.Now()})
}

func (o *Orchestrator) handleMedia(ctx context.Context, s *callSession, stt STTSession, m protocol.Media) {
	switch s.state {
	case session.StateAwaitingStart:
		o.malformed(s, "media before start")
		return
	case session.StateTerminated:
		return
	}
	if now := time.Now(); now.Sub(s.lastTouch) >= registryTouchEvery {
		s.lastTouch = now
		_ = o.sessions.Touch(s.id)
	}
	if err := stt.SendAudioChunk(ctx, m.Media.Payload); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("stt", "send_audio").Inc()
		s.log.Debug("forward audio failed", "error", err)
	}
}

func (o *Orchestrator) handleSTTEvent(s *callSession, ev STTEvent) {
	switch ev.Type {
	case STTEventPartial:
		return
	case STTEventError:
		o.metrics.ProviderErrors.WithLabelValues("stt", ev.Code).Inc()
		s.log.Warn("transcription error", "code", ev.Code, "detail", ev.Detail, "retryable", ev.Retryable)
		return
	}

	if s.state == session.StateTerminated || s.state == session.StateAwaitingStart {
		return
	}
	if s.farewellMarked {
		o.metrics.SessionEvents.WithLabelValues("transcription_after_farewell").Inc()
		s.log.Debug("dropping transcription after farewell")
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		o.metrics.SessionEvents.WithLabelValues("empty_transcription").Inc()
		return
	}
	o.metrics.SessionEvents.WithLabelValues("transcription").Inc()
	s.queue = append(s.queue, trigger{kind: triggerTranscription, text: text, receivedAt: time.Now()})
}

// runNext starts the oldest queued trigger when no generation is in flight.
func (o *Orchestrator) runNext(ctx context.Context, s *callSession, results chan<- generationResult) {
	if s.generating || len(s.queue) == 0 || s.state == session.StateTerminated {
		return
	}
	t := s.queue[0]
	s.queue = s.queue[1:]

	snapshot := s.transcript.Snapshot()
	var prompt conversation.Turn
	switch t.kind {
	case triggerTranscription:
		redacted, _ := policy.RedactPII(t.text)
		s.log.Info("caller said", "text", redacted)
		s.transcript.Append(conversation.Turn{Role: conversation.RoleUser, Content: t.text})
		s.userTurnCount++
		if err := o.sessions.SetUserTurns(s.id, s.userTurnCount); err != nil {
			s.log.Debug("registry update failed", "error", err)
		}
		snapshot = s.transcript.Snapshot()
	case triggerFarewell:
		// The farewell prompt joins the transcript only with its reply.
		prompt = conversation.Turn{Role: conversation.RoleUser, Content: o.persona.FarewellPrompt}
		snapshot = append(snapshot, prompt)
	}

	s.generating = true
	// Generation outlives the transport: its result is dropped when the
	// loop has already returned.
	genCtx := context.WithoutCancel(ctx)
	go func() {
		started := time.Now()
		turn, err := o.generator.Generate(genCtx, snapshot)
		results <- generationResult{trigger: t, prompt: prompt, turn: turn, err: err, duration: time.Since(started)}
	}()
}

// handleGeneration applies a finished generation. A reply that completes
// while the hangup waits on it is still played.
func (o *Orchestrator) handleGeneration(ctx context.Context, s *callSession, speech *speechWorker, res generationResult) error {
	s.generating = false
	if res.err == nil {
		o.metrics.ObserveGeneration(res.duration)
	}
	if s.state == session.StateTerminated {
		return nil
	}

	if res.err != nil {
		code := "generation_failed"
		if errors.Is(res.err, chat.ErrInvalidTranscript) {
			code = "invalid_transcript"
		}
		o.metrics.ProviderErrors.WithLabelValues("chat", code).Inc()
		o.metrics.SessionEvents.WithLabelValues("generation_failed").Inc()
		o.metrics.ObserveIndicator("generation_failed")
		s.log.Error("turn generation failed", "trigger", res.trigger.kind, "error", res.err)
		if res.trigger.kind == triggerFarewell {
			s.farewellInProgress = false
		}
		return o.hangupIfIdle(ctx, s)
	}

	if res.trigger.kind == triggerFarewell {
		s.transcript.Append(res.prompt)
		s.transcript.Append(res.turn)
		s.policy.MarkFarewellAppended()
		s.farewellInProgress = false
		label := o.issuePlayback(s, speech, res.trigger, res.turn.Content)
		s.hangupPending = true
		s.farewellLabel = label
		s.farewellSeq = s.pending[label].seq
		s.state = session.StateAwaitingFarewell
		if err := o.sessions.SetState(s.id, s.state); err != nil {
			s.log.Debug("registry update failed", "error", err)
		}
		o.metrics.SessionEvents.WithLabelValues("farewell").Inc()
		s.log.Info("farewell issued", "label", label)
		return nil
	}

	s.transcript.Append(res.turn)
	o.issuePlayback(s, speech, res.trigger, res.turn.Content)
	return nil
}

// issuePlayback registers a fresh label and hands the text to the speech
// worker. The label is pending until its mark returns.
func (o *Orchestrator) issuePlayback(s *callSession, speech *speechWorker, t trigger, text string) string {
	label := uuid.NewString()
	s.playbackSeq++
	s.pending[label] = &playback{seq: s.playbackSeq, trigger: t, issuedAt: time.Now()}
	speech.enqueue(label, text)
	return label
}

func (o *Orchestrator) handleSpeech(ctx context.Context, s *callSession, outbound chan<- any, res speechResult) error {
	pb, ok := s.pending[res.label]
	if !ok || s.state == session.StateTerminated {
		s.log.Debug("dropping speech for unknown label", "label", res.label)
		return nil
	}
	if res.err != nil {
		delete(s.pending, res.label)
		o.metrics.ProviderErrors.WithLabelValues("tts", "synthesis_failed").Inc()
		s.log.Error("speech synthesis failed", "label", res.label, "error", res.err)
		if s.hangupPending && res.label == s.farewellLabel {
			// No farewell audio will ever be marked.
			o.farewellPlayed(s)
		}
		return o.hangupIfIdle(ctx, s)
	}
	o.metrics.ObserveSynthesis(res.elapsed)

	if err := o.send(ctx, outbound, protocol.NewOutboundMedia(s.streamSID, res.audio)); err != nil {
		return err
	}
	if err := o.send(ctx, outbound, protocol.NewOutboundMark(s.streamSID, res.label)); err != nil {
		return err
	}
	pb.sentAt = time.Now()
	if pb.trigger.kind == triggerTranscription {
		o.metrics.ObserveTranscriptToPlayback(pb.sentAt.Sub(pb.trigger.receivedAt))
	}
	return nil
}

func (o *Orchestrator) handleMark(ctx context.Context, s *callSession, m protocol.Mark) error {
	switch s.state {
	case session.StateAwaitingStart:
		o.malformed(s, "mark before start")
		return nil
	case session.StateTerminated:
		return nil
	}

	label := m.Mark.Name
	pb, ok := s.pending[label]
	if !ok {
		o.metrics.SessionEvents.WithLabelValues("unknown_mark").Inc()
		o.metrics.ObserveIndicator("unknown_mark")
		s.log.Debug("ignoring mark for unknown label", "label", label)
		return nil
	}
	delete(s.pending, label)
	if !pb.sentAt.IsZero() {
		o.metrics.ObservePlaybackRoundTrip(time.Since(pb.sentAt))
	}

	if s.hangupPending {
		if label == s.farewellLabel {
			o.farewellPlayed(s)
		}
		return o.hangupIfIdle(ctx, s)
	}

	if s.farewellInProgress || !s.policy.ShouldAppendFarewell(s.userTurnCount) {
		return nil
	}
	s.farewellInProgress = true
	s.queue = append(s.queue, trigger{kind: triggerFarewell, receivedAt: time.Now()})
	return nil
}

// farewellPlayed latches the end of the farewell and stops taking new
// turns. Marks return in playback order, so labels issued before the
// farewell that are still pending will never be marked.
func (o *Orchestrator) farewellPlayed(s *callSession) {
	s.farewellMarked = true
	s.queue = nil
	for label, pb := range s.pending {
		if pb.seq < s.farewellSeq {
			delete(s.pending, label)
		}
	}
	if s.generating || len(s.pending) > 0 {
		o.metrics.SessionEvents.WithLabelValues("hangup_deferred").Inc()
		o.metrics.ObserveIndicator("hangup_deferred")
		s.log.Info("hangup waits for in-flight reply", "generating", s.generating, "pending", len(s.pending))
	}
}

// hangupIfIdle ends the call once the farewell has played and no reply is
// still being generated or played.
func (o *Orchestrator) hangupIfIdle(ctx context.Context, s *callSession) error {
	if !s.farewellMarked || s.state == session.StateTerminated || !s.policy.ShouldHangupNow(s.hangupPending) {
		return nil
	}
	if s.generating || len(s.pending) > 0 {
		return nil
	}
	return o.hangup(ctx, s)
}

func (o *Orchestrator) hangup(ctx context.Context, s *callSession) error {
	hangupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.hangupWait)
	defer cancel()
	if err := o.calls.Hangup(hangupCtx, s.callSID); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("telephony", "hangup_failed").Inc()
		return fmt.Errorf("%w: hangup call %s: %w", ErrTransportWrite, s.callSID, err)
	}
	s.state = session.StateTerminated
	s.outcome = calllog.OutcomeHangup
	s.queue = nil
	if err := o.sessions.SetState(s.id, s.state); err != nil {
		s.log.Debug("registry update failed", "error", err)
	}
	o.metrics.SessionEvents.WithLabelValues("hangup").Inc()
	s.log.Info("call hung up")
	return nil
}

// send delivers one playback message to the transport writer. Playback
// messages are never dropped; a full queue past the timeout ends the session.
func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) error {
	msgType := protocol.MessageEvent(msg)
	timer := time.NewTimer(o.sendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		o.metrics.ObserveOutboundMessage(msgType, "delivered")
		return nil
	case <-timer.C:
		o.metrics.ObserveOutboundMessage(msgType, "timeout")
		return fmt.Errorf("%w: send %s: timed out after %s", ErrTransportWrite, msgType, o.sendTimeout)
	case <-ctx.Done():
		o.metrics.ObserveOutboundMessage(msgType, "cancelled")
		return fmt.Errorf("%w: send %s: %w", ErrTransportWrite, msgType, ctx.Err())
	}
}
