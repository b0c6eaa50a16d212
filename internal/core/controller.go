package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// ControllerOptions tunes the interview loop.
type ControllerOptions struct {
	Policy         CompletionPolicy
	ContextMode    ContextMode
	ContextTurns   int // question/answer pairs kept in sliding mode
	AskedTail      int // previously asked questions shown to the oracle
	OracleTimeout  time.Duration
	SummaryTimeout time.Duration
	HandoffTimeout time.Duration
	SummaryTurns   int
}

// DefaultControllerOptions returns the settings used when nothing is
// configured.
func DefaultControllerOptions() ControllerOptions {
	return ControllerOptions{
		Policy:         DefaultCompletionPolicy(),
		ContextMode:    ContextSliding,
		ContextTurns:   6,
		AskedTail:      12,
		OracleTimeout:  30 * time.Second,
		SummaryTimeout: 60 * time.Second,
		HandoffTimeout: 30 * time.Second,
		SummaryTurns:   DefaultSummaryTurns,
	}
}

// TurnResult is what the patient sees after a turn.
type TurnResult struct {
	Reply    string
	Complete bool
}

// Controller runs interviews.  It holds no per-session state, so one
// controller serves every session.
type Controller struct {
	llm        llm.Client
	summarizer *Summarizer
	handoff    Handoff
	opts       ControllerOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewController wires the oracle client, the persistence handoff and the
// options together.  handoff may be nil, in which case finished intakes are
// only kept on the session.
func NewController(client llm.Client, handoff Handoff, opts ControllerOptions, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		llm:        client,
		summarizer: NewSummarizer(client, opts.SummaryTurns),
		handoff:    handoff,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Start opens a fresh session for the given destination inbox.  The greeting
// is already in its transcript.
func (c *Controller) Start(destination string) *Session {
	now := c.now()
	s := &Session{
		ID:          uuid.NewString(),
		Destination: destination,
		CreatedAt:   now,
		st:          newSessionState(now),
	}
	s.touch(now)
	c.logger.Info("session started", "session_id", s.ID, "destination", destination)
	return s
}

// Turn processes one patient answer and returns either the next question or
// the completion message.  Oracle failures never surface as errors: the
// patient gets a neutral re-prompt and the failure is flagged for the
// clinician.
func (c *Controller) Turn(ctx context.Context, s *Session, answer string) (TurnResult, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return TurnResult{}, ErrEmptyAnswer
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(c.now())
	st := s.st
	if st.State == StateTerminal {
		return TurnResult{Reply: ClosedMessage, Complete: true}, ErrSessionComplete
	}

	req := stepRequest{
		Profile: st.Profile,
		Asked:   tail(st.Asked, c.opts.AskedTail),
		Missing: c.opts.Policy.Missing(st.Profile),
		Window:  windowTranscript(st.Transcript, c.opts.ContextMode, c.opts.ContextTurns),
		Answer:  answer,
	}
	st.Transcript = append(st.Transcript, pkg.Message{Role: pkg.RoleUser, Content: answer, CreatedAt: c.now()})

	st.State = StateOracleCalled
	step, err := c.nextStep(ctx, req)
	oracleFailed := err != nil
	if oracleFailed {
		c.logger.Warn("oracle step failed, using fallback", "session_id", s.ID, "error", err)
		step = fallbackStep()
	}

	st.State = StateMerged
	c.apply(s.ID, st, step)

	if !oracleFailed && c.opts.Policy.ShouldFinish(st.Profile, st.TurnsAsked, c.opts.Policy.DeclaresFinish(step)) {
		c.finish(ctx, s, st)
		return TurnResult{Reply: CompletionMessage, Complete: true}, nil
	}

	req.Missing = c.opts.Policy.Missing(st.Profile)
	question := c.guard(ctx, s.ID, st, req, step.NextQuestion)

	st.Asked = append(st.Asked, question)
	st.TurnsAsked++
	st.Transcript = append(st.Transcript, pkg.Message{Role: pkg.RoleAssistant, Content: question, CreatedAt: c.now()})
	st.State = StateAwaitingInput
	return TurnResult{Reply: question}, nil
}

// nextStep calls the oracle with a bounded wait and validates the reply.
func (c *Controller) nextStep(ctx context.Context, req stepRequest) (Step, error) {
	ctx, cancel := withOptionalTimeout(ctx, c.opts.OracleTimeout)
	defer cancel()
	raw, err := c.llm.Chat(ctx, req.messages())
	if err != nil {
		return Step{}, fmt.Errorf("oracle call: %w", err)
	}
	return parseStep(raw)
}

// apply merges the step's extraction and red flags into the session profile.
func (c *Controller) apply(sessionID string, st *sessionState, step Step) {
	if malformed := st.Profile.Merge(step.ExtractedFields); len(malformed) > 0 {
		c.logger.Warn("ignored malformed extraction fields", "session_id", sessionID, "fields", malformed)
	}
	st.Profile.RedFlags = RecordRedFlags(st.Profile.RedFlags, step.RedFlags)
	c.logger.Debug("oracle step merged",
		"session_id", sessionID,
		"oracle_missing", step.MissingFields,
		"finish", step.Finish,
		"rationale", step.Rationale,
	)
}

// guard replaces a question that repeats the last one.  The oracle gets a
// single retry with an explicit avoid instruction; if that fails or repeats
// again the neutral continuation is used.
func (c *Controller) guard(ctx context.Context, sessionID string, st *sessionState, req stepRequest, proposed string) string {
	last := ""
	if n := len(st.Asked); n > 0 {
		last = st.Asked[n-1]
	}
	if !IsRepeat(proposed, last) {
		return proposed
	}

	c.logger.Info("oracle repeated the last question, regenerating", "session_id", sessionID)
	req.Avoid = proposed
	step, err := c.nextStep(ctx, req)
	if err != nil {
		c.logger.Warn("regeneration failed, using neutral continuation", "session_id", sessionID, "error", err)
		return NeutralContinuation
	}
	c.apply(sessionID, st, step)
	if step.NextQuestion == "" || IsRepeat(step.NextQuestion, last) {
		c.logger.Warn("regeneration repeated the question, using neutral continuation", "session_id", sessionID)
		return NeutralContinuation
	}
	return step.NextQuestion
}

// finish moves the session to its terminal state, summarises the frozen
// profile and hands the record to persistence.  The summary and the handoff
// run detached from the caller's cancellation: once the session is terminal
// the record must still reach the clinician if the patient disconnects.
func (c *Controller) finish(ctx context.Context, s *Session, st *sessionState) {
	st.State = StateTerminal
	frozen := st.Profile.Clone()
	base := context.WithoutCancel(ctx)

	sumCtx, cancelSum := withOptionalTimeout(base, c.opts.SummaryTimeout)
	defer cancelSum()
	summary, err := c.summarizer.Summarize(sumCtx, frozen, st.Transcript)
	if err != nil {
		c.logger.Warn("summary generation failed", "session_id", s.ID, "error", err)
	}
	st.Summary = summary
	st.SummaryAvailable = err == nil

	now := c.now()
	st.Transcript = append(st.Transcript, pkg.Message{Role: pkg.RoleAssistant, Content: CompletionMessage, CreatedAt: now})
	rec := IntakeRecord{
		ID:               uuid.NewString(),
		SessionID:        s.ID,
		Destination:      s.Destination,
		Profile:          frozen,
		Summary:          st.Summary,
		SummaryAvailable: st.SummaryAvailable,
		Transcript:       append([]pkg.Message(nil), st.Transcript...),
		TurnsAsked:       st.TurnsAsked,
		CompletedAt:      now,
	}
	st.Record = &rec

	c.logger.Info("intake complete",
		"session_id", s.ID,
		"turns_asked", st.TurnsAsked,
		"red_flags", len(frozen.RedFlags),
		"summary_available", st.SummaryAvailable,
	)
	if c.handoff == nil {
		return
	}
	deliverCtx, cancelDeliver := withOptionalTimeout(base, c.opts.HandoffTimeout)
	defer cancelDeliver()
	if err := c.handoff.Deliver(deliverCtx, rec); err != nil {
		c.logger.Error("intake handoff failed", "session_id", s.ID, "intake_id", rec.ID, "error", err)
		return
	}
	st.Delivered = true
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
