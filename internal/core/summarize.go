package core

import (
	"context"
	"errors"
	"strings"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// DefaultSummaryTurns bounds how much of the transcript reaches the summary
// oracle.
const DefaultSummaryTurns = 40

// Summarizer turns a finished profile and transcript into a clinician-facing
// report.  It runs once, after the interview has reached its terminal state.
type Summarizer struct {
	LLM      llm.Client
	MaxTurns int
}

// NewSummarizer constructs a summariser.  maxTurns <= 0 selects
// DefaultSummaryTurns.
func NewSummarizer(client llm.Client, maxTurns int) *Summarizer {
	if maxTurns <= 0 {
		maxTurns = DefaultSummaryTurns
	}
	return &Summarizer{LLM: client, MaxTurns: maxTurns}
}

// Summarize produces the report text.  On failure it returns
// SummaryUnavailable together with the error so the caller can surface the
// placeholder and log the cause.
func (s *Summarizer) Summarize(ctx context.Context, profile *Profile, transcript []pkg.Message) (string, error) {
	prompt := s.prompt(profile, transcript)
	resp, err := s.LLM.Summarize(ctx, SummarizationInstruction, prompt)
	if err != nil {
		return SummaryUnavailable, err
	}
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return SummaryUnavailable, errors.New("empty summary")
	}
	return resp, nil
}

func (s *Summarizer) prompt(profile *Profile, transcript []pkg.Message) string {
	if len(transcript) > s.MaxTurns {
		transcript = transcript[len(transcript)-s.MaxTurns:]
	}
	var b strings.Builder
	b.WriteString("Structured profile (JSON):\n")
	b.WriteString(profile.JSON())
	b.WriteString("\n\nInterview excerpt:\n")
	for _, m := range transcript {
		if m.Role == pkg.RoleUser {
			b.WriteString("Patient: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	return b.String()
}
