package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// ErrMalformedStep is returned when the oracle's reply is not a usable step.
var ErrMalformedStep = errors.New("malformed oracle step")

// Step is one validated answer from the oracle.  Every field has been
// checked and defaulted; nothing in it is trusted beyond its type.
type Step struct {
	NextQuestion    string
	ExtractedFields map[string]any
	RedFlags        []string
	Finish          bool
	MissingFields   []string
	Rationale       string
}

// fallbackStep is used whenever the oracle fails.  It re-prompts neutrally
// and flags the failure for the clinician.
func fallbackStep() Step {
	return Step{
		NextQuestion:    SafetyReprompt,
		ExtractedFields: map[string]any{},
		RedFlags:        []string{FlagParseError},
	}
}

// ContextMode selects how much transcript the oracle sees.
type ContextMode string

const (
	// ContextSliding sends the last N question/answer pairs.
	ContextSliding ContextMode = "sliding"
	// ContextFull sends the whole transcript.
	ContextFull ContextMode = "full"
)

// windowTranscript applies the context mode on read.  The stored transcript
// is never modified.
func windowTranscript(transcript []pkg.Message, mode ContextMode, pairs int) []pkg.Message {
	if mode == ContextFull || pairs <= 0 {
		return transcript
	}
	if n := 2 * pairs; len(transcript) > n {
		return transcript[len(transcript)-n:]
	}
	return transcript
}

func tail(items []string, n int) []string {
	if n > 0 && len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

// stepRequest carries everything the oracle sees for one step.
type stepRequest struct {
	Profile *Profile
	Asked   []string
	Missing []string
	Window  []pkg.Message
	Answer  string
	// Avoid is set on the single regeneration after a repeated question.
	Avoid string
}

func (r stepRequest) messages() []llm.Message {
	var state strings.Builder
	state.WriteString("Current structured profile (JSON):\n")
	state.WriteString(r.Profile.JSON())
	state.WriteString("\n\nPreviously asked questions:\n")
	if len(r.Asked) == 0 {
		state.WriteString("- (none)\n")
	}
	for _, q := range r.Asked {
		state.WriteString("- " + q + "\n")
	}
	if len(r.Missing) > 0 {
		state.WriteString("\nStill missing: " + strings.Join(r.Missing, ", ") + "\n")
	}

	msgs := make([]llm.Message, 0, len(r.Window)+4)
	msgs = append(msgs,
		llm.Message{Role: "system", Content: SystemPrompt},
		llm.Message{Role: "system", Content: state.String()},
	)
	for _, m := range r.Window {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: r.Answer})
	if r.Avoid != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: fmt.Sprintf(AvoidRepeatInstruction, r.Avoid)})
	}
	return msgs
}

// parseStep validates a raw oracle reply.  Individual fields with the wrong
// shape are defaulted; the reply as a whole is rejected only when it is not
// a JSON object or proposes neither a question nor a finish.
func parseStep(raw string) (Step, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return Step{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedStep)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrMalformedStep, err)
	}

	var step Step
	_ = json.Unmarshal(fields["next_question"], &step.NextQuestion)
	step.NextQuestion = strings.TrimSpace(step.NextQuestion)
	_ = json.Unmarshal(fields["rationale"], &step.Rationale)
	step.ExtractedFields = ParseFragment(fields["extracted_fields"])
	step.RedFlags = decodeStringList(fields["red_flags"])
	step.MissingFields = decodeStringList(fields["missing_fields"])

	var finish any
	if err := json.Unmarshal(fields["finish"], &finish); err == nil {
		step.Finish, _ = flagValue(finish)
	}

	if step.NextQuestion == "" && !step.Finish {
		return Step{}, fmt.Errorf("%w: missing next_question", ErrMalformedStep)
	}
	return step, nil
}

func decodeStringList(raw json.RawMessage) []string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	list, _ := stringList(v)
	return list
}

// extractJSONObject strips code fences and surrounding prose from a reply.
func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
