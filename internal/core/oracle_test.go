package core

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"waitroom-intake/pkg"
)

func TestParseStep(t *testing.T) {
	raw := "```json\n" + `{
		"next_question": "  How old are you? ",
		"extracted_fields": {"chief_complaint": "cough"},
		"red_flags": ["hemoptysis", 3, ""],
		"finish": false,
		"missing_fields": ["demographics.age"],
		"rationale": "need age"
	}` + "\n```"

	step, err := parseStep(raw)
	if err != nil {
		t.Fatalf("parseStep() error = %v", err)
	}
	if step.NextQuestion != "How old are you?" {
		t.Errorf("NextQuestion = %q", step.NextQuestion)
	}
	if step.ExtractedFields["chief_complaint"] != "cough" {
		t.Errorf("ExtractedFields = %v", step.ExtractedFields)
	}
	if want := []string{"hemoptysis", "3"}; !reflect.DeepEqual(step.RedFlags, want) {
		t.Errorf("RedFlags = %v, want %v", step.RedFlags, want)
	}
	if step.Finish {
		t.Error("Finish = true, want false")
	}
	if !reflect.DeepEqual(step.MissingFields, []string{"demographics.age"}) {
		t.Errorf("MissingFields = %v", step.MissingFields)
	}
	if step.Rationale != "need age" {
		t.Errorf("Rationale = %q", step.Rationale)
	}
}

func TestParseStep_LenientFields(t *testing.T) {
	step, err := parseStep(`{"next_question":"Any allergies?","extracted_fields":"none","red_flags":"chest pain","finish":"yes"}`)
	if err != nil {
		t.Fatalf("parseStep() error = %v", err)
	}
	if len(step.ExtractedFields) != 0 {
		t.Errorf("ExtractedFields = %v, want empty", step.ExtractedFields)
	}
	if !reflect.DeepEqual(step.RedFlags, []string{"chest pain"}) {
		t.Errorf("RedFlags = %v", step.RedFlags)
	}
	if !step.Finish {
		t.Error("Finish should accept \"yes\"")
	}
}

func TestParseStep_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose", "Sure! What brings you in today?"},
		{"broken json", `{"next_question": "Hi"`},
		{"no question and no finish", `{"extracted_fields": {}}`},
		{"non-string question", `{"next_question": 12}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseStep(tt.raw)
			if !errors.Is(err, ErrMalformedStep) {
				t.Errorf("parseStep() error = %v, want ErrMalformedStep", err)
			}
		})
	}
}

func TestParseStep_FinishWithoutQuestion(t *testing.T) {
	step, err := parseStep(`{"finish": true}`)
	if err != nil {
		t.Fatalf("parseStep() error = %v", err)
	}
	if !step.Finish {
		t.Error("Finish = false, want true")
	}
}

func transcriptOf(n int) []pkg.Message {
	out := make([]pkg.Message, n)
	for i := range out {
		out[i] = pkg.Message{Role: pkg.RoleUser, Content: strings.Repeat("x", i+1)}
	}
	return out
}

func TestWindowTranscript(t *testing.T) {
	full := transcriptOf(15)

	if got := windowTranscript(full, ContextFull, 2); len(got) != 15 {
		t.Errorf("full mode len = %d, want 15", len(got))
	}
	got := windowTranscript(full, ContextSliding, 2)
	if len(got) != 4 {
		t.Fatalf("sliding mode len = %d, want 4", len(got))
	}
	if got[0].Content != full[11].Content || got[3].Content != full[14].Content {
		t.Errorf("sliding window is not the tail")
	}
	if got := windowTranscript(full[:3], ContextSliding, 2); len(got) != 3 {
		t.Errorf("short transcript len = %d, want 3", len(got))
	}
}

func TestStepRequestMessages(t *testing.T) {
	p := NewProfile()
	p.ChiefComplaint = "cough"
	req := stepRequest{
		Profile: p,
		Asked:   []string{FirstMessage},
		Missing: []string{"family_history"},
		Window:  []pkg.Message{{Role: pkg.RoleAssistant, Content: FirstMessage}},
		Answer:  "I have a cough",
	}

	msgs := req.messages()
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != SystemPrompt {
		t.Error("first message should be the system prompt")
	}
	if !strings.Contains(msgs[1].Content, `"chief_complaint":"cough"`) {
		t.Errorf("state message missing profile snapshot: %s", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, "Still missing: family_history") {
		t.Errorf("state message missing gaps: %s", msgs[1].Content)
	}
	if msgs[2].Role != "assistant" || msgs[3].Role != "user" || msgs[3].Content != "I have a cough" {
		t.Errorf("unexpected tail: %+v", msgs[2:])
	}

	req.Avoid = "Do you smoke?"
	msgs = req.messages()
	last := msgs[len(msgs)-1]
	if last.Role != "system" || !strings.Contains(last.Content, `"Do you smoke?"`) {
		t.Errorf("avoid instruction missing: %+v", last)
	}
}

func TestIsRepeat(t *testing.T) {
	tests := []struct {
		proposed, last string
		want           bool
	}{
		{"Do you smoke?", "do you smoke?", true},
		{"  Do you smoke?  ", "Do you smoke?", true},
		{"Do you drink?", "Do you smoke?", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := IsRepeat(tt.proposed, tt.last); got != tt.want {
			t.Errorf("IsRepeat(%q, %q) = %v, want %v", tt.proposed, tt.last, got, tt.want)
		}
	}
}
