package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/db"
	"waitroom-intake/internal/llm"
	"waitroom-intake/internal/report"
	"waitroom-intake/pkg"
)

// scriptedLLM returns canned oracle replies in order, repeating the last.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (s *scriptedLLM) Chat(ctx context.Context, _ []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if len(s.replies) == 0 {
		return "", errors.New("no reply")
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func (s *scriptedLLM) Summarize(ctx context.Context, _, _ string) (string, error) {
	return "CHIEF COMPLAINT: cough", nil
}

const (
	askAge   = `{"next_question":"How old are you?","extracted_fields":{"chief_complaint":"cough"},"red_flags":["hemoptysis"],"rationale":"secret reasoning"}`
	finishUp = `{"next_question":"Anything else?","extracted_fields":{"demographics":{"age":40},"past_medical_history":"none","family_history":"none","social_history":"non-smoker","red_flags_checked":true}}`
)

type testEnv struct {
	server *Server
	inbox  *db.MemoryInbox
	router http.Handler
}

func newTestEnv(t *testing.T, replies ...string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inbox := db.NewMemoryInbox()
	opts := core.DefaultControllerOptions()
	opts.OracleTimeout = time.Second
	controller := core.NewController(&scriptedLLM{replies: replies}, inbox, opts, logger)
	srv := NewServer(controller, core.NewSessions(), inbox, report.NewRenderer(""), logger)
	return &testEnv{server: srv, inbox: inbox, router: NewRouter(srv, []string{"*"})}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", "application/json", `{"destination":"dr-lee"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp pkg.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID == "" || resp.Reply != core.FirstMessage {
		t.Fatalf("create session response = %+v", resp)
	}
	return resp.SessionID
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) pkg.ChatResponse {
	t.Helper()
	var resp pkg.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return resp
}

func TestCreateSession_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing destination", `{}`},
		{"blank destination", `{"destination":"   "}`},
		{"too long", `{"destination":"` + strings.Repeat("x", 200) + `"}`},
		{"not json", `destination=dr-lee`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/sessions", "application/json", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPostMessage_JSONAndForm(t *testing.T) {
	env := newTestEnv(t, askAge, `{"next_question":"Any allergies?"}`)
	id := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"I have a cough with blood"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decodeChat(t, rec)
	if resp.Reply != "How old are you?" || resp.Complete {
		t.Errorf("response = %+v", resp)
	}
	for _, leak := range []string{"hemoptysis", "secret reasoning", "red_flags"} {
		if strings.Contains(rec.Body.String(), leak) {
			t.Errorf("patient response leaked %q: %s", leak, rec.Body)
		}
	}

	form := url.Values{"content": {"forty"}}.Encode()
	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/x-www-form-urlencoded", form)
	if rec.Code != http.StatusOK || decodeChat(t, rec).Reply != "Any allergies?" {
		t.Errorf("form turn status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestPostMessage_Errors(t *testing.T) {
	env := newTestEnv(t, askAge)
	id := env.createSession(t)

	if rec := env.do(t, http.MethodPost, "/api/sessions/nope/messages", "application/json", `{"content":"hi"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":`); rec.Code != http.StatusBadRequest {
		t.Errorf("broken JSON status = %d, want 400", rec.Code)
	}
}

func TestOracleFailureStaysNeutral(t *testing.T) {
	env := newTestEnv(t, "total garbage")
	id := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeChat(t, rec)
	if resp.Reply != core.SafetyReprompt || resp.Complete {
		t.Errorf("response = %+v", resp)
	}
	if strings.Contains(rec.Body.String(), core.FlagParseError) {
		t.Error("parse_error flag leaked to the patient")
	}
}

func TestCompletionHandoffAndDoctorAPI(t *testing.T) {
	env := newTestEnv(t, askAge, finishUp)
	id := env.createSession(t)

	env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"cough with blood"}`)
	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"40, nothing else"}`)
	resp := decodeChat(t, rec)
	if !resp.Complete || resp.Reply != core.CompletionMessage {
		t.Fatalf("final turn = %+v", resp)
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"wait"}`)
	if rec.Code != http.StatusConflict || decodeChat(t, rec).Reply != core.ClosedMessage {
		t.Errorf("post-terminal turn status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/api/doctor/inbox/dr-lee", "", "")
	var entries []pkg.InboxEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode inbox: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != id || entries[0].ChiefComplaint != "cough" {
		t.Fatalf("inbox = %+v", entries)
	}
	if len(entries[0].RedFlags) != 1 || entries[0].RedFlags[0] != "hemoptysis" {
		t.Errorf("clinician inbox should carry red flags, got %v", entries[0].RedFlags)
	}

	rec = env.do(t, http.MethodGet, "/api/doctor/intakes/"+entries[0].IntakeID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("intake status = %d", rec.Code)
	}
	var full core.IntakeRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &full); err != nil {
		t.Fatalf("decode intake: %v", err)
	}
	if full.Summary != "CHIEF COMPLAINT: cough" || full.Profile.Demographics["age"] != "40" {
		t.Errorf("intake = %+v", full)
	}

	if rec := env.do(t, http.MethodGet, "/api/doctor/intakes/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing intake status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/doctor/intakes/"+entries[0].IntakeID+"/report.pdf", "", "")
	switch rec.Code {
	case http.StatusOK:
		if rec.Header().Get("Content-Type") != "application/pdf" {
			t.Errorf("report content type = %s", rec.Header().Get("Content-Type"))
		}
	case http.StatusServiceUnavailable:
		// no TTF font installed
	default:
		t.Errorf("report status = %d", rec.Code)
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, askAge)
	id := env.createSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "application/json", `{"content":"cough"}`)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	var resp pkg.SessionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.SessionID != id || resp.Reply != core.FirstMessage {
		t.Errorf("reset response = %+v", resp)
	}

	sess, _ := env.server.Sessions.Get(id)
	if snap := sess.Snapshot(); snap.Profile.ChiefComplaint != "" || snap.TurnsAsked != 1 {
		t.Errorf("session not reset: %+v", snap)
	}
	if rec := env.do(t, http.MethodPost, "/api/sessions/missing/reset", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session reset status = %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestInboxStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/doctor/inbox/dr-lee/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %s", ct)
	}

	p := core.NewProfile()
	p.ChiefComplaint = "cough"
	rec := core.IntakeRecord{ID: "intake-1", SessionID: "s-1", Destination: "dr-lee", Profile: p, CompletedAt: time.Now()}
	if err := env.inbox.Deliver(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if event != "intake_ready" {
		t.Fatalf("event = %q, want intake_ready", event)
	}
	var entry pkg.InboxEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if entry.IntakeID != "intake-1" || entry.ChiefComplaint != "cough" {
		t.Errorf("event entry = %+v", entry)
	}
}
