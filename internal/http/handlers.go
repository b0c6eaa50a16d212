package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/db"
	"waitroom-intake/internal/report"
	"waitroom-intake/pkg"
)

const (
	maxBodyBytes      = 64 << 10
	maxDestinationLen = 128
	heartbeatInterval = 25 * time.Second
)

// Inbox is the clinician side of the persistence handoff.  Both
// db.Repository and db.MemoryInbox implement it.
type Inbox interface {
	ListInbox(ctx context.Context, destination string) ([]pkg.InboxEntry, error)
	GetIntake(ctx context.Context, id string) (*core.IntakeRecord, error)
	Subscribe(ctx context.Context, destination string) (<-chan db.Notification, error)
}

// Server bundles together the dependencies required by HTTP handlers.
type Server struct {
	Controller *core.Controller
	Sessions   *core.Sessions
	Inbox      Inbox
	Reports    *report.Renderer
	Logger     *slog.Logger
}

// NewServer constructs a Server.
func NewServer(controller *core.Controller, sessions *core.Sessions, inbox Inbox, reports *report.Renderer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Controller: controller,
		Sessions:   sessions,
		Inbox:      inbox,
		Reports:    reports,
		Logger:     logger,
	}
}

func validateCreateSession(req *pkg.CreateSessionRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Destination, validation.Required, validation.Length(1, maxDestinationLen)),
	)
}

// handleCreateSession starts an interview for the requested inbox and
// returns the greeting.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req pkg.CreateSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Destination = strings.TrimSpace(req.Destination)
	if err := validateCreateSession(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := s.Controller.Start(req.Destination)
	s.Sessions.Add(sess)
	writeJSON(w, http.StatusCreated, pkg.SessionResponse{SessionID: sess.ID, Reply: core.FirstMessage})
}

// handlePostMessage runs one interview turn.  The body is either JSON
// ({"content": "..."}) or a form with a content field.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	content, err := readContent(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.Controller.Turn(r.Context(), sess, content)
	switch {
	case errors.Is(err, core.ErrEmptyAnswer):
		writeError(w, http.StatusBadRequest, "empty message")
	case errors.Is(err, core.ErrSessionComplete):
		writeJSON(w, http.StatusConflict, pkg.ChatResponse{Reply: res.Reply, Complete: true})
	case err != nil:
		s.Logger.Error("turn failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, pkg.ChatResponse{Reply: res.Reply, Complete: res.Complete})
	}
}

// handleReset starts the interview over on the same session.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	greeting := sess.Reset()
	s.Logger.Info("session reset", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, pkg.SessionResponse{SessionID: sess.ID, Reply: greeting})
}

// handleInbox returns the intake previews for one clinician inbox.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Inbox.ListInbox(r.Context(), chi.URLParam(r, "destination"))
	if err != nil {
		s.Logger.Error("list inbox failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleIntake returns the full record of one finished intake.
func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.intake(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReport renders the clinician PDF for an intake.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.intake(w, r)
	if !ok {
		return
	}
	data, err := s.Reports.Render(rec)
	if err != nil {
		s.Logger.Error("report rendering failed", "intake_id", rec.ID, "error", err)
		if errors.Is(err, report.ErrFontUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "report rendering unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="intake_%s.pdf"`, rec.ID))
	_, _ = w.Write(data)
}

// handleInboxStream pushes an intake_ready event for every intake delivered
// to the inbox while the client stays connected.
func (s *Server) handleInboxStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()
	destination := chi.URLParam(r, "destination")
	notes, err := s.Inbox.Subscribe(ctx, destination)
	if err != nil {
		s.Logger.Error("inbox subscribe failed", "destination", destination, "error", err)
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			if err := writeEvent(w, "intake_ready", note.Entry); err != nil {
				s.Logger.Warn("failed to send inbox event", "destination", destination, "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) intake(w http.ResponseWriter, r *http.Request) (*core.IntakeRecord, bool) {
	rec, err := s.Inbox.GetIntake(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrIntakeNotFound) {
		writeError(w, http.StatusNotFound, "intake not found")
		return nil, false
	}
	if err != nil {
		s.Logger.Error("load intake failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return rec, true
}

func readContent(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req pkg.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return req.Content, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errors.New("invalid form")
	}
	return r.FormValue("content"), nil
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
