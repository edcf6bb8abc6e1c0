package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/timeworked/timeworked/internal/errors"
	"github.com/timeworked/timeworked/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/start", h.StartSession)
	r.Patch("/stop/{id}", h.StopSession)
	r.Get("/", h.ListSessions)
	r.Get("/{id}", h.GetSession)

	return r
}

type startSessionRequest struct {
	SubjectID string `json:"subjectId"`
	// UserID is accepted for clients written against the older payload.
	UserID string `json:"userId"`
}

type stopSessionRequest struct {
	EndedAt *time.Time `json:"endedAt"`
}

// POST /api/timeworked/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	subjectID := req.SubjectID
	if subjectID == "" {
		subjectID = req.UserID
	}

	session, err := h.sessionService.Start(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// PATCH /api/timeworked/stop/{id}
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req stopSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessionService.Stop(r.Context(), id, req.EndedAt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /api/timeworked?subjectId=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionService.List(r.Context(), r.URL.Query().Get("subjectId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

// GET /api/timeworked/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst unchanged.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return apperrors.ValidationError("Request body too large")
	}
	return apperrors.InvalidInput("body", err.Error())
}
