package simulation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/auth"
	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// Handler provides HTTP handlers for simulation sessions
type Handler struct {
	engine *Engine
}

// NewHandler creates a new simulation handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes registers the simulation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.StartSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/medications/{medicationID}", h.AdjustMedication)
			r.Post("/pause", h.PauseSession)
			r.Post("/resume", h.ResumeSession)
			r.Post("/end", h.EndSession)
			r.Get("/summary", h.GetSummary)
		})
	})

	r.Get("/users/{userID}/summaries", h.ListUserSummaries)

	return r
}

// --- Request/Response types ---

type StartSessionRequest struct {
	ScenarioID types.ID `json:"scenarioId"`
	UserID     types.ID `json:"userId"`
}

type AdjustMedicationRequest struct {
	Dose json.RawMessage `json:"dose"`
}

type EndSessionRequest struct {
	Message string `json:"message,omitempty"`
}

type EndSessionResponse struct {
	State   *State   `json:"state"`
	Summary *Summary `json:"summary"`
}

// --- Handlers ---

// ListSessions returns the sessions the caller may see
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	all := h.engine.ListSessions()
	visible := make([]State, 0, len(all))
	for _, st := range all {
		if user == nil || user.CanActFor(st.UserID) {
			visible = append(visible, st)
		}
	}
	writeData(w, http.StatusOK, visible)
}

// StartSession starts a session. An authenticated trainee always starts
// sessions for themselves.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.BadRequest("invalid request body"))
		return
	}

	if user := auth.GetUser(r.Context()); user != nil {
		if req.UserID.IsZero() || !user.CanActFor(req.UserID) {
			req.UserID = user.ID
		}
	}

	details := map[string]string{}
	if req.ScenarioID.IsZero() {
		details["scenarioId"] = "required"
	}
	if req.UserID.IsZero() {
		details["userId"] = "required"
	}
	if len(details) > 0 {
		writeError(w, r, apperrors.Validation("missing required fields", details))
		return
	}

	state, err := h.engine.Start(r.Context(), req.ScenarioID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, state)
}

// GetSession returns the current state of a session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, ok := h.authorizedState(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, state)
}

// AdjustMedication changes the dose of one medication
func (h *Handler) AdjustMedication(w http.ResponseWriter, r *http.Request) {
	state, ok := h.authorizedState(w, r)
	if !ok {
		return
	}

	var req AdjustMedicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.BadRequest("invalid request body"))
		return
	}
	var dose float64
	if len(req.Dose) == 0 || json.Unmarshal(req.Dose, &dose) != nil {
		writeError(w, r, apperrors.Validation("dose must be a number", map[string]string{"dose": string(req.Dose)}).WithCode(CodeInvalidDose))
		return
	}

	state, err := h.engine.AdjustMedication(r.Context(), state.SessionID, chi.URLParam(r, "medicationID"), dose)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, state)
}

// PauseSession pauses a running session
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	state, ok := h.authorizedState(w, r)
	if !ok {
		return
	}
	state, err := h.engine.Pause(r.Context(), state.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, state)
}

// ResumeSession resumes a paused session
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	state, ok := h.authorizedState(w, r)
	if !ok {
		return
	}
	state, err := h.engine.Resume(r.Context(), state.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, state)
}

// EndSession ends a session on the trainee's request and returns the summary
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	state, ok := h.authorizedState(w, r)
	if !ok {
		return
	}

	var req EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperrors.BadRequest("invalid request body"))
		return
	}

	state, err := h.engine.End(r.Context(), state.SessionID, ReasonUserEnd, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := h.engine.Summary(r.Context(), state.SessionID)
	if err != nil && !apperrors.IsNotFound(err) {
		logger := log.FromContext(r.Context())
		logger.Warn().Err(err).Str("session_id", state.SessionID.String()).Msg("failed to load summary")
	}
	writeData(w, http.StatusOK, EndSessionResponse{State: state, Summary: summary})
}

// GetSummary returns the stored summary of a session
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := types.ID(chi.URLParam(r, "sessionID"))
	summary, err := h.engine.Summary(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user := auth.GetUser(r.Context()); user != nil && !user.CanActFor(summary.UserID) {
		writeError(w, r, apperrors.Forbidden("not allowed to access this summary"))
		return
	}
	writeData(w, http.StatusOK, summary)
}

// ListUserSummaries returns every summary of a user, newest first
func (h *Handler) ListUserSummaries(w http.ResponseWriter, r *http.Request) {
	userID := types.ID(chi.URLParam(r, "userID"))
	if user := auth.GetUser(r.Context()); user != nil && !user.CanActFor(userID) {
		writeError(w, r, apperrors.Forbidden("not allowed to access these summaries"))
		return
	}

	summaries, err := h.engine.UserSummaries(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summaries)
}

// authorizedState loads the session named in the path and checks the caller
// may act on it. On failure the error response has been written.
func (h *Handler) authorizedState(w http.ResponseWriter, r *http.Request) (*State, bool) {
	state, err := h.engine.GetState(types.ID(chi.URLParam(r, "sessionID")))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if user := auth.GetUser(r.Context()); user != nil && !user.CanActFor(state.UserID) {
		writeError(w, r, apperrors.Forbidden("not allowed to access this session"))
		return nil, false
	}
	return state, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusOf(err)
	body := map[string]any{
		"success": false,
		"code":    apperrors.CodeOf(err),
	}

	var appErr *apperrors.AppError
	exposed := status < http.StatusInternalServerError || errors.Is(err, apperrors.ErrUnavailable)
	if errors.As(err, &appErr) && exposed {
		body["error"] = appErr.Message
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
	} else {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body["error"] = "internal server error"
	}

	writeJSON(w, status, body)
}
