package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethpandaops/regressoor/pkg/api/store"
	"github.com/ethpandaops/regressoor/pkg/compare"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/trend"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public auth configuration.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"basic_enabled":  s.cfg.Auth.Basic.Enabled,
			"anonymous_read": s.cfg.Auth.AnonymousRead,
		},
		"indexing_enabled": s.indexStore != nil,
	})
}

// --- Auth handlers ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User userResponse `json:"user"`
}

type userResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
	}
}

// handleLogin authenticates a user with username/password and creates
// a session.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	if !checkPassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	token, err := generateSessionToken()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate session token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	ttl := s.cfg.Auth.SessionTTL

	session := &store.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.log.WithError(err).Error("Failed to create session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(ttl.Seconds()),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		User: toUserResponse(user),
	})
}

// handleLogout destroys the current session.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		_ = s.store.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the currently authenticated user.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// --- Run handlers ---

type runSummary struct {
	Label              string    `json:"label"`
	RevisionID         string    `json:"revision_id"`
	RevisionMessage    string    `json:"revision_message,omitempty"`
	ExecutionTimestamp time.Time `json:"execution_timestamp"`
	TotalTests         int       `json:"total_tests"`
	Passed             int       `json:"passed"`
	Failed             int       `json:"failed"`
	Errored            int       `json:"errored"`
	ReliabilityScore   float64   `json:"reliability_score"`
}

func toRunSummary(rec *history.RunRecord) runSummary {
	return runSummary{
		Label:              rec.Label,
		RevisionID:         rec.RevisionID,
		RevisionMessage:    rec.RevisionMessage,
		ExecutionTimestamp: rec.ExecutionTimestamp,
		TotalTests:         rec.TotalTests,
		Passed:             rec.Passed,
		Failed:             rec.Failed,
		Errored:            rec.Errored,
		ReliabilityScore:   rec.ReliabilityScore,
	}
}

// handleListRuns returns summaries of all recorded runs in execution order.
// The index database serves the listing when indexing is enabled; otherwise
// the history file is read directly.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.indexStore != nil {
		runs, err := s.indexStore.ListRuns(r.Context())
		if err != nil {
			s.log.WithError(err).Error("Failed to list indexed runs")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"listing runs"})

			return
		}

		summaries := make([]runSummary, 0, len(runs))
		for i := range runs {
			summaries = append(summaries, runSummary{
				Label:              runs[i].Label,
				RevisionID:         runs[i].RevisionID,
				RevisionMessage:    runs[i].RevisionMessage,
				ExecutionTimestamp: runs[i].ExecutionTimestamp,
				TotalTests:         runs[i].TotalTests,
				Passed:             runs[i].Passed,
				Failed:             runs[i].Failed,
				Errored:            runs[i].Errored,
				ReliabilityScore:   runs[i].ReliabilityScore,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})

		return
	}

	records, err := s.loadHistory()
	if err != nil {
		s.writeHistoryError(w, err)

		return
	}

	summaries := make([]runSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, toRunSummary(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

// handleGetRun returns the full record for a single run label, including
// per-test outcomes and service availability.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")

	if _, err := s.loadHistory(); err != nil {
		s.writeHistoryError(w, err)

		return
	}

	rec, err := s.history.Get(label)
	if err != nil {
		s.writeHistoryError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// --- Compare and trend handlers ---

type compareResponse struct {
	Baseline string          `json:"baseline"`
	Current  string          `json:"current"`
	Result   *compare.Result `json:"result"`
}

// handleCompare compares two recorded runs identified by the baseline
// and current query parameters.
func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	baseline := r.URL.Query().Get("baseline")
	current := r.URL.Query().Get("current")

	if baseline == "" || current == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"baseline and current query parameters are required"})

		return
	}

	if _, err := s.loadHistory(); err != nil {
		s.writeHistoryError(w, err)

		return
	}

	baseRec, err := s.history.Get(baseline)
	if err != nil {
		s.writeHistoryError(w, err)

		return
	}

	curRec, err := s.history.Get(current)
	if err != nil {
		s.writeHistoryError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, compareResponse{
		Baseline: baseline,
		Current:  current,
		Result:   compare.Compare(baseRec, curRec),
	})
}

type trendResponse struct {
	Runs          []trend.SummaryRow `json:"runs"`
	Improving     bool               `json:"improving"`
	ImprovedTests []string           `json:"improved_tests"`
	FirstVsLatest *compare.Result    `json:"first_vs_latest,omitempty"`
}

// handleTrendSummary returns the per-run score summary across the whole
// history plus a first-versus-latest comparison.
func (s *server) handleTrendSummary(w http.ResponseWriter, r *http.Request) {
	records, err := s.loadHistory()
	if err != nil {
		s.writeHistoryError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, trendResponse{
		Runs:          trend.Summary(records),
		Improving:     trend.Improving(records),
		ImprovedTests: trend.ImprovedTests(records),
		FirstVsLatest: trend.FirstVsLatest(records),
	})
}

// loadHistory re-reads the history file and returns its records in
// execution order.
func (s *server) loadHistory() ([]*history.RunRecord, error) {
	if err := s.history.Load(); err != nil {
		return nil, err
	}

	return s.history.Records(), nil
}

// writeHistoryError maps history errors onto HTTP responses. Unknown
// labels include the available labels so clients can self-correct.
func (s *server) writeHistoryError(w http.ResponseWriter, err error) {
	var notFound *history.LabelNotFoundError
	if errors.As(err, &notFound) {
		labels := make([]string, 0, len(notFound.Available))
		for _, l := range notFound.Available {
			labels = append(labels, l.Label)
		}

		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":            "run not found: " + notFound.Label,
			"available_labels": labels,
		})

		return
	}

	var corrupt *history.CorruptHistoryError
	if errors.As(err, &corrupt) {
		s.log.WithError(err).Error("History file is corrupt")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"history file is corrupt"})

		return
	}

	s.log.WithError(err).Error("Failed to read history")
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{"reading history"})
}
