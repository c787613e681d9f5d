package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/regressoor/pkg/api/store"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/history"
)

func testRecord(label string, offset time.Duration, outcomes map[string]history.Outcome) *history.RunRecord {
	tests := make([]history.TestOutcome, 0, len(outcomes))

	passed := 0
	failed := 0
	errored := 0

	for name, outcome := range outcomes {
		tests = append(tests, history.TestOutcome{Name: name, Outcome: outcome})

		switch outcome {
		case history.OutcomePassed:
			passed++
		case history.OutcomeError:
			errored++
		default:
			failed++
		}
	}

	total := len(outcomes)

	return &history.RunRecord{
		Label:              label,
		RevisionID:         "rev-" + label,
		ExecutionTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset),
		TotalTests:         total,
		Passed:             passed,
		Failed:             failed,
		Errored:            errored,
		ReliabilityScore:   history.Score(passed, total),
		Tests:              tests,
	}
}

// newTestServer builds a server with an in-memory user store, a seeded
// history file, and anonymous reads enabled.
func newTestServer(t *testing.T) *server {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	hist := history.NewStore(
		log, filepath.Join(t.TempDir(), "history.json"),
	)
	require.NoError(t, hist.Load())

	require.NoError(t, hist.Append(testRecord("v1", 0, map[string]history.Outcome{
		"test_a": history.OutcomePassed,
		"test_b": history.OutcomeFailed,
	})))
	require.NoError(t, hist.Append(testRecord("v2", time.Hour, map[string]history.Outcome{
		"test_a": history.OutcomePassed,
		"test_b": history.OutcomePassed,
	})))

	cfg := &config.APIConfig{
		Auth: config.APIAuthConfig{
			SessionTTL:    time.Hour,
			AnonymousRead: true,
			Basic: config.BasicAuthConfig{
				Enabled: true,
				Users: []config.BasicAuthUser{
					{Username: "admin", Password: "hunter2", Role: "admin"},
				},
			},
		},
		Database: config.APIDatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
	}

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	require.NoError(t, st.SeedUsers(
		context.Background(), cfg.Auth.Basic.Users,
	))

	return &server{
		log:     log,
		cfg:     cfg,
		history: hist,
		store:   st,
		done:    make(chan struct{}),
	}
}

func TestHandleListRuns(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs []struct {
			Label            string  `json:"label"`
			ReliabilityScore float64 `json:"reliability_score"`
		} `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	require.Len(t, body.Runs, 2)
	assert.Equal(t, "v1", body.Runs[0].Label)
	assert.Equal(t, "v2", body.Runs[1].Label)
	assert.InDelta(t, 50.0, body.Runs[0].ReliabilityScore, 0.001)
}

func TestHandleGetRunUnknownLabel(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error           string   `json:"error"`
		AvailableLabels []string `json:"available_labels"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Contains(t, body.Error, "nope")
	assert.Equal(t, []string{"v1", "v2"}, body.AvailableLabels)
}

func TestHandleCompare(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	resp, err := http.Get(
		ts.URL + "/api/v1/compare?baseline=v1&current=v2",
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Baseline string `json:"baseline"`
		Current  string `json:"current"`
		Result   struct {
			Fixed []struct {
				Name string `json:"name"`
			} `json:"fixed"`
			ScoreDelta float64 `json:"score_delta"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "v1", body.Baseline)
	require.Len(t, body.Result.Fixed, 1)
	assert.Equal(t, "test_b", body.Result.Fixed[0].Name)
	assert.InDelta(t, 50.0, body.Result.ScoreDelta, 0.001)
}

func TestHandleCompareMissingParams(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/compare?baseline=v1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleTrendSummary(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/trend/summary")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs          []json.RawMessage `json:"runs"`
		Improving     bool              `json:"improving"`
		ImprovedTests []string          `json:"improved_tests"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Len(t, body.Runs, 2)
	assert.True(t, body.Improving)
	assert.Equal(t, []string{"test_b"}, body.ImprovedTests)
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	// Bad credentials are rejected.
	resp, err := http.Post(
		ts.URL+"/api/v1/auth/login",
		"application/json",
		strings.NewReader(`{"username":"admin","password":"wrong"}`),
	)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Good credentials set a session cookie.
	resp, err = http.Post(
		ts.URL+"/api/v1/auth/login",
		"application/json",
		strings.NewReader(`{"username":"admin","password":"hunter2"}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}

	require.NotNil(t, cookie, "login must set the session cookie")

	// The session authenticates /auth/me.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()

	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var me struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&me))
	assert.Equal(t, "admin", me.Username)
	assert.Equal(t, "admin", me.Role)
}

func TestAuthRequiredWhenAnonymousReadDisabled(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Auth.AnonymousRead = false

	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
