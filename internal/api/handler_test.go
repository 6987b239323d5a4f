package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vndarlan/chegou-autoads/internal/engine"
	"github.com/vndarlan/chegou-autoads/internal/orchestrator"
	"github.com/vndarlan/chegou-autoads/internal/storage"
)

type fakeRunner struct {
	mu       sync.Mutex
	outcome  orchestrator.Outcome
	err      error
	report   orchestrator.SweepReport
	sweeps   int
	lastRun  []string
	sweptAt  time.Time
	matches  []orchestrator.Match
	campaign []engine.Campaign
	window   engine.Window
}

func (r *fakeRunner) RunManual(ctx context.Context, accountID, campaignID, ruleID string) (orchestrator.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun = []string{accountID, campaignID, ruleID}
	return r.outcome, r.err
}

func (r *fakeRunner) Simulate(context.Context, string) ([]orchestrator.Match, error) {
	return r.matches, r.err
}

func (r *fakeRunner) Campaigns(_ context.Context, _ string, w engine.Window) ([]engine.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = w
	return r.campaign, r.err
}

func (r *fakeRunner) RunAutomaticSweep(_ context.Context, now time.Time) (orchestrator.SweepReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
	r.sweptAt = now
	return r.report, r.err
}

func newTestAPI(t *testing.T, runner *fakeRunner) (*storage.Store, http.Handler) {
	t.Helper()
	st, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))

	h := NewHandler(storage.NewRuleCache(st), st, st, runner)
	h.Now = func() time.Time { return time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC) }
	return st, Router(h)
}

func do(t *testing.T, srv http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

const pauseRule = `{"name":"pause expensive","primary_metric":"cpa","primary_operator":">","primary_value":30,"action_type":"pause_campaign"}`

func TestRules_CreateListToggleDelete(t *testing.T) {
	_, srv := newTestAPI(t, &fakeRunner{})

	w := do(t, srv, http.MethodPost, "/v1/rules", pauseRule)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	w = do(t, srv, http.MethodGet, "/v1/rules", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed []struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		IsActive bool   `json:"is_active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)
	assert.True(t, listed[0].IsActive)
	assert.Equal(t, "IF CPA > 30.00, THEN pause campaign", listed[0].Text)

	w = do(t, srv, http.MethodPut, "/v1/rules/"+id+"/active", `{"active":false}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/rules", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsActive)

	w = do(t, srv, http.MethodDelete, "/v1/rules/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodDelete, "/v1/rules/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/rules", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRules_BadRequests(t *testing.T) {
	_, srv := newTestAPI(t, &fakeRunner{})

	tests := []struct {
		name       string
		method     string
		url        string
		body       string
		wantStatus int
		wantField  string
	}{
		{"missing primary value", http.MethodPost, "/v1/rules",
			`{"name":"x","primary_metric":"cpa","primary_operator":">","action_type":"pause_campaign"}`,
			http.StatusBadRequest, "primary_value"},
		{"unknown metric", http.MethodPost, "/v1/rules",
			`{"name":"x","primary_metric":"likes","primary_operator":">","primary_value":1,"action_type":"pause_campaign"}`,
			http.StatusBadRequest, "primary_metric"},
		{"unknown field", http.MethodPost, "/v1/rules", `{"name":"x","colour":"red"}`, http.StatusBadRequest, ""},
		{"malformed json", http.MethodPost, "/v1/rules", `{"name":`, http.StatusBadRequest, ""},
		{"toggle without flag", http.MethodPut, "/v1/rules/abc/active", `{}`, http.StatusBadRequest, ""},
		{"toggle unknown rule", http.MethodPut, "/v1/rules/abc/active", `{"active":true}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.url, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantField == "" {
				return
			}
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			var fields []string
			for _, f := range body.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestExecutions_Query(t *testing.T) {
	st, srv := newTestAPI(t, &fakeRunner{})
	ctx := context.Background()
	for _, day := range []int{1, 2, 3} {
		require.NoError(t, st.AppendExecution(ctx, engine.Execution{
			AdObjectID:    "c1",
			AdObjectName:  "Campaign",
			WasSuccessful: true,
			Message:       "campaign paused",
			ExecutedAt:    time.Date(2026, 5, day, 15, 0, 0, 0, time.UTC),
		}))
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantRows   int
	}{
		{"latest", "", http.StatusOK, 3},
		{"limited", "?limit=2", http.StatusOK, 2},
		{"range includes end day", "?from=2026-05-02&to=2026-05-03", http.StatusOK, 2},
		{"empty range", "?from=2026-06-01&to=2026-06-02", http.StatusOK, 0},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0},
		{"bad date", "?from=02/05/2026", http.StatusBadRequest, 0},
		{"reversed range", "?from=2026-05-03&to=2026-05-01", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, "/v1/executions"+tt.query, "")
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var rows []engine.Execution
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
			assert.NotNil(t, rows)
			assert.Len(t, rows, tt.wantRows)
		})
	}
}

func TestAccounts_SecretsNeverEchoed(t *testing.T) {
	_, srv := newTestAPI(t, &fakeRunner{})

	w := do(t, srv, http.MethodGet, "/v1/accounts/active", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := `{"name":"Main","app_id":"app","app_secret":"s3cret","access_token":"t0ken","account_id":"act_111","token_expires_at":"2026-12-31"}`
	w = do(t, srv, http.MethodPost, "/v1/accounts", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "s3cret")
	assert.NotContains(t, w.Body.String(), "t0ken")

	var created engine.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "111", created.AccountID)
	assert.True(t, created.IsActive)

	w = do(t, srv, http.MethodGet, "/v1/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = do(t, srv, http.MethodGet, "/v1/accounts/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "t0ken")

	w = do(t, srv, http.MethodPut, "/v1/accounts/"+created.ID+"/active", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodPut, "/v1/accounts/missing/active", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodDelete, "/v1/accounts/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAccounts_CreateRejects(t *testing.T) {
	_, srv := newTestAPI(t, &fakeRunner{})

	w := do(t, srv, http.MethodPost, "/v1/accounts", `{"name":"Main"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")

	w = do(t, srv, http.MethodPost, "/v1/accounts",
		`{"name":"Main","app_id":"a","app_secret":"s","access_token":"t","account_id":"1","token_expires_at":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunRule_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		runner     *fakeRunner
		wantStatus int
	}{
		{"applied", &fakeRunner{outcome: orchestrator.Outcome{OK: true, Message: "campaign paused"}}, http.StatusOK},
		{"platform failure is an outcome", &fakeRunner{outcome: orchestrator.Outcome{Message: "pause campaign failed: boom"}}, http.StatusOK},
		{"missing rule", &fakeRunner{err: engine.ErrNotFound}, http.StatusNotFound},
		{"refused credentials", &fakeRunner{err: &engine.CredentialError{AccountID: "a1", Reason: "access token expired on 2026-01-01"}}, http.StatusUnprocessableEntity},
		{"store down", &fakeRunner{err: errors.New("db closed")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestAPI(t, tt.runner)
			w := do(t, srv, http.MethodPost, "/v1/accounts/a1/campaigns/c9/rules/r7/run", "")
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, []string{"a1", "c9", "r7"}, tt.runner.lastRun)
			if tt.wantStatus == http.StatusOK {
				var out orchestrator.Outcome
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
				assert.Equal(t, tt.runner.outcome, out)
			}
		})
	}
}

func TestCampaigns_WindowParam(t *testing.T) {
	runner := &fakeRunner{}
	_, srv := newTestAPI(t, runner)

	w := do(t, srv, http.MethodGet, "/v1/accounts/a1/campaigns?window=last_30d", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, engine.WindowLast30d, runner.window)

	w = do(t, srv, http.MethodGet, "/v1/accounts/a1/simulation", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSweeps_TriggerAndLast(t *testing.T) {
	runner := &fakeRunner{report: orchestrator.SweepReport{RulesChecked: 3, RulesDue: []string{"r1"}, RulesMarked: []string{"r1"}}}
	_, srv := newTestAPI(t, runner)

	w := do(t, srv, http.MethodGet, "/v1/sweeps/last", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/sweeps", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runner.sweeps)
	assert.Equal(t, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC), runner.sweptAt)

	w = do(t, srv, http.MethodGet, "/v1/sweeps/last", "")
	require.Equal(t, http.StatusOK, w.Code)
	var last orchestrator.SweepReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
	assert.Equal(t, 3, last.RulesChecked)
	assert.Equal(t, []string{"r1"}, last.RulesMarked)
}

func TestSweeps_FailureKeepsPreviousReport(t *testing.T) {
	runner := &fakeRunner{err: errors.New("list rules: db closed")}
	_, srv := newTestAPI(t, runner)

	w := do(t, srv, http.MethodPost, "/v1/sweeps", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w = do(t, srv, http.MethodGet, "/v1/sweeps/last", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSweeps_OverlapIsConflict(t *testing.T) {
	runner := &fakeRunner{err: orchestrator.ErrSweepRunning}
	_, srv := newTestAPI(t, runner)

	w := do(t, srv, http.MethodPost, "/v1/sweeps", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	_, srv := newTestAPI(t, &fakeRunner{})

	w := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "autoads_http_requests_total")
}
