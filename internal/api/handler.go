package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/cache"
	"github.com/vndarlan/chegou-autoads/internal/engine"
	"github.com/vndarlan/chegou-autoads/internal/orchestrator"
	"github.com/vndarlan/chegou-autoads/internal/storage"
)

type RuleStore interface {
	ListRules(ctx context.Context) ([]engine.Rule, error)
	CreateRule(ctx context.Context, d engine.RuleDraft) (string, error)
	DeleteRule(ctx context.Context, id string) (bool, error)
	SetRuleActive(ctx context.Context, id string, active bool) (bool, error)
}

type ExecutionLog interface {
	QueryExecutions(ctx context.Context, f storage.ExecutionFilter) ([]engine.Execution, error)
}

type AccountStore interface {
	ListAccounts(ctx context.Context) ([]engine.Account, error)
	CreateAccount(ctx context.Context, a engine.Account) (engine.Account, error)
	DeleteAccount(ctx context.Context, id string) (bool, error)
	SetActiveAccount(ctx context.Context, id string) (bool, error)
	ActiveAccount(ctx context.Context) (engine.Account, error)
}

type Runner interface {
	RunManual(ctx context.Context, accountID, campaignID, ruleID string) (orchestrator.Outcome, error)
	Simulate(ctx context.Context, accountID string) ([]orchestrator.Match, error)
	Campaigns(ctx context.Context, accountID string, w engine.Window) ([]engine.Campaign, error)
	RunAutomaticSweep(ctx context.Context, now time.Time) (orchestrator.SweepReport, error)
}

type Handler struct {
	Rules      RuleStore
	Executions ExecutionLog
	Accounts   AccountStore
	Runner     Runner
	LastSweep  *cache.Snapshot[orchestrator.SweepReport]
	Now        func() time.Time
}

func NewHandler(rules RuleStore, executions ExecutionLog, accounts AccountStore, runner Runner) *Handler {
	return &Handler{
		Rules:      rules,
		Executions: executions,
		Accounts:   accounts,
		Runner:     runner,
		LastSweep:  &cache.Snapshot[orchestrator.SweepReport]{},
		Now:        time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields []engine.FieldError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *engine.ValidationError
	var cerr *engine.CredentialError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: cerr.Error()})
	case errors.Is(err, orchestrator.ErrSweepRunning):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed body: " + err.Error()})
		return false
	}
	return true
}

type ruleView struct {
	engine.Rule
	Text      string     `json:"text"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Rules.ListRules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleView{Rule: rule, Text: engine.Describe(rule), NextRunAt: rule.NextRunAt()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var d engine.RuleDraft
	if !decode(w, r, &d) {
		return
	}
	id, err := h.Rules.CreateRule(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Rules.DeleteRule(r.Context(), chi.URLParam(r, "id"))
	h.writeFound(w, r, ok, err)
}

type activeBody struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	var body activeBody
	if !decode(w, r, &body) {
		return
	}
	if body.Active == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "active is required"})
		return
	}
	ok, err := h.Rules.SetRuleActive(r.Context(), chi.URLParam(r, "id"), *body.Active)
	h.writeFound(w, r, ok, err)
}

func (h *Handler) writeFound(w http.ResponseWriter, r *http.Request, found bool, err error) {
	switch {
	case err != nil:
		writeError(w, r, err)
	case !found:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f storage.ExecutionFilter
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		day, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: p.key + " must be YYYY-MM-DD"})
			return
		}
		*p.dst = &day
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "to is before from"})
		return
	}

	out, err := h.Executions.QueryExecutions(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []engine.Execution{}
	}
	writeJSON(w, http.StatusOK, out)
}

func redacted(accounts []engine.Account) []engine.Account {
	out := make([]engine.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Redacted())
	}
	return out
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redacted(accounts))
}

type accountBody struct {
	Name           string `json:"name"`
	AppID          string `json:"app_id"`
	AppSecret      string `json:"app_secret"`
	AccessToken    string `json:"access_token"`
	AccountID      string `json:"account_id"`
	BusinessID     string `json:"business_id"`
	PageID         string `json:"page_id"`
	TokenExpiresAt string `json:"token_expires_at"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var body accountBody
	if !decode(w, r, &body) {
		return
	}
	a := engine.Account{
		Name: body.Name, AppID: body.AppID, AppSecret: body.AppSecret, AccessToken: body.AccessToken,
		AccountID: body.AccountID, BusinessID: body.BusinessID, PageID: body.PageID,
	}
	if body.TokenExpiresAt != "" {
		day, err := time.Parse("2006-01-02", body.TokenExpiresAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "token_expires_at must be YYYY-MM-DD"})
			return
		}
		a.TokenExpiresAt = &day
	}
	created, err := h.Accounts.CreateAccount(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created.Redacted())
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Accounts.DeleteAccount(r.Context(), chi.URLParam(r, "id"))
	h.writeFound(w, r, ok, err)
}

func (h *Handler) SetActiveAccount(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Accounts.SetActiveAccount(r.Context(), chi.URLParam(r, "id"))
	h.writeFound(w, r, ok, err)
}

func (h *Handler) ActiveAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Accounts.ActiveAccount(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Redacted())
}

func (h *Handler) Campaigns(w http.ResponseWriter, r *http.Request) {
	window := engine.ParseWindow(r.URL.Query().Get("window"))
	campaigns, err := h.Runner.Campaigns(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []engine.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	matches, err := h.Runner.Simulate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) RunRule(w http.ResponseWriter, r *http.Request) {
	out, err := h.Runner.RunManual(context.WithoutCancel(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "campaignID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Sweep runs one automatic sweep now. It is not tied to the request: a client hanging up
// does not interrupt it.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Runner.RunAutomaticSweep(context.WithoutCancel(r.Context()), h.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.LastSweep.Store(report)
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) LastSweepReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.LastSweep.Load()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no sweep has run yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
