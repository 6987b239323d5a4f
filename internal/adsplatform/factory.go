package adsplatform

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	fb "github.com/huandu/facebook/v2"
	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/config"
	"github.com/vndarlan/chegou-autoads/internal/engine"
)

// Factory builds verified clients for stored accounts.
type Factory struct {
	http    *http.Client
	baseURL string
	version string
	now     func() time.Time
}

func NewFactory(cfg config.Config) *Factory {
	return NewFactoryWithClient(
		&http.Client{Timeout: cfg.PlatformTimeout()},
		cfg.Platform.BaseURL,
		cfg.Platform.APIVersion,
		time.Now,
	)
}

// NewFactoryWithClient targets an explicit base URL and API version, e.g. an httptest server.
func NewFactoryWithClient(hc *http.Client, baseURL, version string, now func() time.Time) *Factory {
	if now == nil {
		now = time.Now
	}
	return &Factory{
		http:    hc,
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		version: strings.Trim(version, "/"),
		now:     now,
	}
}

func (f *Factory) session(a engine.Account) (*fb.Session, error) {
	s := fb.New(a.AppID, a.AppSecret).Session(a.AccessToken)
	s.HttpClient = f.http
	s.BaseURL = f.baseURL
	s.Version = f.version
	if err := s.EnableAppsecretProof(true); err != nil {
		return nil, err
	}
	return s, nil
}

// ForAccount checks the account's credentials and returns a client bound to it. Every refusal
// is an *engine.CredentialError.
func (f *Factory) ForAccount(ctx context.Context, a engine.Account) (*Client, error) {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"app_id", a.AppID},
		{"app_secret", a.AppSecret},
		{"access_token", a.AccessToken},
		{"account_id", a.AccountID},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return nil, &engine.CredentialError{AccountID: a.ID, Reason: "incomplete configuration, missing " + strings.Join(missing, ", ")}
	}
	if a.TokenExpired(f.now()) {
		return nil, &engine.CredentialError{
			AccountID: a.ID,
			Reason:    fmt.Sprintf("access token expired on %s", a.TokenExpiresAt.UTC().Format("2006-01-02")),
		}
	}

	session, err := f.session(a)
	if err != nil {
		return nil, &engine.CredentialError{AccountID: a.ID, Reason: "invalid app credentials", Err: err}
	}
	c := newClient(session, a.AccountID, f.now)
	if err := c.VerifyAccount(ctx); err != nil {
		reason := "account check failed"
		if IsAuthError(err) {
			reason = "access token rejected"
		}
		return nil, &engine.CredentialError{AccountID: a.ID, Reason: reason, Err: err}
	}
	log.Debug().Str("account_id", a.ID).Str("ad_account", c.accountID).Msg("platform client ready")
	return c, nil
}
