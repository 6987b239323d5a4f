// Package adsplatform talks to the ads platform Graph API: campaign listing and updates
// (the campaign repository) and campaign insights (the metrics provider).
package adsplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	fb "github.com/huandu/facebook/v2"
)

const maxPages = 50

// Graph API error codes.
const (
	codeInvalidParameter = 100
	codeInvalidToken     = 190
)

// IsAuthError reports whether err is the platform rejecting the access token.
func IsAuthError(err error) bool {
	var fbErr *fb.Error
	if !errors.As(err, &fbErr) {
		return false
	}
	return fbErr.Code == codeInvalidToken || fbErr.Type == "OAuthException"
}

func errorCode(err error) int {
	var fbErr *fb.Error
	if errors.As(err, &fbErr) {
		return fbErr.Code
	}
	return 0
}

// Client is bound to one ad account through a Graph session carrying its token and
// appsecret_proof.
type Client struct {
	session   *fb.Session
	accountID string
	now       func() time.Time
}

func newClient(session *fb.Session, accountID string, now func() time.Time) *Client {
	return &Client{
		session:   session,
		accountID: strings.TrimPrefix(accountID, "act_"),
		now:       now,
	}
}

func (c *Client) accountNode() string { return "act_" + c.accountID }

// VerifyAccount performs a lightweight read of the ad account.
func (c *Client) VerifyAccount(ctx context.Context) error {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, c.accountNode(), fb.Params{"fields": "id"}, &out); err != nil {
		return fmt.Errorf("verify account %s: %w", c.accountID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params fb.Params, out any) error {
	res, err := c.session.WithContext(ctx).Get(path, params)
	if err != nil {
		return err
	}
	return decode(res, out)
}

func (c *Client) post(ctx context.Context, path string, params fb.Params, out any) error {
	res, err := c.session.WithContext(ctx).Post(path, params)
	if err != nil {
		return err
	}
	return decode(res, out)
}

// decode maps a Graph result onto out through encoding/json so the number and minorUnits
// decoders apply to figures sent as strings.
func decode(res fb.Result, out any) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// collect reads a list edge, following paging.next links up to maxPages pages.
func collect[T any](ctx context.Context, c *Client, path string, params fb.Params) ([]T, error) {
	session := c.session.WithContext(ctx)
	res, err := session.Get(path, params)
	if err != nil {
		return nil, err
	}
	page, err := res.Paging(session)
	if err != nil {
		return nil, fmt.Errorf("read paging: %w", err)
	}

	var out []T
	for n := 1; ; n++ {
		for _, item := range page.Data() {
			var v T
			if err := decode(item, &v); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if n >= maxPages {
			return out, nil
		}
		noMore, err := page.Next()
		if err != nil {
			return nil, err
		}
		if noMore {
			return out, nil
		}
	}
}

// number decodes Graph API figures, which arrive as decimal strings or JSON numbers.
// Anything unparseable is zero.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	*n = 0
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*n = number(v)
	}
	return nil
}

// minorUnits decodes budgets, which arrive as integer strings of minor currency units.
type minorUnits int64

func (m *minorUnits) UnmarshalJSON(b []byte) error {
	var n number
	if err := n.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = minorUnits(n)
	return nil
}
