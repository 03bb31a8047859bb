package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Credential store field names, stored as "<providerId>.<field>".
const (
	FieldAccessToken         = "access_token"
	FieldAccessTokenExpires  = "access_token_expires"
	FieldRefreshToken        = "refresh_token"
	FieldRefreshTokenExpires = "refresh_token_expires"
	FieldScope               = "scope"
	FieldAccessTokenSecret   = "access_token_secret"
	FieldRequestToken        = "request_token"
	FieldRequestTokenSecret  = "request_token_secret"
	FieldState               = "state"
	FieldAuthorizationURL    = "authorization_url"
	FieldPKCEVerifier        = "pkce_verifier"
	FieldProfileRefresh      = "profile_refresh"
)

// TokenExchangeResult is the parsed body of a token endpoint response.
type TokenExchangeResult struct {
	AccessToken           string
	RefreshToken          string
	TokenType             string
	ExpiresIn             int64
	RefreshTokenExpiresIn int64
	Scope                 string
	Error                 string
	ErrorDescription      string
	ErrorURI              string
}

// ProviderError returns the provider reported error, or nil.
func (r TokenExchangeResult) ProviderError() *ProviderError {
	if r.Error == "" {
		return nil
	}
	return &ProviderError{Code: r.Error, Description: r.ErrorDescription, URI: r.ErrorURI}
}

// Token converts the result to an *oauth2.Token.
func (r TokenExchangeResult) Token(now time.Time) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
	}
	if r.ExpiresIn > 0 {
		t.Expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.Scope != "" {
		t = t.WithExtra(map[string]any{"scope": r.Scope})
	}
	return t
}

// ParseTokenResponse decodes a token endpoint body. A JSON object is tried
// first, then a URL-encoded form. Anything else is ErrMalformedTokenResponse.
func ParseTokenResponse(env *transport.Envelope) (TokenExchangeResult, error) {
	raw := env.Raw
	if gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		if !doc.IsObject() {
			return TokenExchangeResult{}, fmt.Errorf("%w: JSON body is not an object", ErrMalformedTokenResponse)
		}
		return TokenExchangeResult{
			AccessToken:           doc.Get("access_token").String(),
			RefreshToken:          doc.Get("refresh_token").String(),
			TokenType:             doc.Get("token_type").String(),
			ExpiresIn:             doc.Get("expires_in").Int(),
			RefreshTokenExpiresIn: doc.Get("refresh_token_expires_in").Int(),
			Scope:                 doc.Get("scope").String(),
			Error:                 doc.Get("error").String(),
			ErrorDescription:      doc.Get("error_description").String(),
			ErrorURI:              doc.Get("error_uri").String(),
		}, nil
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return TokenExchangeResult{}, fmt.Errorf("%w: %v", ErrMalformedTokenResponse, err)
	}
	if form.Get("access_token") == "" && form.Get("error") == "" {
		return TokenExchangeResult{}, fmt.Errorf("%w: no access_token or error field", ErrMalformedTokenResponse)
	}
	expiresIn, _ := strconv.ParseInt(form.Get("expires_in"), 10, 64)
	refreshExpiresIn, _ := strconv.ParseInt(form.Get("refresh_token_expires_in"), 10, 64)
	return TokenExchangeResult{
		AccessToken:           form.Get("access_token"),
		RefreshToken:          form.Get("refresh_token"),
		TokenType:             form.Get("token_type"),
		ExpiresIn:             expiresIn,
		RefreshTokenExpiresIn: refreshExpiresIn,
		Scope:                 form.Get("scope"),
		Error:                 form.Get("error"),
		ErrorDescription:      form.Get("error_description"),
		ErrorURI:              form.Get("error_uri"),
	}, nil
}

// TokenState is a typed snapshot of everything a provider keeps in the
// credential store.
type TokenState struct {
	AccessToken         string `json:"access_token,omitempty"`
	AccessTokenExpires  int64  `json:"access_token_expires,omitempty"`
	RefreshToken        string `json:"refresh_token,omitempty"`
	RefreshTokenExpires int64  `json:"refresh_token_expires,omitempty"`
	Scope               string `json:"scope,omitempty"`
	AccessTokenSecret   string `json:"access_token_secret,omitempty"`
	RequestToken        string `json:"request_token,omitempty"`
	RequestTokenSecret  string `json:"request_token_secret,omitempty"`
	State               int    `json:"state,omitempty"`
	AuthorizationURL    string `json:"authorization_url,omitempty"`
	PKCEVerifier        string `json:"pkce_verifier,omitempty"`
	ProfileRefresh      bool   `json:"profile_refresh,omitempty"`
}

// Authorized reports whether the state holds an access token.
func (s TokenState) Authorized() bool {
	return s.AccessToken != ""
}

// Expired reports whether the access token has a known expiry before now.
func (s TokenState) Expired(now time.Time) bool {
	return s.AccessTokenExpires > 0 && now.Unix() >= s.AccessTokenExpires
}

type stateField struct {
	name string
	get  func(*TokenState) string
	set  func(*TokenState, string)
}

func formatInt(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

var stateFields = []stateField{
	{FieldAccessToken, func(s *TokenState) string { return s.AccessToken }, func(s *TokenState, v string) { s.AccessToken = v }},
	{FieldAccessTokenExpires, func(s *TokenState) string { return formatInt(s.AccessTokenExpires) }, func(s *TokenState, v string) { s.AccessTokenExpires = parseInt(v) }},
	{FieldRefreshToken, func(s *TokenState) string { return s.RefreshToken }, func(s *TokenState, v string) { s.RefreshToken = v }},
	{FieldRefreshTokenExpires, func(s *TokenState) string { return formatInt(s.RefreshTokenExpires) }, func(s *TokenState, v string) { s.RefreshTokenExpires = parseInt(v) }},
	{FieldScope, func(s *TokenState) string { return s.Scope }, func(s *TokenState, v string) { s.Scope = v }},
	{FieldAccessTokenSecret, func(s *TokenState) string { return s.AccessTokenSecret }, func(s *TokenState, v string) { s.AccessTokenSecret = v }},
	{FieldRequestToken, func(s *TokenState) string { return s.RequestToken }, func(s *TokenState, v string) { s.RequestToken = v }},
	{FieldRequestTokenSecret, func(s *TokenState) string { return s.RequestTokenSecret }, func(s *TokenState, v string) { s.RequestTokenSecret = v }},
	{FieldState, func(s *TokenState) string { return formatInt(int64(s.State)) }, func(s *TokenState, v string) { s.State = int(parseInt(v)) }},
	{FieldAuthorizationURL, func(s *TokenState) string { return s.AuthorizationURL }, func(s *TokenState, v string) { s.AuthorizationURL = v }},
	{FieldPKCEVerifier, func(s *TokenState) string { return s.PKCEVerifier }, func(s *TokenState, v string) { s.PKCEVerifier = v }},
	{FieldProfileRefresh, func(s *TokenState) string {
		if s.ProfileRefresh {
			return "1"
		}
		return ""
	}, func(s *TokenState, v string) { s.ProfileRefresh = v == "1" }},
}

// LoadTokenState reads every token field of a provider from the store.
func LoadTokenState(ctx context.Context, s core.CredentialStore, providerID string) (TokenState, error) {
	var st TokenState
	for _, f := range stateFields {
		v, err := core.GetOr(ctx, s, core.Key(providerID, f.name), "")
		if err != nil {
			return TokenState{}, fmt.Errorf("failed to read %s: %w", f.name, err)
		}
		f.set(&st, v)
	}
	return st, nil
}

// SaveTokenState writes st to the store. Zero fields are removed so that a
// load after a save returns st unchanged.
func SaveTokenState(ctx context.Context, s core.CredentialStore, providerID string, st TokenState) error {
	for _, f := range stateFields {
		key := core.Key(providerID, f.name)
		v := f.get(&st)
		if v == "" {
			if _, err := s.Remove(ctx, key); err != nil {
				return fmt.Errorf("failed to clear %s: %w", f.name, err)
			}
			continue
		}
		if err := s.Set(ctx, key, v, true); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return s.Sync(ctx)
}
