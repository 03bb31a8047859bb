package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-training/oauth-gatekeeper/pkg/transport"
	"github.com/go-training/oauth-gatekeeper/pkg/transport/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/oauth2"
)

func TestAuthorized_NoFlowIsIdempotent(t *testing.T) {
	p := newFakeProvider(t)
	a, s := testOAuth2(t, p.config())
	ctx := context.Background()

	for range 3 {
		res, err := a.Authorized(ctx, inbound(nil), false)
		require.NoError(t, err)
		assert.Equal(t, StatusUnauthorized, res.Status)
	}
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, p.calls())

	authorize(t, a)
	before, err := a.Snapshot(ctx)
	require.NoError(t, err)

	for _, start := range []bool{false, true} {
		res, err := a.Authorized(ctx, inbound(nil), start)
		require.NoError(t, err)
		assert.Equal(t, StatusAuthorized, res.Status)
	}
	after, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, p.calls())
}

func TestCheckAuthenticationProgress_ServerSide(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	res, err := a.Authorized(ctx, inbound(nil), true)
	require.NoError(t, err)
	require.Equal(t, StatusRedirectRequired, res.Status)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, p.srv.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://app.example.com/auth/test/callback", q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "false", q.Get("allow_signup"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Empty(t, q.Get("code_challenge"))

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.RedirectURL, st.AuthorizationURL)
	assert.Equal(t, 0, p.calls())
}

func TestCheckAuthenticationProgress_ClientSide(t *testing.T) {
	p := newFakeProvider(t)
	cfg := p.config()
	cfg.FlowType = FlowClientSide
	a, _ := testOAuth2(t, cfg)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := inbound(nil)
	req.Writer = rec

	res, err := a.CheckAuthenticationProgress(ctx, req)
	require.ErrorIs(t, err, ErrResponseCommitted)
	assert.Equal(t, StatusRedirectRequired, res.Status)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, res.RedirectURL, rec.Header().Get("Location"))

	var redirected string
	req = inbound(nil)
	req.Redirect = func(location string) { redirected = location }
	res, err = a.CheckAuthenticationProgress(ctx, req)
	require.ErrorIs(t, err, ErrResponseCommitted)
	assert.Equal(t, res.RedirectURL, redirected)

	_, err = a.CheckAuthenticationProgress(ctx, inbound(nil))
	assert.ErrorIs(t, err, ErrNoResponseWriter)
}

func TestCheckAuthenticationProgress_CodeExchange(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	authorize(t, a)

	form := p.lastTokenForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code", form.Get("code"))
	assert.Equal(t, "http://app.example.com/auth/test/callback", form.Get("redirect_uri"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))
	assert.NotEmpty(t, form.Get("state"))

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-1", st.AccessToken)
	assert.Equal(t, "rt-1", st.RefreshToken)
	assert.Equal(t, fixedNow.Unix()+3600, st.AccessTokenExpires)
	assert.Equal(t, "read write", st.Scope)
	assert.True(t, st.ProfileRefresh)
	assert.Empty(t, st.AuthorizationURL)
}

func TestCheckAuthenticationProgress_InvalidState(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	res, err := a.CheckAuthenticationProgress(ctx, inbound(nil))
	require.NoError(t, err)
	u, _ := url.Parse(res.RedirectURL)
	state := u.Query().Get("state")

	tests := []struct {
		name string
		req  Request
	}{
		{name: "missing", req: inbound(url.Values{"code": {"c"}})},
		{name: "tampered", req: inbound(url.Values{"code": {"c"}, "state": {state + "x"}})},
		{name: "other origin", req: func() Request {
			r := inbound(url.Values{"code": {"c"}, "state": {state}})
			r.Origin = "evil.example.com"
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.CheckAuthenticationProgress(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, StatusUnauthorized, res.Status)
		})
	}
	assert.Equal(t, 0, p.calls())
}

func TestCheckAuthenticationProgress_ProviderErrorParam(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()
	require.NoError(t, a.Restore(ctx, TokenState{RefreshToken: "stale"}))

	res, err := a.CheckAuthenticationProgress(ctx, inbound(url.Values{
		"error":             {"access_denied"},
		"error_description": {"user said no"},
	}))
	assert.Equal(t, StatusUnauthorized, res.Status)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "access_denied", perr.Code)
	assert.ErrorIs(t, err, ErrProviderError)

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.RefreshToken)
}

func TestCheckAuthenticationProgress_TokenResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantErr     error
		wantToken   string
	}{
		{
			name:        "provider error",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"error":"invalid_grant","error_description":"code expired"}`,
			wantErr:     ErrProviderError,
		},
		{
			name:        "html body",
			status:      http.StatusBadGateway,
			contentType: "text/html",
			body:        `<html><body>bad gateway</body></html>`,
			wantErr:     ErrMalformedTokenResponse,
		},
		{
			name:        "json array",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `["at-1"]`,
			wantErr:     ErrMalformedTokenResponse,
		},
		{
			name:        "object without token",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"token_type":"bearer"}`,
			wantErr:     ErrMalformedTokenResponse,
		},
		{
			name:        "url encoded",
			status:      http.StatusOK,
			contentType: "application/x-www-form-urlencoded",
			body:        "access_token=form-token&scope=repo&token_type=bearer",
			wantToken:   "form-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			p.tokenResponse = func(url.Values) (int, string, string) {
				return tt.status, tt.contentType, tt.body
			}
			a, _ := testOAuth2(t, p.config())
			ctx := context.Background()

			res, err := a.CheckAuthenticationProgress(ctx, inbound(nil))
			require.NoError(t, err)
			u, _ := url.Parse(res.RedirectURL)

			res, err = a.CheckAuthenticationProgress(ctx, inbound(url.Values{
				"code":  {"auth-code"},
				"state": {u.Query().Get("state")},
			}))
			st, snapErr := a.Snapshot(ctx)
			require.NoError(t, snapErr)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, StatusUnauthorized, res.Status)
				assert.Empty(t, st.AccessToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusAuthorized, res.Status)
			assert.Equal(t, tt.wantToken, st.AccessToken)
		})
	}
}

func TestCheckAuthenticationProgress_UnsupportedGrant(t *testing.T) {
	p := newFakeProvider(t)
	cfg := p.config()
	cfg.OAuth2.GrantType = GrantClientCredentials
	a, _ := testOAuth2(t, cfg)

	_, err := a.CheckAuthenticationProgress(context.Background(), inbound(nil))
	assert.ErrorIs(t, err, ErrUnsupportedGrantFlow)
}

func TestPKCE(t *testing.T) {
	p := newFakeProvider(t)
	cfg := p.config()
	cfg.OAuth2.PKCE = true
	a, _ := testOAuth2(t, cfg)
	ctx := context.Background()

	res, err := a.CheckAuthenticationProgress(ctx, inbound(nil))
	require.NoError(t, err)
	u, _ := url.Parse(res.RedirectURL)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, st.PKCEVerifier)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(st.PKCEVerifier), u.Query().Get("code_challenge"))

	_, err = a.CheckAuthenticationProgress(ctx, inbound(url.Values{
		"code":  {"auth-code"},
		"state": {u.Query().Get("state")},
	}))
	require.NoError(t, err)
	assert.Equal(t, st.PKCEVerifier, p.lastTokenForm().Get("code_verifier"))

	st, err = a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.PKCEVerifier)
}

func TestRequestAccessToken_ValidationMakesNoCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	doer := mocks.NewMockDoer(ctrl)
	doer.EXPECT().Do(gomock.Any()).Times(0)

	exec, err := transport.NewExecutor(transport.Options{}, transport.WithDoer(doer))
	require.NoError(t, err)

	cfg := ProviderConfig{
		ID:   "mocked",
		Kind: KindOAuth2,
		Endpoints: map[EndpointRole]Endpoint{
			RoleAccessToken: {URL: "https://provider.example.com/token"},
		},
		OAuth2: OAuth2Settings{ClientID: "id", ClientSecret: "secret"},
	}
	a, _ := testOAuth2(t, cfg, WithExecutor(exec))

	tests := []struct {
		name    string
		req     TokenRequest
		wantErr error
	}{
		{
			name:    "authorization_code without redirect_uri",
			req:     TokenRequest{GrantType: GrantAuthorizationCode, Code: "c"},
			wantErr: ErrMissingGrantField,
		},
		{
			name:    "password without password",
			req:     TokenRequest{GrantType: GrantPassword, Username: "u"},
			wantErr: ErrMissingGrantField,
		},
		{
			name:    "refresh without token",
			req:     TokenRequest{GrantType: GrantRefreshToken},
			wantErr: ErrMissingGrantField,
		},
		{
			name:    "unknown grant",
			req:     TokenRequest{GrantType: "device_code"},
			wantErr: ErrInvalidGrantType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := a.RequestAccessToken(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, env)
		})
	}

	cfg.OAuth2.AuthType = "DIGEST"
	a, _ = testOAuth2(t, cfg, WithExecutor(exec))
	_, err = a.RequestAccessToken(context.Background(), TokenRequest{GrantType: GrantClientCredentials})
	assert.ErrorIs(t, err, ErrInvalidAuthType)
}

func TestRequestAccessToken_CredentialPlacement(t *testing.T) {
	tests := []struct {
		authType   AuthType
		wantSecret bool
		wantBasic  bool
	}{
		{authType: AuthTypeForm, wantSecret: true},
		{authType: AuthTypeURI, wantSecret: true},
		{authType: AuthTypeBasic, wantBasic: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.authType), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			doer := mocks.NewMockDoer(ctrl)

			var got *http.Request
			var form url.Values
			doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
				got = req
				body, _ := io.ReadAll(req.Body)
				form, _ = url.ParseQuery(string(body))
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"Content-Type": {"application/json"}},
					Body:       io.NopCloser(strings.NewReader(`{"access_token":"t"}`)),
				}, nil
			}).Times(1)

			exec, err := transport.NewExecutor(transport.Options{}, transport.WithDoer(doer))
			require.NoError(t, err)
			cfg := ProviderConfig{
				ID:   "placement",
				Kind: KindOAuth2,
				Endpoints: map[EndpointRole]Endpoint{
					RoleAccessToken: {URL: "https://provider.example.com/token", Params: map[string]string{"audience": "api"}},
				},
				OAuth2: OAuth2Settings{ClientID: "my id", ClientSecret: "s3cret", AuthType: tt.authType},
			}
			a, _ := testOAuth2(t, cfg, WithExecutor(exec))

			_, err = a.RequestAccessToken(context.Background(), TokenRequest{GrantType: GrantClientCredentials})
			require.NoError(t, err)

			assert.Equal(t, http.MethodPost, got.Method)
			assert.Equal(t, "my id", form.Get("client_id"))
			assert.Equal(t, "api", form.Get("audience"))
			assert.Equal(t, "client_credentials", form.Get("grant_type"))
			if tt.wantSecret {
				assert.Equal(t, "s3cret", form.Get("client_secret"))
				assert.Empty(t, got.Header.Get("Authorization"))
			}
			if tt.wantBasic {
				assert.Empty(t, form.Get("client_secret"))
				want := "Basic " + base64.StdEncoding.EncodeToString([]byte("my id:s3cret"))
				assert.Equal(t, want, got.Header.Get("Authorization"))
			}
		})
	}
}

func TestProcessReceivedToken_RoundTrip(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	ok, err := a.ProcessReceivedToken(ctx, TokenExchangeResult{Scope: "read"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.ProcessReceivedToken(ctx, TokenExchangeResult{
		AccessToken:           "access",
		RefreshToken:          "refresh",
		ExpiresIn:             120,
		RefreshTokenExpiresIn: 3600,
		Scope:                 "read write",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	want := TokenState{
		AccessToken:         "access",
		AccessTokenExpires:  fixedNow.Unix() + 120,
		RefreshToken:        "refresh",
		RefreshTokenExpires: fixedNow.Unix() + 3600,
		Scope:               "read write",
		ProfileRefresh:      true,
	}
	assert.Equal(t, want, st)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	var decoded TokenState
	require.NoError(t, json.Unmarshal(data, &decoded))

	other, _ := testOAuth2(t, p.config())
	require.NoError(t, other.Restore(ctx, decoded))
	restored, err := other.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, restored)

	tok, err := a.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, fixedNow.Unix()+120, tok.Expiry.Unix())
	assert.Equal(t, "read write", tok.Extra("scope"))
}

func TestToken_NotAuthorized(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	_, err := a.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestFetch(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	_, err := a.Fetch(ctx, inbound(nil), transport.Call{URL: "/user"})
	require.ErrorIs(t, err, ErrNotAuthorized)

	authorize(t, a)

	res, err := a.Fetch(ctx, inbound(nil), transport.Call{URL: "/user"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, res.Result.Status)
	assert.Equal(t, http.StatusOK, res.Envelope.Code)
	assert.Equal(t, "octocat", res.Envelope.JSON().Get("login").String())
}

func TestFetch_URITokenWithBody(t *testing.T) {
	var (
		gotQuery url.Values
		gotBody  string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer api.Close()

	p := newFakeProvider(t)
	cfg := p.config()
	cfg.OAuth2.AccessTokenType = AccessTokenURI
	cfg.Endpoints[RoleService] = Endpoint{URL: api.URL + "/v1", Params: map[string]string{"api_version": "3"}}
	a, _ := testOAuth2(t, cfg)
	ctx := context.Background()
	require.NoError(t, a.Restore(ctx, TokenState{AccessToken: "at-uri"}))

	tests := []struct {
		name string
		url  string
	}{
		{name: "relative", url: "/items"},
		{name: "absolute on service host", url: api.URL + "/v1/items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotQuery, gotBody = nil, ""
			res, err := a.Fetch(ctx, inbound(nil), transport.Call{
				Method:  http.MethodPost,
				URL:     tt.url,
				Headers: http.Header{"Content-Type": {"application/json"}},
				Body:    []byte(`{"name":"x"}`),
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.Envelope.Code)
			assert.Equal(t, "at-uri", gotQuery.Get("access_token"))
			assert.Equal(t, "3", gotQuery.Get("api_version"))
			assert.Equal(t, `{"name":"x"}`, gotBody)
		})
	}
}

func TestFetch_RefreshesExpiredToken(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	require.NoError(t, a.Restore(ctx, TokenState{
		AccessToken:        "expired",
		AccessTokenExpires: fixedNow.Add(-1).Unix(),
		RefreshToken:       "rt-1",
	}))

	res, err := a.Fetch(ctx, inbound(nil), transport.Call{Method: http.MethodGet, URL: p.srv.URL + "/api/user"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Envelope.Code)

	form := p.lastTokenForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-1", form.Get("refresh_token"))

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-2", st.AccessToken)
	assert.Equal(t, "rt-1", st.RefreshToken, "refresh token is kept when the provider does not rotate it")
	assert.Equal(t, fixedNow.Unix()+3600, st.AccessTokenExpires)
}

func TestFetch_ReauthorizesOnRejectedToken(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()

	authorize(t, a)
	p.setValidToken("rotated-elsewhere")

	res, err := a.Fetch(ctx, inbound(nil), transport.Call{URL: "user"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Envelope.Code)
	assert.Equal(t, StatusRedirectRequired, res.Result.Status)
	assert.Contains(t, res.Result.RedirectURL, p.srv.URL+"/authorize")

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.AccessToken)
	assert.Empty(t, st.RefreshToken)
	assert.Equal(t, res.Result.RedirectURL, st.AuthorizationURL)
}

func TestRevoke(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()
	authorize(t, a)

	require.NoError(t, a.Revoke(ctx, "583231"))

	p.mu.Lock()
	require.Len(t, p.revokeForms, 1)
	form := p.revokeForms[0]
	p.mu.Unlock()
	assert.Equal(t, "at-1", form.Get("token"))
	assert.Equal(t, "access_token", form.Get("token_type_hint"))
	assert.Equal(t, "583231", form.Get("user_id"))

	res, err := a.Authorized(ctx, inbound(nil), false)
	require.NoError(t, err)
	assert.Equal(t, StatusUnauthorized, res.Status)
}

func TestResetAuthorization_LeavesOtherProviders(t *testing.T) {
	p := newFakeProvider(t)
	a, s := testOAuth2(t, p.config())
	ctx := context.Background()
	authorize(t, a)
	require.NoError(t, s.Set(ctx, "other.access_token", "keep", true))

	require.NoError(t, a.ResetAuthorization(ctx))

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, TokenState{}, st)
	v, err := s.Get(ctx, "other.access_token")
	require.NoError(t, err)
	assert.Equal(t, "keep", v)
}

func TestFetchIdentity(t *testing.T) {
	p := newFakeProvider(t)
	a, _ := testOAuth2(t, p.config())
	ctx := context.Background()
	authorize(t, a)

	user, res, err := FetchIdentity(ctx, a, inbound(nil))
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, res.Status)
	assert.Equal(t, "583231", user.ID)
	assert.Equal(t, "octocat", user.Login)

	st, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, st.ProfileRefresh)
}
