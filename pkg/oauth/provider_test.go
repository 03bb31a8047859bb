package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/store"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-process OAuth 2.0 provider.
type fakeProvider struct {
	srv *httptest.Server

	mu            sync.Mutex
	tokenCalls    int
	tokenForms    []url.Values
	tokenHeaders  []http.Header
	revokeForms   []url.Values
	validToken    string
	tokenResponse func(form url.Values) (status int, contentType, body string)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("POST /revoke", p.handleRevoke)
	mux.HandleFunc("GET /api/user", p.handleUser)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.tokenCalls++
	p.tokenForms = append(p.tokenForms, r.PostForm)
	p.tokenHeaders = append(p.tokenHeaders, r.Header.Clone())
	respond := p.tokenResponse
	p.mu.Unlock()

	if respond != nil {
		status, contentType, body := respond(r.PostForm)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.setValidToken("at-1")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"bearer","scope":"read write"}`))
	case "refresh_token":
		p.setValidToken("at-2")
		_, _ = w.Write([]byte(`{"access_token":"at-2","expires_in":3600,"token_type":"bearer"}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
	}
}

func (p *fakeProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.revokeForms = append(p.revokeForms, r.PostForm)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *fakeProvider) handleUser(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	valid := p.validToken
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if valid == "" || r.Header.Get("Authorization") != "Bearer "+valid {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"token revoked"}`))
		return
	}
	_, _ = w.Write([]byte(`{"id":583231,"login":"octocat","name":"The Octocat","email":"octo@example.com"}`))
}

func (p *fakeProvider) setValidToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validToken = token
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

func (p *fakeProvider) lastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokenForms) == 0 {
		return nil
	}
	return p.tokenForms[len(p.tokenForms)-1]
}

func (p *fakeProvider) config() ProviderConfig {
	return ProviderConfig{
		ID:       "test",
		Kind:     KindOAuth2,
		Template: "github",
		Endpoints: map[EndpointRole]Endpoint{
			RoleAuthorize:   {URL: p.srv.URL + "/authorize", Params: map[string]string{"allow_signup": "false"}},
			RoleAccessToken: {URL: p.srv.URL + "/token"},
			RoleService:     {URL: p.srv.URL + "/api"},
			RoleIdentity:    {URL: p.srv.URL + "/api/user"},
			RoleRevoke:      {URL: p.srv.URL + "/revoke"},
		},
		OAuth2: OAuth2Settings{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		},
		RedirectURI: "http://app.example.com/auth/test/callback",
		Scope:       []string{"read", "write"},
	}
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// testAuthorizer wires an authorizer to a memory store with a fixed clock.
func testAuthorizer(t *testing.T, cfg ProviderConfig, opts ...Option) (Authorizer, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	opts = append([]Option{
		WithStateSigner(NewStateSigner([]byte("test-secret"))),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	a, err := New(cfg, s, opts...)
	require.NoError(t, err)
	return a, s
}

func testOAuth2(t *testing.T, cfg ProviderConfig, opts ...Option) (*OAuth2Authorizer, *store.MemoryStore) {
	t.Helper()
	a, s := testAuthorizer(t, cfg, opts...)
	o, ok := a.(*OAuth2Authorizer)
	require.True(t, ok, "New() returned %T", a)
	return o, s
}

func inbound(query url.Values) Request {
	return Request{
		Query:      query,
		Method:     http.MethodGet,
		Referrer:   "http://app.example.com/",
		RemoteAddr: "10.0.0.1:5555",
		Origin:     "app.example.com",
	}
}

// authorize runs the authorization code flow to completion.
func authorize(t *testing.T, a *OAuth2Authorizer) {
	t.Helper()
	ctx := context.Background()
	res, err := a.CheckAuthenticationProgress(ctx, inbound(nil))
	require.NoError(t, err)
	require.Equal(t, StatusRedirectRequired, res.Status)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	res, err = a.CheckAuthenticationProgress(ctx, inbound(url.Values{
		"code":  {"auth-code"},
		"state": {u.Query().Get("state")},
	}))
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, res.Status)
}
