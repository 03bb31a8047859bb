package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProvider is an OAuth 2.0 provider that issues "at-1" for any code.
type fakeProvider struct {
	srv *httptest.Server

	mu       sync.Mutex
	apiCalls int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.apiCalls++
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":1,"login":"octocat","path":"` + r.URL.Path + `","q":"` + r.URL.RawQuery + `"}`))
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apiCalls
}

// writeProviders writes a provider file with one provider, "acme", served
// by p.
func (p *fakeProvider) writeProviders(t *testing.T) string {
	t.Helper()
	data := fmt.Sprintf(`
[[provider]]
id = "acme"
scope = ["read"]
[provider.oauth2]
client_id = "acme-id"
client_secret = "acme-secret"
[provider.endpoints.authorize]
url = "%[1]s/authorize"
[provider.endpoints.access_token]
url = "%[1]s/token"
[provider.endpoints.service]
url = "%[1]s/api"
[provider.endpoints.identity]
url = "%[1]s/api/user"
`, p.srv.URL)
	path := filepath.Join(t.TempDir(), "providers.toml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

// execute runs the root command with args and returns everything it wrote.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	tokenFlags.restore = ""
	revokeFlags.userID = ""
	logoutFlags.all = false
	fetchFlags.method = http.MethodGet
	fetchFlags.data = ""
	mcpFlags.session = ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}
