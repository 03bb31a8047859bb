package oauth

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-training/oauth-gatekeeper/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecorate(t *testing.T) {
	tests := []struct {
		name       string
		settings   OAuth2Settings
		wantHeader string
		wantParam  url.Values
		wantErr    error
	}{
		{
			name:       "bearer",
			settings:   OAuth2Settings{AccessTokenType: AccessTokenBearer},
			wantHeader: "Bearer tok",
		},
		{
			name:       "oauth",
			settings:   OAuth2Settings{AccessTokenType: AccessTokenOAuth},
			wantHeader: "OAuth tok",
		},
		{
			name:       "custom header name",
			settings:   OAuth2Settings{AccessTokenType: AccessTokenBearer, AuthHeaderName: "token"},
			wantHeader: "token tok",
		},
		{
			name:      "uri",
			settings:  OAuth2Settings{AccessTokenType: AccessTokenURI},
			wantParam: url.Values{"q": {"go"}, "access_token": {"tok"}},
		},
		{
			name:      "uri custom param",
			settings:  OAuth2Settings{AccessTokenType: AccessTokenURI, AccessTokenParamName: "oauth_token"},
			wantParam: url.Values{"q": {"go"}, "oauth_token": {"tok"}},
		},
		{
			name:     "mac",
			settings: OAuth2Settings{AccessTokenType: AccessTokenMAC},
			wantErr:  ErrNotImplemented,
		},
		{
			name:     "unknown",
			settings: OAuth2Settings{AccessTokenType: "JWT"},
			wantErr:  ErrInvalidAccessTokenType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := transport.Call{URL: "https://api.example.com", Payload: url.Values{"q": {"go"}}}
			err := Decorate(tt.settings, "tok", &call)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantHeader != "" {
				assert.Equal(t, tt.wantHeader, call.Headers.Get("Authorization"))
				assert.Equal(t, url.Values{"q": {"go"}}, call.Payload)
			}
			if tt.wantParam != nil {
				assert.Equal(t, tt.wantParam, call.Payload)
				assert.Empty(t, http.Header(call.Headers).Get("Authorization"))
			}
		})
	}
}
