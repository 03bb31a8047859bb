package oauth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfig_ApplyDefaults(t *testing.T) {
	cfg := ProviderConfig{
		ID:     "p",
		Kind:   "OAuth2",
		OAuth2: OAuth2Settings{ClientID: "id", ClientSecret: "s", AuthType: "basic"},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, KindOAuth2, cfg.Kind)
	assert.Equal(t, FlowServerSide, cfg.FlowType)
	assert.Equal(t, GrantAuthorizationCode, cfg.OAuth2.GrantType)
	assert.Equal(t, AuthTypeBasic, cfg.OAuth2.AuthType)
	assert.Equal(t, AccessTokenBearer, cfg.OAuth2.AccessTokenType)

	legacy := ProviderConfig{ID: "l", OAuth1: OAuth1Settings{ConsumerKey: "k", ConsumerSecret: "s"}, FlowType: "client_side"}
	legacy.ApplyDefaults()
	assert.Equal(t, KindOAuth1, legacy.Kind)
	assert.Equal(t, FlowClientSide, legacy.FlowType)
	assert.Equal(t, OAuth2Settings{}, legacy.OAuth2)
}

func TestProviderConfig_Validate(t *testing.T) {
	oauth2 := OAuth2Settings{ClientID: "id", ClientSecret: "secret"}
	oauth1 := OAuth1Settings{ConsumerKey: "key", ConsumerSecret: "secret"}

	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr error
	}{
		{name: "oauth2", cfg: ProviderConfig{ID: "a", Kind: KindOAuth2, OAuth2: oauth2}},
		{name: "oauth1", cfg: ProviderConfig{ID: "b", Kind: KindOAuth1, OAuth1: oauth1}},
		{name: "both settings", cfg: ProviderConfig{ID: "c", Kind: KindOAuth2, OAuth2: oauth2, OAuth1: oauth1}, wantErr: ErrInvalidProviderKind},
		{name: "kind mismatch", cfg: ProviderConfig{ID: "d", Kind: KindOAuth1, OAuth2: oauth2}, wantErr: ErrInvalidProviderKind},
		{name: "unknown kind", cfg: ProviderConfig{ID: "e", Kind: "saml", OAuth2: oauth2}, wantErr: ErrInvalidProviderKind},
		{name: "missing secret", cfg: ProviderConfig{ID: "f", Kind: KindOAuth2, OAuth2: OAuth2Settings{ClientID: "id"}}, wantErr: ErrMissingClientCredentials},
		{name: "missing consumer secret", cfg: ProviderConfig{ID: "g", Kind: KindOAuth1, OAuth1: OAuth1Settings{ConsumerKey: "k"}}, wantErr: ErrMissingClientCredentials},
		{name: "bad flow", cfg: ProviderConfig{ID: "h", Kind: KindOAuth2, OAuth2: oauth2, FlowType: "POPUP"}, wantErr: ErrInvalidFlowType},
		{name: "bad role", cfg: ProviderConfig{ID: "i", Kind: KindOAuth2, OAuth2: oauth2, Endpoints: map[EndpointRole]Endpoint{"token": {URL: "u"}}}, wantErr: ErrInvalidEndpointType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	for _, id := range []string{"", "a.b", "a:b", "a*", "a?", "a[b", "a]", `a\b`} {
		cfg := ProviderConfig{ID: id, Kind: KindOAuth2, OAuth2: oauth2}
		assert.Error(t, cfg.Validate(), "id %q", id)
	}
}

func TestProviderConfig_CallbackURL(t *testing.T) {
	cfg := ProviderConfig{RedirectURI: "http://app/cb"}
	assert.Equal(t, "http://app/cb", cfg.CallbackURL())
	cfg.RedirectProxyURL = "https://proxy/cb"
	assert.Equal(t, "https://proxy/cb", cfg.CallbackURL())
}

func TestMergeTemplate(t *testing.T) {
	merged, err := MergeTemplate("GitHub", ProviderConfig{
		Host:   "https://ghe.example.com/",
		OAuth2: OAuth2Settings{ClientID: "id", ClientSecret: "secret"},
		Endpoints: map[EndpointRole]Endpoint{
			RoleService: {URL: "https://proxy.example.com/api"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "github", merged.ID)
	assert.Equal(t, "github", merged.Template)
	assert.Equal(t, KindOAuth2, merged.Kind)
	assert.Equal(t, "id", merged.OAuth2.ClientID)
	assert.Equal(t, GrantAuthorizationCode, merged.OAuth2.GrantType)
	assert.Equal(t, "https://ghe.example.com/login/oauth/authorize", merged.Endpoints[RoleAuthorize].URL)
	assert.Equal(t, "https://ghe.example.com/api/v3/user", merged.Endpoints[RoleIdentity].URL)
	assert.Equal(t, "https://proxy.example.com/api", merged.Endpoints[RoleService].URL)
	assert.Equal(t, []string{"read:user", "user:email"}, merged.Scope)
	require.NoError(t, merged.Validate())

	scoped, err := MergeTemplate("gitlab", ProviderConfig{ID: "work", Scope: []string{"api"}})
	require.NoError(t, err)
	assert.Equal(t, "work", scoped.ID)
	assert.Equal(t, []string{"api"}, scoped.Scope)
	assert.True(t, scoped.OAuth2.PKCE)
	assert.Equal(t, "https://gitlab.com/oauth/revoke", scoped.Endpoints[RoleRevoke].URL)

	_, err = MergeTemplate("myspace", ProviderConfig{})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestTemplateNames(t *testing.T) {
	assert.Equal(t, []string{"gitea", "github", "gitlab", "google", "twitter"}, TemplateNames())
	for _, name := range TemplateNames() {
		cfg, err := MergeTemplate(name, ProviderConfig{})
		require.NoError(t, err, name)
		cfg.ApplyDefaults()
		_, err = cfg.EndpointMap()
		require.NoError(t, err, name)
		assert.True(t, cfg.Endpoints[RoleAuthorize].URL != "", name)
	}
}

const providersTOML = `
[[provider]]
id = "gh"
template = "github"
redirect_uri = "http://localhost:8080/auth/gh/callback"
[provider.oauth2]
client_id = "gh-id"
client_secret = "gh-secret"
[provider.endpoints.SERVICE]
url = "https://ghe.example.com/api"

[[provider]]
id = "custom"
scope = ["a", "b"]
flow_type = "client_side"
[provider.oauth2]
client_id = "c-id"
client_secret = "c-secret"
auth_type = "basic"
[provider.endpoints.authorize]
url = "https://custom.example.com/auth"
params = { prompt = "login" }
[provider.endpoints.access-token]
url = "https://custom.example.com/token"

[[provider]]
id = "tw"
template = "twitter"
[provider.oauth1]
consumer_key = "ck"
consumer_secret = "cs"
`

func TestParseProviders(t *testing.T) {
	cfgs, err := ParseProviders([]byte(providersTOML))
	require.NoError(t, err)
	require.Len(t, cfgs, 3)

	gh := cfgs[0]
	assert.Equal(t, "gh", gh.ID)
	assert.Equal(t, "github", gh.Template)
	assert.Equal(t, "https://ghe.example.com/api", gh.Endpoints[RoleService].URL)
	assert.Equal(t, "https://github.com/login/oauth/access_token", gh.Endpoints[RoleAccessToken].URL)
	assert.Equal(t, FlowServerSide, gh.FlowType)

	custom := cfgs[1]
	assert.Equal(t, KindOAuth2, custom.Kind)
	assert.Equal(t, FlowClientSide, custom.FlowType)
	assert.Equal(t, AuthTypeBasic, custom.OAuth2.AuthType)
	assert.Equal(t, []string{"a", "b"}, custom.Scope)
	assert.Equal(t, map[string]string{"prompt": "login"}, custom.Endpoints[RoleAuthorize].Params)
	assert.Equal(t, "https://custom.example.com/token", custom.Endpoints[RoleAccessToken].URL)

	tw := cfgs[2]
	assert.Equal(t, KindOAuth1, tw.Kind)
	assert.Equal(t, "ck", tw.OAuth1.ConsumerKey)
	assert.True(t, tw.Endpoints[RoleRequestToken].URL != "")
}

func TestParseProviders_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name: "unknown field",
			data: "[[provider]]\nid = \"x\"\ncolour = \"red\"\n",
		},
		{
			name:    "unknown template",
			data:    "[[provider]]\nid = \"x\"\ntemplate = \"myspace\"\n",
			wantErr: ErrUnknownTemplate,
		},
		{
			name:    "missing credentials",
			data:    "[[provider]]\nid = \"x\"\ntemplate = \"github\"\n[provider.oauth2]\nclient_id = \"id\"\n",
			wantErr: ErrMissingClientCredentials,
		},
		{
			name:    "bad role",
			data:    "[[provider]]\nid = \"x\"\n[provider.endpoints.callback]\nurl = \"u\"\n",
			wantErr: ErrInvalidEndpointType,
		},
		{
			name: "duplicate id",
			data: "[[provider]]\ntemplate = \"github\"\n[provider.oauth2]\nclient_id = \"a\"\nclient_secret = \"b\"\n" +
				"[[provider]]\ntemplate = \"github\"\n[provider.oauth2]\nclient_id = \"c\"\nclient_secret = \"d\"\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProviders([]byte(tt.data))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoadProviderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.toml")
	require.NoError(t, os.WriteFile(path, []byte(providersTOML), 0o600))

	cfgs, err := LoadProviderFile(path)
	require.NoError(t, err)
	assert.Len(t, cfgs, 3)

	_, err = LoadProviderFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProviderConfig_OwnsURL(t *testing.T) {
	cfg := ProviderConfig{Endpoints: map[EndpointRole]Endpoint{
		RoleService:     {URL: "https://api.example.com/v1"},
		RoleAccessToken: {URL: "https://login.example.com/token"},
	}}
	tests := []struct {
		raw  string
		want bool
	}{
		{raw: "/user", want: true},
		{raw: "repos/a/b?page=2", want: true},
		{raw: "https://api.example.com/other", want: true},
		{raw: "https://API.example.com/other", want: true},
		{raw: "https://login.example.com/userinfo", want: true},
		{raw: "http://api.example.com/user", want: false},
		{raw: "https://evil.example.com/user", want: false},
		{raw: "//evil.example.com/user", want: false},
		{raw: "https://api.example.com:8443/user", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.OwnsURL(tt.raw), tt.raw)
	}
}
