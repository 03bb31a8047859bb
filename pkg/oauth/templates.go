package oauth

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"dario.cat/mergo"
)

type templateFunc func(host string) ProviderConfig

var templates = map[string]templateFunc{
	"github": func(host string) ProviderConfig {
		api := "https://api.github.com"
		if host == "" {
			host = "https://github.com"
		} else {
			api = host + "/api/v3"
		}
		return ProviderConfig{
			Kind: KindOAuth2,
			Endpoints: map[EndpointRole]Endpoint{
				RoleAuthorize:   {URL: host + "/login/oauth/authorize"},
				RoleAccessToken: {URL: host + "/login/oauth/access_token"},
				RoleService:     {URL: api},
				RoleIdentity:    {URL: api + "/user"},
			},
			OAuth2: OAuth2Settings{
				GrantType:       GrantAuthorizationCode,
				AuthType:        AuthTypeForm,
				AccessTokenType: AccessTokenBearer,
			},
			Scope: []string{"read:user", "user:email"},
		}
	},
	"gitlab": func(host string) ProviderConfig {
		if host == "" {
			host = "https://gitlab.com"
		}
		return ProviderConfig{
			Kind: KindOAuth2,
			Endpoints: map[EndpointRole]Endpoint{
				RoleAuthorize:   {URL: host + "/oauth/authorize"},
				RoleAccessToken: {URL: host + "/oauth/token"},
				RoleRevoke:      {URL: host + "/oauth/revoke"},
				RoleService:     {URL: host + "/api/v4"},
				RoleIdentity:    {URL: host + "/api/v4/user"},
			},
			OAuth2: OAuth2Settings{
				GrantType:       GrantAuthorizationCode,
				AuthType:        AuthTypeForm,
				AccessTokenType: AccessTokenBearer,
				PKCE:            true,
			},
			Scope: []string{"read_user"},
		}
	},
	"gitea": func(host string) ProviderConfig {
		if host == "" {
			host = "https://gitea.com"
		}
		return ProviderConfig{
			Kind: KindOAuth2,
			Endpoints: map[EndpointRole]Endpoint{
				RoleAuthorize:   {URL: host + "/login/oauth/authorize"},
				RoleAccessToken: {URL: host + "/login/oauth/access_token"},
				RoleService:     {URL: host + "/api/v1"},
				RoleIdentity:    {URL: host + "/api/v1/user"},
			},
			OAuth2: OAuth2Settings{
				GrantType:       GrantAuthorizationCode,
				AuthType:        AuthTypeForm,
				AccessTokenType: AccessTokenBearer,
				PKCE:            true,
			},
			Scope: []string{"read:user"},
		}
	},
	"google": func(string) ProviderConfig {
		return ProviderConfig{
			Kind: KindOAuth2,
			Endpoints: map[EndpointRole]Endpoint{
				RoleAuthorize: {
					URL:    "https://accounts.google.com/o/oauth2/v2/auth",
					Params: map[string]string{"access_type": "offline", "prompt": "consent"},
				},
				RoleAccessToken: {URL: "https://oauth2.googleapis.com/token"},
				RoleRevoke:      {URL: "https://oauth2.googleapis.com/revoke"},
				RoleService:     {URL: "https://www.googleapis.com"},
				RoleIdentity:    {URL: "https://openidconnect.googleapis.com/v1/userinfo"},
			},
			OAuth2: OAuth2Settings{
				GrantType:       GrantAuthorizationCode,
				AuthType:        AuthTypeForm,
				AccessTokenType: AccessTokenBearer,
				PKCE:            true,
			},
			Scope: []string{"openid", "email", "profile"},
		}
	},
	"twitter": func(string) ProviderConfig {
		return ProviderConfig{
			Kind: KindOAuth1,
			Endpoints: map[EndpointRole]Endpoint{
				RoleRequestToken: {URL: "https://api.twitter.com/oauth/request_token"},
				RoleAuthorize:    {URL: "https://api.twitter.com/oauth/authorize"},
				RoleAccessToken:  {URL: "https://api.twitter.com/oauth/access_token"},
				RoleRevoke:       {URL: "https://api.twitter.com/1.1/oauth/invalidate_token"},
				RoleService:      {URL: "https://api.twitter.com/1.1"},
				RoleIdentity:     {URL: "https://api.twitter.com/1.1/account/verify_credentials.json"},
			},
		}
	},
}

// TemplateNames returns the built-in template names in sorted order.
func TemplateNames() []string {
	return slices.Sorted(maps.Keys(templates))
}

// MergeTemplate fills the unset fields of overrides from the named template.
// Values set in overrides always win. Endpoints are merged per role.
func MergeTemplate(name string, overrides ProviderConfig) (ProviderConfig, error) {
	fn, ok := templates[strings.ToLower(name)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	tmpl := fn(strings.TrimRight(overrides.Host, "/"))

	merged := overrides
	merged.Scope = slices.Clone(overrides.Scope)
	merged.Endpoints = maps.Clone(overrides.Endpoints)
	if err := mergo.Merge(&merged, tmpl); err != nil {
		return ProviderConfig{}, fmt.Errorf("failed to merge template %q: %w", name, err)
	}

	merged.Template = strings.ToLower(name)
	if merged.ID == "" {
		merged.ID = merged.Template
	}
	return merged, nil
}
