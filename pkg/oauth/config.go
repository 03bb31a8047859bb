package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind selects the protocol a provider speaks.
type Kind string

const (
	KindOAuth2 Kind = "oauth2"
	KindOAuth1 Kind = "oauth1"
)

// FlowType decides how an authorization redirect is delivered.
type FlowType string

const (
	// FlowServerSide returns the redirect URL to the caller in a Result.
	FlowServerSide FlowType = "SERVER_SIDE"
	// FlowClientSide writes the redirect to the inbound response.
	FlowClientSide FlowType = "CLIENT_SIDE"
)

// AuthType decides how client credentials reach the token endpoint.
type AuthType string

const (
	AuthTypeURI   AuthType = "URI"
	AuthTypeForm  AuthType = "FORM"
	AuthTypeBasic AuthType = "BASIC"
)

// AccessTokenType decides how an access token is attached to resource requests.
type AccessTokenType string

const (
	AccessTokenBearer AccessTokenType = "BEARER"
	AccessTokenOAuth  AccessTokenType = "OAUTH"
	AccessTokenURI    AccessTokenType = "URI"
	AccessTokenMAC    AccessTokenType = "MAC"
)

// OAuth2Settings holds the OAuth 2.0 client settings of a provider.
type OAuth2Settings struct {
	ClientID             string          `toml:"client_id" json:"client_id"`
	ClientSecret         string          `toml:"client_secret" json:"-"`
	GrantType            GrantType       `toml:"grant_type" json:"grant_type"`
	AuthType             AuthType        `toml:"auth_type" json:"auth_type"`
	AccessTokenType      AccessTokenType `toml:"access_token_type" json:"access_token_type"`
	AuthHeaderName       string          `toml:"auth_header_name" json:"auth_header_name,omitempty"`
	AccessTokenParamName string          `toml:"access_token_param_name" json:"access_token_param_name,omitempty"`
	PKCE                 bool            `toml:"pkce" json:"pkce"`
}

// OAuth1Settings holds the OAuth 1.0a consumer settings of a provider.
type OAuth1Settings struct {
	ConsumerKey    string `toml:"consumer_key" json:"consumer_key"`
	ConsumerSecret string `toml:"consumer_secret" json:"-"`
}

// ProviderConfig describes one provider. Exactly one of OAuth2 and OAuth1 is
// populated and it matches Kind.
type ProviderConfig struct {
	ID        string                    `toml:"id" json:"id"`
	Kind      Kind                      `toml:"kind" json:"kind"`
	Template  string                    `toml:"template" json:"template,omitempty"`
	// Host is the base URL of a self-hosted instance. Only templates read it.
	Host      string                    `toml:"host" json:"host,omitempty"`
	Endpoints map[EndpointRole]Endpoint `toml:"-" json:"endpoints"`

	OAuth2 OAuth2Settings `toml:"oauth2" json:"oauth2,omitzero"`
	OAuth1 OAuth1Settings `toml:"oauth1" json:"oauth1,omitzero"`

	FlowType         FlowType `toml:"flow_type" json:"flow_type"`
	RedirectURI      string   `toml:"redirect_uri" json:"redirect_uri"`
	RedirectProxyURL string   `toml:"redirect_proxy_url" json:"redirect_proxy_url,omitempty"`
	Scope            []string `toml:"scope" json:"scope,omitempty"`
	CertificateFile  string   `toml:"certificate_file" json:"certificate_file,omitempty"`
	UserAgent        string   `toml:"user_agent" json:"user_agent,omitempty"`
}

// ApplyDefaults fills unset settings with their protocol defaults.
func (c *ProviderConfig) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = KindOAuth2
		if c.OAuth1 != (OAuth1Settings{}) {
			c.Kind = KindOAuth1
		}
	}
	c.Kind = Kind(strings.ToLower(string(c.Kind)))
	if c.FlowType == "" {
		c.FlowType = FlowServerSide
	}
	c.FlowType = FlowType(strings.ToUpper(string(c.FlowType)))
	if c.Kind != KindOAuth2 {
		return
	}
	if c.OAuth2.GrantType == "" {
		c.OAuth2.GrantType = GrantAuthorizationCode
	}
	if c.OAuth2.AuthType == "" {
		c.OAuth2.AuthType = AuthTypeForm
	}
	if c.OAuth2.AccessTokenType == "" {
		c.OAuth2.AccessTokenType = AccessTokenBearer
	}
	c.OAuth2.AuthType = AuthType(strings.ToUpper(string(c.OAuth2.AuthType)))
	c.OAuth2.AccessTokenType = AccessTokenType(strings.ToUpper(string(c.OAuth2.AccessTokenType)))
}

// Validate checks that the configuration is usable.
func (c *ProviderConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id cannot be empty")
	}
	if strings.ContainsAny(c.ID, `.:*?[]\`) {
		return fmt.Errorf("provider id %q contains reserved characters", c.ID)
	}

	hasOAuth2 := c.OAuth2 != (OAuth2Settings{})
	hasOAuth1 := c.OAuth1 != (OAuth1Settings{})

	switch c.Kind {
	case KindOAuth2:
		if !hasOAuth2 || hasOAuth1 {
			return fmt.Errorf("%w: %s provider %q needs oauth2 settings only", ErrInvalidProviderKind, c.Kind, c.ID)
		}
		if c.OAuth2.ClientID == "" || c.OAuth2.ClientSecret == "" {
			return fmt.Errorf("%w: provider %q", ErrMissingClientCredentials, c.ID)
		}
	case KindOAuth1:
		if !hasOAuth1 || hasOAuth2 {
			return fmt.Errorf("%w: %s provider %q needs oauth1 settings only", ErrInvalidProviderKind, c.Kind, c.ID)
		}
		if c.OAuth1.ConsumerKey == "" || c.OAuth1.ConsumerSecret == "" {
			return fmt.Errorf("%w: provider %q", ErrMissingClientCredentials, c.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProviderKind, c.Kind)
	}

	switch c.FlowType {
	case FlowServerSide, FlowClientSide, "":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFlowType, c.FlowType)
	}

	for role := range c.Endpoints {
		if !role.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidEndpointType, role)
		}
	}
	return nil
}

// EndpointMap builds the endpoint lookup table for the provider.
func (c *ProviderConfig) EndpointMap() (*EndpointMap, error) {
	return NewEndpointMap(c.Endpoints)
}

// ScopeString joins the configured scopes with spaces.
func (c *ProviderConfig) ScopeString() string {
	return strings.Join(c.Scope, " ")
}

// CallbackURL returns the URL the provider should redirect back to.
func (c *ProviderConfig) CallbackURL() string {
	if c.RedirectProxyURL != "" {
		return c.RedirectProxyURL
	}
	return c.RedirectURI
}

// OwnsURL reports whether raw may receive this provider's credentials:
// relative resources, or absolute URLs on the host of a configured endpoint.
func (c *ProviderConfig) OwnsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !u.IsAbs() && u.Host == "" {
		return true
	}
	for _, ep := range c.Endpoints {
		if sameHost(u, ep.URL) {
			return true
		}
	}
	return false
}
