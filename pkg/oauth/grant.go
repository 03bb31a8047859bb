package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// GrantType is an OAuth 2.0 grant type.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantPassword          GrantType = "password"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
)

// requiredGrantFields lists the payload fields each grant must carry.
var requiredGrantFields = map[GrantType][]string{
	GrantAuthorizationCode: {"code", "redirect_uri"},
	GrantPassword:          {"username", "password"},
	GrantClientCredentials: nil,
	GrantRefreshToken:      {"refresh_token"},
}

// TokenRequest is the payload sent to a token endpoint.
type TokenRequest struct {
	GrantType    GrantType
	Code         string
	RedirectURI  string
	State        string
	CodeVerifier string
	Username     string
	Password     string
	RefreshToken string
	Scope        string
	// Extra carries provider specific parameters.
	Extra url.Values
}

// Values encodes the request as form values. Empty fields are omitted.
func (r TokenRequest) Values() url.Values {
	v := url.Values{}
	for k, vs := range r.Extra {
		v[k] = append([]string(nil), vs...)
	}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("grant_type", string(r.GrantType))
	set("code", r.Code)
	set("redirect_uri", r.RedirectURI)
	set("state", r.State)
	set("code_verifier", r.CodeVerifier)
	set("username", r.Username)
	set("password", r.Password)
	set("refresh_token", r.RefreshToken)
	set("scope", r.Scope)
	return v
}

// ValidateGrant checks that r carries every field its grant type requires
// and returns the encoded payload.
func ValidateGrant(r TokenRequest) (url.Values, error) {
	gt := GrantType(strings.ToLower(string(r.GrantType)))
	fields, ok := requiredGrantFields[gt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGrantType, r.GrantType)
	}
	r.GrantType = gt
	v := r.Values()
	for _, f := range fields {
		if v.Get(f) == "" {
			return nil, fmt.Errorf("%w: %s requires %s", ErrMissingGrantField, gt, f)
		}
	}
	return v, nil
}
