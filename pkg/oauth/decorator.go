package oauth

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-training/oauth-gatekeeper/pkg/transport"
)

// Decorate attaches token to call the way settings describe.
func Decorate(settings OAuth2Settings, token string, call *transport.Call) error {
	switch settings.AccessTokenType {
	case AccessTokenURI:
		name := settings.AccessTokenParamName
		if name == "" {
			name = "access_token"
		}
		if call.Payload == nil {
			call.Payload = url.Values{}
		}
		call.Payload.Set(name, token)
	case AccessTokenBearer, AccessTokenOAuth:
		header := settings.AuthHeaderName
		if header == "" {
			header = "Bearer"
			if settings.AccessTokenType == AccessTokenOAuth {
				header = "OAuth"
			}
		}
		if call.Headers == nil {
			call.Headers = http.Header{}
		}
		call.Headers.Set("Authorization", header+" "+token)
	case AccessTokenMAC:
		return fmt.Errorf("%w: MAC access tokens", ErrNotImplemented)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAccessTokenType, settings.AccessTokenType)
	}
	return nil
}
