package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAuthType is returned when a provider uses an auth type other than URI, FORM or BASIC.
	ErrInvalidAuthType = errors.New("invalid auth type")
	// ErrInvalidGrantType is returned for a grant type the validator does not know.
	ErrInvalidGrantType = errors.New("invalid grant type")
	// ErrMissingGrantField is returned when a token request lacks a field its grant requires.
	ErrMissingGrantField = errors.New("missing grant field")
	// ErrInvalidEndpointType is returned for an endpoint role outside the known set.
	ErrInvalidEndpointType = errors.New("invalid endpoint type")
	// ErrUnmappedEndpoint is returned when no endpoint is mapped for a role and no default exists.
	ErrUnmappedEndpoint = errors.New("endpoint not mapped")
	// ErrMissingClientCredentials is returned when a provider has no client id/secret or consumer key/secret.
	ErrMissingClientCredentials = errors.New("missing client credentials")
	// ErrInvalidProviderKind is returned when the provider kind does not match its settings.
	ErrInvalidProviderKind = errors.New("invalid provider kind")
	// ErrInvalidFlowType is returned for a flow type other than SERVER_SIDE or CLIENT_SIDE.
	ErrInvalidFlowType = errors.New("invalid flow type")
	// ErrUnknownProvider is returned when a registry has no provider with the given id.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnknownTemplate is returned when a provider names a template that does not exist.
	ErrUnknownTemplate = errors.New("unknown provider template")

	// ErrUnsupportedGrantFlow is returned when an interactive flow is requested for a non authorization_code grant.
	ErrUnsupportedGrantFlow = errors.New("grant type does not support interactive authorization")
	// ErrResponseCommitted signals that a redirect was written to the inbound response.
	// The caller must not write anything else for this request.
	ErrResponseCommitted = errors.New("response committed")
	// ErrNoResponseWriter is returned when a client-side redirect has nowhere to be written.
	ErrNoResponseWriter = errors.New("client-side flow requires a response writer")
	// ErrNotAuthorized is returned when a fetch is attempted without an access token.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidState is returned when the callback state does not verify.
	ErrInvalidState = errors.New("invalid state parameter")

	// ErrProviderError matches every *ProviderError.
	ErrProviderError = errors.New("provider returned an error")
	// ErrMalformedTokenResponse is returned when a token endpoint answers with an unusable body.
	ErrMalformedTokenResponse = errors.New("malformed token response")

	// ErrNotImplemented is returned for token types the decorator cannot apply.
	ErrNotImplemented = errors.New("not implemented")
	// ErrInvalidAccessTokenType is returned for an unknown access token type.
	ErrInvalidAccessTokenType = errors.New("invalid access token type")
)

// ProviderError carries the error a provider reported in a callback or token response.
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Description)
	}
	return "provider error " + e.Code
}

// Is reports whether target is ErrProviderError.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderError
}
