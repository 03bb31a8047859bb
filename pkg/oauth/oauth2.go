package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"golang.org/x/oauth2"
)

// OAuth2Authorizer runs the OAuth 2.0 authorization code flow and keeps the
// resulting tokens fresh.
type OAuth2Authorizer struct {
	*base
}

var _ Authorizer = (*OAuth2Authorizer)(nil)

func (a *OAuth2Authorizer) Authorized(ctx context.Context, req Request, startFlow bool) (Result, error) {
	token, err := a.get(ctx, FieldAccessToken)
	if err != nil {
		return resultUnauthorized, err
	}
	if token != "" {
		return resultAuthorized, nil
	}
	if !startFlow {
		return resultUnauthorized, nil
	}
	return a.CheckAuthenticationProgress(ctx, req)
}

func (a *OAuth2Authorizer) CheckAuthenticationProgress(ctx context.Context, req Request) (Result, error) {
	token, err := a.get(ctx, FieldAccessToken)
	if err != nil {
		return resultUnauthorized, err
	}
	if token != "" {
		return resultAuthorized, nil
	}

	if a.cfg.OAuth2.GrantType != GrantAuthorizationCode {
		return resultUnauthorized, fmt.Errorf("%w: %s", ErrUnsupportedGrantFlow, a.cfg.OAuth2.GrantType)
	}

	if code := req.Param("error"); code != "" {
		perr := &ProviderError{
			Code:        code,
			Description: req.Param("error_description"),
			URI:         req.Param("error_uri"),
		}
		a.logger.Warn("provider rejected authorization", "error", perr.Code, "description", perr.Description)
		if err := a.RevokeAuthorization(ctx); err != nil {
			return resultUnauthorized, errors.Join(perr, err)
		}
		return resultUnauthorized, perr
	}

	code := req.Param("code")
	if code == "" {
		authURL, err := a.GetAuthorizationURL(ctx, req, nil)
		if err != nil {
			return resultUnauthorized, err
		}
		return a.deliver(req, authURL)
	}

	state := req.Param("state")
	claims, err := a.signer.Verify(state, req)
	if err != nil {
		a.logger.Warn("callback state rejected", "error", err)
		return resultUnauthorized, err
	}
	a.logger.Debug("callback state accepted", "started_method", claims.Method, "started_from", claims.RemoteAddr, "referrer", claims.Referrer)
	verifier, err := core.Take(ctx, a.store, a.key(FieldPKCEVerifier))
	if err != nil {
		return resultUnauthorized, err
	}

	env, err := a.RequestAccessToken(ctx, TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  a.cfg.CallbackURL(),
		State:        state,
		CodeVerifier: verifier,
	})
	if err != nil {
		return resultUnauthorized, err
	}

	return a.acceptTokenResponse(ctx, env)
}

// acceptTokenResponse parses a token endpoint response and stores the token.
// Any failure drops the partially stored authorization.
func (a *OAuth2Authorizer) acceptTokenResponse(ctx context.Context, env *transport.Envelope) (Result, error) {
	fail := func(cause error) (Result, error) {
		if err := a.RevokeAuthorization(ctx); err != nil {
			return resultUnauthorized, errors.Join(cause, err)
		}
		return resultUnauthorized, cause
	}

	res, err := ParseTokenResponse(env)
	if err != nil {
		a.logger.Error("token response could not be parsed", "code", env.Code, "error", err)
		return fail(err)
	}
	if perr := res.ProviderError(); perr != nil {
		a.logger.Warn("token request rejected", "error", perr.Code, "description", perr.Description)
		return fail(perr)
	}

	ok, err := a.ProcessReceivedToken(ctx, res)
	if err != nil {
		return resultUnauthorized, err
	}
	if !ok {
		return fail(fmt.Errorf("%w: no access token (status %d)", ErrMalformedTokenResponse, env.Code))
	}
	a.logger.Info("provider authorized")
	return resultAuthorized, nil
}

// GetAuthorizationURL builds the URL the user is sent to for consent. The
// URL is cached in the credential store.
func (a *OAuth2Authorizer) GetAuthorizationURL(ctx context.Context, req Request, extra url.Values) (string, error) {
	ep, err := a.endpoints.Get(RoleAuthorize)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse authorize URL: %w", err)
	}

	callback := a.cfg.CallbackURL()
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.OAuth2.ClientID)
	if callback != "" {
		q.Set("redirect_uri", callback)
	}
	if scope := a.cfg.ScopeString(); scope != "" {
		q.Set("scope", scope)
	}
	for k, vs := range extra {
		q[k] = append([]string(nil), vs...)
	}
	addParams(&q, ep.Params)

	state, err := a.signer.Sign(req, callback)
	if err != nil {
		return "", err
	}
	q.Set("state", state)

	if a.cfg.OAuth2.PKCE {
		verifier := oauth2.GenerateVerifier()
		if err := a.set(ctx, FieldPKCEVerifier, verifier); err != nil {
			return "", err
		}
		q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
		q.Set("code_challenge_method", "S256")
	}

	u.RawQuery = q.Encode()
	authURL := u.String()
	if err := a.set(ctx, FieldAuthorizationURL, authURL); err != nil {
		return "", err
	}
	if err := a.store.Sync(ctx); err != nil {
		return "", err
	}
	return authURL, nil
}

// applyClientAuth places the client credentials as the auth type demands.
func (a *OAuth2Authorizer) applyClientAuth(values url.Values, headers http.Header) error {
	s := a.cfg.OAuth2
	switch s.AuthType {
	case AuthTypeURI, AuthTypeForm:
		values.Set("client_id", s.ClientID)
		values.Set("client_secret", s.ClientSecret)
	case AuthTypeBasic:
		values.Set("client_id", s.ClientID)
		creds := base64.StdEncoding.EncodeToString([]byte(s.ClientID + ":" + s.ClientSecret))
		headers.Set("Authorization", "Basic "+creds)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAuthType, s.AuthType)
	}
	return nil
}

// RequestAccessToken validates treq and posts it to the token endpoint.
func (a *OAuth2Authorizer) RequestAccessToken(ctx context.Context, treq TokenRequest) (*transport.Envelope, error) {
	values, err := ValidateGrant(treq)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	if err := a.applyClientAuth(values, headers); err != nil {
		return nil, err
	}

	grant := GrantType(values.Get("grant_type"))
	role := RoleAccessToken
	if grant == GrantRefreshToken && a.endpoints.Has(RoleRefreshToken) {
		role = RoleRefreshToken
	}
	ep, err := a.endpoints.Get(role)
	if err != nil {
		return nil, err
	}
	addParams(&values, ep.Params)

	env, err := a.exec.Execute(ctx, transport.Call{
		Method:  http.MethodPost,
		URL:     ep.URL,
		Headers: headers,
		Payload: values,
	})
	if err != nil {
		a.metrics.TokenExchange(a.cfg.ID, string(grant), "transport_error")
		a.logger.Error("token request failed", "grant_type", grant, "error", err)
		return nil, err
	}
	a.metrics.TokenExchange(a.cfg.ID, string(grant), strconv.Itoa(env.Code))
	return env, nil
}

// RequestRefreshToken exchanges the stored refresh token for a new access
// token. It reports false when no refresh token is stored.
func (a *OAuth2Authorizer) RequestRefreshToken(ctx context.Context, extra url.Values) (bool, error) {
	refresh, err := a.get(ctx, FieldRefreshToken)
	if err != nil {
		return false, err
	}
	if refresh == "" {
		return false, nil
	}

	env, err := a.RequestAccessToken(ctx, TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: refresh,
		Extra:        extra,
	})
	if err != nil {
		return false, err
	}
	res, err := a.acceptTokenResponse(ctx, env)
	if err != nil {
		return false, err
	}
	return res.Authorized(), nil
}

// ProcessReceivedToken stores a token exchange result. It reports whether
// the result carried an access token.
func (a *OAuth2Authorizer) ProcessReceivedToken(ctx context.Context, res TokenExchangeResult) (bool, error) {
	now := a.now()
	if res.ExpiresIn > 0 {
		exp := now.Unix() + res.ExpiresIn
		if err := a.set(ctx, FieldAccessTokenExpires, strconv.FormatInt(exp, 10)); err != nil {
			return false, err
		}
	} else if err := a.remove(ctx, FieldAccessTokenExpires); err != nil {
		return false, err
	}
	if res.RefreshToken != "" {
		if err := a.set(ctx, FieldRefreshToken, res.RefreshToken); err != nil {
			return false, err
		}
		if res.RefreshTokenExpiresIn > 0 {
			exp := now.Unix() + res.RefreshTokenExpiresIn
			if err := a.set(ctx, FieldRefreshTokenExpires, strconv.FormatInt(exp, 10)); err != nil {
				return false, err
			}
		}
	}
	if res.Scope != "" {
		if err := a.set(ctx, FieldScope, res.Scope); err != nil {
			return false, err
		}
	}

	if res.AccessToken == "" {
		return false, a.store.Sync(ctx)
	}
	if err := a.set(ctx, FieldAccessToken, res.AccessToken); err != nil {
		return false, err
	}
	if err := a.set(ctx, FieldProfileRefresh, "1"); err != nil {
		return false, err
	}
	if err := a.remove(ctx, FieldAuthorizationURL); err != nil {
		return false, err
	}
	return true, a.store.Sync(ctx)
}

// RevokeAuthorization forgets the tokens locally without calling the provider.
func (a *OAuth2Authorizer) RevokeAuthorization(ctx context.Context) error {
	if err := a.remove(ctx,
		FieldAccessToken,
		FieldRefreshToken,
		FieldAccessTokenExpires,
		FieldRefreshTokenExpires,
	); err != nil {
		return err
	}
	return a.store.Sync(ctx)
}

// Token returns the stored token as an *oauth2.Token.
func (a *OAuth2Authorizer) Token(ctx context.Context) (*oauth2.Token, error) {
	st, err := a.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Authorized() {
		return nil, ErrNotAuthorized
	}
	t := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    a.tokenType(),
		RefreshToken: st.RefreshToken,
	}
	if st.AccessTokenExpires > 0 {
		t.Expiry = time.Unix(st.AccessTokenExpires, 0)
	}
	if st.Scope != "" {
		t = t.WithExtra(map[string]any{"scope": st.Scope})
	}
	return t, nil
}

func (a *OAuth2Authorizer) tokenType() string {
	if a.cfg.OAuth2.AuthHeaderName != "" {
		return a.cfg.OAuth2.AuthHeaderName
	}
	if a.cfg.OAuth2.AccessTokenType == AccessTokenOAuth {
		return "OAuth"
	}
	return "Bearer"
}

// Fetch sends call with the access token attached. An expired token is
// refreshed first when a refresh token is stored. When the provider rejects
// the token, it is dropped and the result asks for a new authorization.
func (a *OAuth2Authorizer) Fetch(ctx context.Context, req Request, call transport.Call) (*FetchResult, error) {
	st, err := a.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Authorized() {
		return nil, ErrNotAuthorized
	}

	if st.Expired(a.now()) && st.RefreshToken != "" {
		a.logger.Debug("access token expired, refreshing")
		if _, err := a.RequestRefreshToken(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}
		if st.AccessToken, err = a.get(ctx, FieldAccessToken); err != nil {
			return nil, err
		}
		if st.AccessToken == "" {
			return nil, ErrNotAuthorized
		}
	}

	if err := a.resolve(&call); err != nil {
		return nil, err
	}
	if err := Decorate(a.cfg.OAuth2, st.AccessToken, &call); err != nil {
		return nil, err
	}

	env, err := a.exec.Execute(ctx, call)
	if err != nil {
		return nil, err
	}
	a.metrics.Fetch(a.cfg.ID, env.Code)

	if env.Code >= http.StatusBadRequest && env.JSON().Get("error").Exists() {
		a.logger.Warn("provider rejected access token", "code", env.Code, "error", env.JSON().Get("error").String())
		if err := a.RevokeAuthorization(ctx); err != nil {
			return nil, err
		}
		authURL, err := a.GetAuthorizationURL(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Envelope: env, Result: redirectResult(authURL)}, nil
	}
	return &FetchResult{Envelope: env, Result: resultAuthorized}, nil
}

// Revoke calls the revoke endpoint when one is mapped and then forgets the
// tokens. The tokens are forgotten even when the provider call fails.
func (a *OAuth2Authorizer) Revoke(ctx context.Context, providerUserID string) error {
	var callErr error
	if a.endpoints.Has(RoleRevoke) {
		callErr = a.callRevokeEndpoint(ctx, providerUserID)
	}
	if err := a.RevokeAuthorization(ctx); err != nil {
		return errors.Join(callErr, err)
	}
	return callErr
}

func (a *OAuth2Authorizer) callRevokeEndpoint(ctx context.Context, providerUserID string) error {
	token, err := a.get(ctx, FieldAccessToken)
	if err != nil {
		return err
	}
	hint := "access_token"
	if token == "" {
		if token, err = a.get(ctx, FieldRefreshToken); err != nil {
			return err
		}
		hint = "refresh_token"
	}
	if token == "" {
		return nil
	}

	ep, err := a.endpoints.Get(RoleRevoke)
	if err != nil {
		return err
	}
	values := url.Values{"token": {token}, "token_type_hint": {hint}}
	if providerUserID != "" {
		values.Set("user_id", providerUserID)
	}
	headers := http.Header{}
	if err := a.applyClientAuth(values, headers); err != nil {
		return err
	}
	addParams(&values, ep.Params)

	env, err := a.exec.Execute(ctx, transport.Call{
		Method:  http.MethodPost,
		URL:     ep.URL,
		Headers: headers,
		Payload: values,
	})
	if err != nil {
		return err
	}
	if env.Code >= http.StatusBadRequest {
		a.logger.Warn("provider revoke call failed", "code", env.Code)
		return fmt.Errorf("revoke endpoint returned status %d", env.Code)
	}
	return nil
}
