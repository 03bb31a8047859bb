package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"github.com/dghubble/oauth1"
)

// OAuth 1.0a handshake stages stored under the "state" field.
const (
	oauth1Unauthenticated  = 0
	oauth1HaveRequestToken = 1
	oauth1HaveAccessToken  = 2
)

// OAuth1Authorizer runs the three-legged OAuth 1.0a handshake and signs
// resource requests with the negotiated token pair.
type OAuth1Authorizer struct {
	*base
}

var _ Authorizer = (*OAuth1Authorizer)(nil)

// consumer builds the signing configuration for the provider endpoints.
func (a *OAuth1Authorizer) consumer() (*oauth1.Config, error) {
	requestEp, err := a.endpoints.Get(RoleRequestToken)
	if err != nil {
		return nil, err
	}
	authorizeEp, err := a.endpoints.Get(RoleAuthorize)
	if err != nil {
		return nil, err
	}
	accessEp, err := a.endpoints.Get(RoleAccessToken)
	if err != nil {
		return nil, err
	}

	requestURL, err := withParams(requestEp)
	if err != nil {
		return nil, err
	}
	authorizeURL, err := withParams(authorizeEp)
	if err != nil {
		return nil, err
	}

	return &oauth1.Config{
		ConsumerKey:    a.cfg.OAuth1.ConsumerKey,
		ConsumerSecret: a.cfg.OAuth1.ConsumerSecret,
		CallbackURL:    a.cfg.CallbackURL(),
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: requestURL,
			AuthorizeURL:    authorizeURL,
			AccessTokenURL:  accessEp.URL,
		},
		HTTPClient: a.exec.HTTPClient(),
	}, nil
}

// withParams returns the endpoint URL with its default params in the query.
func withParams(ep Endpoint) (string, error) {
	if len(ep.Params) == 0 {
		return ep.URL, nil
	}
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	q := u.Query()
	addParams(&q, ep.Params)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *OAuth1Authorizer) stage(ctx context.Context) (int, error) {
	v, err := a.get(ctx, FieldState)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}

func (a *OAuth1Authorizer) Authorized(ctx context.Context, req Request, startFlow bool) (Result, error) {
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

func (a *OAuth1Authorizer) CheckAuthenticationProgress(ctx context.Context, req Request) (Result, error) {
	stage, err := a.stage(ctx)
	if err != nil {
		return resultUnauthorized, err
	}
	token, err := a.get(ctx, FieldAccessToken)
	if err != nil {
		return resultUnauthorized, err
	}
	if stage == oauth1HaveAccessToken && token != "" {
		return resultAuthorized, nil
	}

	if req.Param("denied") != "" {
		a.logger.Info("user denied authorization")
		if err := a.RevokeAuthorization(ctx); err != nil {
			return resultUnauthorized, err
		}
		return resultUnauthorized, nil
	}

	consumer, err := a.consumer()
	if err != nil {
		return resultUnauthorized, err
	}

	oauthToken, verifier := req.Param("oauth_token"), req.Param("oauth_verifier")
	if stage == oauth1HaveRequestToken && oauthToken != "" && verifier != "" {
		if state := req.Param("state"); state != "" {
			if _, err := a.signer.Verify(state, req); err != nil {
				a.logger.Warn("callback state rejected", "error", err)
				return resultUnauthorized, err
			}
		}
		return a.exchangeRequestToken(ctx, consumer, oauthToken, verifier)
	}

	if consumer.CallbackURL, err = a.callbackWithState(req, consumer.CallbackURL); err != nil {
		return resultUnauthorized, err
	}

	requestToken, requestSecret, err := consumer.RequestToken()
	if err != nil {
		a.metrics.TokenExchange(a.cfg.ID, "request_token", "error")
		a.logger.Error("request token call failed", "error", err)
		return resultUnauthorized, err
	}
	a.metrics.TokenExchange(a.cfg.ID, "request_token", "success")

	authURL, err := consumer.AuthorizationURL(requestToken)
	if err != nil {
		a.logger.Error("failed to build authorization URL", "error", err)
		return resultUnauthorized, err
	}
	location := authURL.String()

	if err := a.Restore(ctx, TokenState{
		RequestToken:       requestToken,
		RequestTokenSecret: requestSecret,
		State:              oauth1HaveRequestToken,
		AuthorizationURL:   location,
	}); err != nil {
		return resultUnauthorized, err
	}
	return a.deliver(req, location)
}

// callbackWithState adds a signed state to the callback URL, so the callback
// can be matched to the session that started the handshake.
func (a *OAuth1Authorizer) callbackWithState(req Request, callback string) (string, error) {
	if callback == "" || callback == "oob" {
		return callback, nil
	}
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("failed to parse callback URL: %w", err)
	}
	state, err := a.signer.Sign(req, callback)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *OAuth1Authorizer) exchangeRequestToken(ctx context.Context, consumer *oauth1.Config, oauthToken, verifier string) (Result, error) {
	st, err := a.Snapshot(ctx)
	if err != nil {
		return resultUnauthorized, err
	}
	if st.RequestToken == "" || st.RequestToken != oauthToken {
		a.logger.Warn("callback token does not match stored request token")
		return resultUnauthorized, fmt.Errorf("%w: unexpected oauth_token", ErrInvalidState)
	}

	accessToken, accessSecret, err := consumer.AccessToken(st.RequestToken, st.RequestTokenSecret, verifier)
	if err != nil {
		a.metrics.TokenExchange(a.cfg.ID, "access_token", "error")
		a.logger.Error("access token call failed", "error", err)
		return resultUnauthorized, err
	}
	a.metrics.TokenExchange(a.cfg.ID, "access_token", "success")

	if err := a.Restore(ctx, TokenState{
		AccessToken:       accessToken,
		AccessTokenSecret: accessSecret,
		State:             oauth1HaveAccessToken,
		ProfileRefresh:    true,
	}); err != nil {
		return resultUnauthorized, err
	}
	a.logger.Info("provider authorized")
	return resultAuthorized, nil
}

// signingClient returns an HTTP client that signs with the stored token pair.
func (a *OAuth1Authorizer) signingClient(ctx context.Context) (*http.Client, error) {
	st, err := a.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if st.AccessToken == "" || st.AccessTokenSecret == "" {
		return nil, ErrNotAuthorized
	}
	consumer, err := a.consumer()
	if err != nil {
		return nil, err
	}
	baseCtx := context.WithValue(ctx, oauth1.HTTPClient, a.exec.HTTPClient())
	return consumer.Client(baseCtx, oauth1.NewToken(st.AccessToken, st.AccessTokenSecret)), nil
}

// Fetch sends call signed with the access token pair. A 401 drops the pair
// and returns an unauthorized result.
func (a *OAuth1Authorizer) Fetch(ctx context.Context, _ Request, call transport.Call) (*FetchResult, error) {
	client, err := a.signingClient(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.resolve(&call); err != nil {
		return nil, err
	}

	env, err := a.exec.ExecuteWith(ctx, client, call)
	if err != nil {
		return nil, err
	}
	a.metrics.Fetch(a.cfg.ID, env.Code)

	if env.Code == http.StatusUnauthorized {
		a.logger.Warn("provider rejected access token pair")
		if err := a.RevokeAuthorization(ctx); err != nil {
			return nil, err
		}
		return &FetchResult{Envelope: env, Result: resultUnauthorized}, nil
	}
	return &FetchResult{Envelope: env, Result: resultAuthorized}, nil
}

// Revoke calls the revoke endpoint signed, when mapped, then forgets the pair.
func (a *OAuth1Authorizer) Revoke(ctx context.Context, providerUserID string) error {
	var callErr error
	if a.endpoints.Has(RoleRevoke) {
		callErr = a.callRevokeEndpoint(ctx, providerUserID)
	}
	if err := a.RevokeAuthorization(ctx); err != nil {
		return errors.Join(callErr, err)
	}
	return callErr
}

func (a *OAuth1Authorizer) callRevokeEndpoint(ctx context.Context, providerUserID string) error {
	client, err := a.signingClient(ctx)
	if errors.Is(err, ErrNotAuthorized) {
		return nil
	}
	if err != nil {
		return err
	}
	ep, err := a.endpoints.Get(RoleRevoke)
	if err != nil {
		return err
	}
	payload := url.Values{}
	if providerUserID != "" {
		payload.Set("user_id", providerUserID)
	}
	addParams(&payload, ep.Params)

	env, err := a.exec.ExecuteWith(ctx, client, transport.Call{
		Method:  http.MethodPost,
		URL:     ep.URL,
		Payload: payload,
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

// RevokeAuthorization forgets the token pair and returns to stage 0.
func (a *OAuth1Authorizer) RevokeAuthorization(ctx context.Context) error {
	if err := a.remove(ctx,
		FieldAccessToken,
		FieldAccessTokenSecret,
		FieldRequestToken,
		FieldRequestTokenSecret,
		FieldAuthorizationURL,
	); err != nil {
		return err
	}
	if err := a.set(ctx, FieldState, strconv.Itoa(oauth1Unauthenticated)); err != nil {
		return err
	}
	return a.store.Sync(ctx)
}
