package oauth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-training/oauth-gatekeeper/pkg/transport"
)

// Status is the outcome of an authorization check.
type Status string

const (
	StatusAuthorized       Status = "authorized"
	StatusUnauthorized     Status = "unauthorized"
	StatusRedirectRequired Status = "redirect_required"
)

// Result reports where a provider stands in its authorization flow.
type Result struct {
	Status      Status `json:"status"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Authorized reports whether the result carries an authorized status.
func (r Result) Authorized() bool {
	return r.Status == StatusAuthorized
}

var (
	resultAuthorized   = Result{Status: StatusAuthorized}
	resultUnauthorized = Result{Status: StatusUnauthorized}
)

func redirectResult(u string) Result {
	return Result{Status: StatusRedirectRequired, RedirectURL: u}
}

// FetchResult is the outcome of a resource fetch. When the provider rejected
// the token, Envelope holds the rejection and Result asks for a new
// authorization.
type FetchResult struct {
	Envelope *transport.Envelope `json:"envelope"`
	Result   Result              `json:"result"`
}

// Request is the inbound request an authorization step runs against.
type Request struct {
	Query      url.Values
	Method     string
	Referrer   string
	RemoteAddr string
	Origin     string
	// Session names the credential scope the request acts for. A state
	// issued for one session verifies only for the same session.
	Session string

	// Writer receives client-side redirects. Redirect, when set, is used instead.
	Writer   http.ResponseWriter
	Redirect func(location string)

	httpRequest *http.Request
}

// RequestFromHTTP builds a Request from an inbound HTTP request.
func RequestFromHTTP(w http.ResponseWriter, r *http.Request) Request {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Host
	}
	return Request{
		Query:       r.URL.Query(),
		Method:      r.Method,
		Referrer:    r.Referer(),
		RemoteAddr:  r.RemoteAddr,
		Origin:      origin,
		Writer:      w,
		httpRequest: r,
	}
}

// Param returns a query parameter.
func (r Request) Param(name string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query.Get(name)
}

// commitRedirect writes a redirect to the inbound response and returns
// ErrResponseCommitted.
func (r Request) commitRedirect(location string) error {
	switch {
	case r.Redirect != nil:
		r.Redirect(location)
	case r.Writer != nil && r.httpRequest != nil:
		http.Redirect(r.Writer, r.httpRequest, location, http.StatusFound)
	case r.Writer != nil:
		r.Writer.Header().Set("Location", location)
		r.Writer.WriteHeader(http.StatusFound)
	default:
		return ErrNoResponseWriter
	}
	return ErrResponseCommitted
}

type requestKey struct{}

// WithRequest returns a new context carrying the inbound request that tool
// calls should run their authorization steps against.
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFromContext returns the request stored by WithRequest, or a zero
// Request.
func RequestFromContext(ctx context.Context) Request {
	req, _ := ctx.Value(requestKey{}).(Request)
	return req
}
