// Package transport issues provider HTTP calls and normalizes their responses.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -destination=mocks/mock_doer.go -package=mocks -source=executor.go Doer

const (
	tracerName     = "github.com/go-training/oauth-gatekeeper/pkg/transport"
	requestTimeout = 30 * time.Second
)

// ErrAuthentication matches every *AuthenticationError.
var ErrAuthentication = errors.New("authentication transport failure")

// Doer sends a single HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthenticationError reports a failed call to a provider endpoint.
type AuthenticationError struct {
	Method string
	URL    string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrAuthentication.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// Options control how outbound connections are made.
type Options struct {
	// CertificateFile pins TLS verification to the PEM bundle at this path.
	// When empty, certificate verification is disabled.
	CertificateFile string
	UserAgent       string
	Timeout         time.Duration
}

// Call describes one outbound request.
type Call struct {
	Method  string
	URL     string
	Headers http.Header
	// Payload is sent as the query string for GET and form-encoded otherwise.
	Payload url.Values
	// Body, when set, is sent as is. Payload then goes to the query string.
	Body []byte
}

// Envelope is the normalized response of a call.
type Envelope struct {
	// Result holds the decoded JSON value when the response is JSON,
	// otherwise the raw body as a string.
	Result      any
	Raw         []byte
	Code        int
	ContentType string
}

// IsJSON reports whether the body was decoded as JSON.
func (e *Envelope) IsJSON() bool {
	return strings.Contains(strings.ToLower(e.ContentType), "json") && gjson.ValidBytes(e.Raw)
}

// JSON returns the body as a gjson result.
func (e *Envelope) JSON() gjson.Result {
	return gjson.ParseBytes(e.Raw)
}

// Normalize builds an Envelope from a status code, content type and body.
func Normalize(code int, contentType string, body []byte) *Envelope {
	env := &Envelope{
		Raw:         body,
		Code:        code,
		ContentType: contentType,
		Result:      string(body),
	}
	if env.IsJSON() {
		env.Result = gjson.ParseBytes(body).Value()
	}
	return env
}

// Option configures an Executor.
type Option func(*Executor)

// WithDoer replaces the HTTP client used to send calls.
func WithDoer(d Doer) Option {
	return func(e *Executor) {
		e.doer = d
	}
}

// WithTracerProvider sets the tracer provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the logger used for fallback attributes.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// Executor issues provider calls.
type Executor struct {
	opts   Options
	doer   Doer
	tracer trace.Tracer
	logger *slog.Logger
}

// NewExecutor creates an Executor with the given transport options.
func NewExecutor(opts Options, options ...Option) (*Executor, error) {
	e := &Executor{
		opts:   opts,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, o := range options {
		o(e)
	}
	if e.doer == nil {
		client, err := NewHTTPClient(opts)
		if err != nil {
			return nil, err
		}
		e.doer = client
	}
	return e, nil
}

// NewHTTPClient builds an *http.Client with the TLS policy described by opts.
func NewHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if opts.CertificateFile == "" {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // verification is opt-in via CertificateFile
	} else {
		pem, err := os.ReadFile(opts.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CertificateFile)
		}
		tlsConfig.RootCAs = pool
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig
	return &http.Client{
		Transport: base,
		Timeout:   timeout,
	}, nil
}

// HTTPClient returns an *http.Client that sends through the executor's Doer.
// Signing clients layer on top of it.
func (e *Executor) HTTPClient() *http.Client {
	if c, ok := e.doer.(*http.Client); ok {
		return c
	}
	return &http.Client{Transport: doerRoundTripper{doer: e.doer}}
}

// Execute sends call through the executor's Doer.
func (e *Executor) Execute(ctx context.Context, call Call) (*Envelope, error) {
	return e.ExecuteWith(ctx, e.doer, call)
}

// ExecuteWith sends call through d, applying the executor's request defaults.
func (e *Executor) ExecuteWith(ctx context.Context, d Doer, call Call) (*Envelope, error) {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := e.tracer.Start(ctx, "transport.Execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := e.buildRequest(ctx, method, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	RecordAttributes(ctx, e.logger,
		attribute.String("http.request.method", method),
		attribute.String("url.full", redactURL(req.URL)),
	)

	resp, err := d.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &AuthenticationError{Method: method, URL: redactURL(req.URL), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &AuthenticationError{Method: method, URL: redactURL(req.URL), Err: err}
	}

	RecordAttributes(ctx, e.logger, attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}

	return Normalize(resp.StatusCode, resp.Header.Get("Content-Type"), body), nil
}

func (e *Executor) buildRequest(ctx context.Context, method string, call Call) (*http.Request, error) {
	u, err := url.Parse(call.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URL: %w", err)
	}

	var body io.Reader
	contentType := ""
	switch {
	case method == http.MethodGet:
		addQuery(u, call.Payload)
	case call.Body != nil:
		// The body is sent as is, so the payload goes to the query string.
		addQuery(u, call.Payload)
		body = bytes.NewReader(call.Body)
	case len(call.Payload) > 0:
		body = strings.NewReader(call.Payload.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range call.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}
	return req, nil
}

func addQuery(u *url.URL, payload url.Values) {
	if len(payload) == 0 {
		return
	}
	q := u.Query()
	for k, vs := range payload {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
}

// redactURL drops query values so tokens never reach logs or spans.
func redactURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}

type doerRoundTripper struct {
	doer Doer
}

func (t doerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.doer.Do(req)
}
