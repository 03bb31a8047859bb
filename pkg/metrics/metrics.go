// Package metrics exposes Prometheus counters for authorization flows.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gatekeeper"

// Metrics groups the counters recorded by the authorizers. A nil *Metrics
// records nothing.
type Metrics struct {
	tokenExchanges *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	redirects      *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "Token endpoint calls by provider, grant type and outcome.",
		}, []string{"provider", "grant_type", "outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_fetches_total",
			Help:      "Authenticated resource fetches by provider and status code.",
		}, []string{"provider", "code"}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_redirects_total",
			Help:      "Authorization redirects issued by provider and flow type.",
		}, []string{"provider", "flow"}),
	}
	if reg != nil {
		reg.MustRegister(m.tokenExchanges, m.fetches, m.redirects)
	}
	return m
}

// TokenExchange counts a call to a token endpoint.
func (m *Metrics) TokenExchange(provider, grantType, outcome string) {
	if m == nil {
		return
	}
	m.tokenExchanges.WithLabelValues(provider, grantType, outcome).Inc()
}

// Fetch counts a resource fetch.
func (m *Metrics) Fetch(provider string, code int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(provider, strconv.Itoa(code)).Inc()
}

// Redirect counts an authorization redirect.
func (m *Metrics) Redirect(provider, flow string) {
	if m == nil {
		return
	}
	m.redirects.WithLabelValues(provider, flow).Inc()
}
