package oauth

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// EndpointRole names the purpose of a provider endpoint.
type EndpointRole string

const (
	RoleAuthorize    EndpointRole = "authorize"
	RoleRequestToken EndpointRole = "request_token"
	RoleAccessToken  EndpointRole = "access_token"
	RoleRefreshToken EndpointRole = "refresh_token"
	RoleService      EndpointRole = "service"
	RoleIdentity     EndpointRole = "identity"
	RoleRevoke       EndpointRole = "revoke"
)

var knownRoles = []EndpointRole{
	RoleAuthorize,
	RoleRequestToken,
	RoleAccessToken,
	RoleRefreshToken,
	RoleService,
	RoleIdentity,
	RoleRevoke,
}

// IsValid reports whether r is one of the known roles.
func (r EndpointRole) IsValid() bool {
	return slices.Contains(knownRoles, r)
}

// ParseEndpointRole converts a role name such as "ACCESS_TOKEN" or
// "access-token" into an EndpointRole.
func ParseEndpointRole(s string) (EndpointRole, error) {
	r := EndpointRole(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpointType, s)
	}
	return r, nil
}

// Endpoint is a provider URL with default query parameters.
type Endpoint struct {
	URL    string            `toml:"url" json:"url"`
	Params map[string]string `toml:"params,omitempty" json:"params,omitempty"`
}

func (e Endpoint) clone() Endpoint {
	return Endpoint{URL: e.URL, Params: maps.Clone(e.Params)}
}

// EndpointMap resolves endpoint roles to endpoints.
type EndpointMap struct {
	entries  map[EndpointRole]Endpoint
	fallback *Endpoint
}

// NewEndpointMap builds a map from entries, rejecting unknown roles.
func NewEndpointMap(entries map[EndpointRole]Endpoint) (*EndpointMap, error) {
	m := &EndpointMap{entries: make(map[EndpointRole]Endpoint, len(entries))}
	for role, ep := range entries {
		if err := m.Map(role, &ep); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Map sets the endpoint for role. A nil endpoint removes the mapping.
func (m *EndpointMap) Map(role EndpointRole, ep *Endpoint) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEndpointType, role)
	}
	if ep == nil {
		delete(m.entries, role)
		return nil
	}
	m.entries[role] = ep.clone()
	return nil
}

// SetDefault installs the endpoint returned for unmapped roles. Nil clears it.
func (m *EndpointMap) SetDefault(ep *Endpoint) {
	if ep == nil {
		m.fallback = nil
		return
	}
	c := ep.clone()
	m.fallback = &c
}

// Get returns the endpoint for role, falling back to the default entry.
func (m *EndpointMap) Get(role EndpointRole) (Endpoint, error) {
	if ep, ok := m.entries[role]; ok {
		return ep.clone(), nil
	}
	if m.fallback != nil {
		return m.fallback.clone(), nil
	}
	return Endpoint{}, fmt.Errorf("%w: %s", ErrUnmappedEndpoint, role)
}

// Has reports whether role has its own mapping.
func (m *EndpointMap) Has(role EndpointRole) bool {
	_, ok := m.entries[role]
	return ok
}

// Roles returns the mapped roles in a stable order.
func (m *EndpointMap) Roles() []EndpointRole {
	roles := make([]EndpointRole, 0, len(m.entries))
	for _, r := range knownRoles {
		if _, ok := m.entries[r]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}
