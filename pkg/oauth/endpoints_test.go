package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointRole(t *testing.T) {
	tests := []struct {
		in      string
		want    EndpointRole
		wantErr bool
	}{
		{in: "authorize", want: RoleAuthorize},
		{in: "ACCESS_TOKEN", want: RoleAccessToken},
		{in: "request-token", want: RoleRequestToken},
		{in: " Refresh_Token ", want: RoleRefreshToken},
		{in: "identity", want: RoleIdentity},
		{in: "userinfo", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpointRole(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEndpointType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointMap(t *testing.T) {
	m, err := NewEndpointMap(map[EndpointRole]Endpoint{
		RoleService: {URL: "https://api.example.com", Params: map[string]string{"v": "2"}},
	})
	require.NoError(t, err)

	_, err = m.Get(RoleRevoke)
	assert.ErrorIs(t, err, ErrUnmappedEndpoint)

	require.NoError(t, m.Map(RoleRevoke, &Endpoint{URL: "https://example.com/revoke"}))
	ep, err := m.Get(RoleRevoke)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/revoke", ep.URL)
	assert.Equal(t, []EndpointRole{RoleService, RoleRevoke}, m.Roles())

	require.NoError(t, m.Map(RoleRevoke, nil))
	assert.False(t, m.Has(RoleRevoke))

	assert.ErrorIs(t, m.Map("bogus", &Endpoint{URL: "x"}), ErrInvalidEndpointType)
}

func TestEndpointMap_Default(t *testing.T) {
	m, err := NewEndpointMap(nil)
	require.NoError(t, err)

	m.SetDefault(&Endpoint{URL: "https://fallback.example.com"})
	ep, err := m.Get(RoleIdentity)
	require.NoError(t, err)
	assert.Equal(t, "https://fallback.example.com", ep.URL)
	assert.False(t, m.Has(RoleIdentity))

	m.SetDefault(nil)
	_, err = m.Get(RoleIdentity)
	assert.ErrorIs(t, err, ErrUnmappedEndpoint)
}

func TestEndpointMap_ReturnsCopies(t *testing.T) {
	params := map[string]string{"a": "1"}
	m, err := NewEndpointMap(map[EndpointRole]Endpoint{RoleService: {URL: "u", Params: params}})
	require.NoError(t, err)

	params["a"] = "changed"
	ep, err := m.Get(RoleService)
	require.NoError(t, err)
	assert.Equal(t, "1", ep.Params["a"])

	ep.Params["a"] = "mutated"
	again, err := m.Get(RoleService)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Params["a"])
}

func TestNewEndpointMap_InvalidRole(t *testing.T) {
	_, err := NewEndpointMap(map[EndpointRole]Endpoint{"callback": {URL: "u"}})
	assert.ErrorIs(t, err, ErrInvalidEndpointType)
}
