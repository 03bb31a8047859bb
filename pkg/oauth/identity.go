package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-training/oauth-gatekeeper/pkg/profile"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"
)

// FetchIdentity fetches the identity endpoint of a and maps the payload with
// the profile mapper of its template. On success the profile refresh marker
// is cleared. When the fetch ends unauthorized, the returned Result says how
// to recover and the UserInfo is nil.
func FetchIdentity(ctx context.Context, a Authorizer, req Request) (*profile.UserInfo, Result, error) {
	cfg := a.Config()
	ep, ok := cfg.Endpoints[RoleIdentity]
	if !ok {
		return nil, resultUnauthorized, fmt.Errorf("%w: %s", ErrUnmappedEndpoint, RoleIdentity)
	}

	call := transport.Call{Method: http.MethodGet, URL: ep.URL}
	addParams(&call.Payload, ep.Params)
	res, err := a.Fetch(ctx, req, call)
	if err != nil {
		return nil, resultUnauthorized, err
	}
	if !res.Result.Authorized() {
		return nil, res.Result, nil
	}
	if res.Envelope.Code >= http.StatusBadRequest {
		return nil, res.Result, fmt.Errorf("identity endpoint returned status %d", res.Envelope.Code)
	}

	template := cfg.Template
	if template == "" {
		template = cfg.ID
	}
	user, err := profile.Map(template, res.Envelope.Raw)
	if err != nil {
		return nil, res.Result, err
	}

	if c, ok := a.(interface {
		clearProfileRefresh(context.Context) error
	}); ok {
		if err := c.clearProfileRefresh(ctx); err != nil {
			return nil, res.Result, err
		}
	}
	return user, res.Result, nil
}
