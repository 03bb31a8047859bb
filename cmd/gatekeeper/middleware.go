package main

import (
	"net/http"
	"strings"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// sessionHeader carries the session id for clients that do not keep cookies.
const sessionHeader = "X-Gatekeeper-Session"

const authorizerKey = "authorizer"

// corsMiddleware merges allowed headers with the defaults and answers
// preflight requests.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	defaultHeaders := []string{"Mcp-Protocol-Version", "Mcp-Session-Id", "Authorization", "Content-Type"}
	headers := append([]string{}, defaultHeaders...)
	for _, h := range allowedHeaders {
		h = strings.TrimSpace(h)
		if h != "" && h != "*" && !containsCI(headers, h) {
			headers = append(headers, h)
		}
	}

	allowedMethods := []string{"GET", "POST", "DELETE", "OPTIONS"}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(headers, ", "))
		c.Header("Access-Control-Expose-Headers", "Mcp-Session-Id, "+sessionHeader)
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// containsCI checks if slice contains item (case-insensitive).
func containsCI(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}

// sessionID returns the session id of r, from the session header or the
// cookie. Anything that is not a UUID is ignored.
func sessionID(r *http.Request, cookie string) string {
	sid := r.Header.Get(sessionHeader)
	if sid == "" {
		if ck, err := r.Cookie(cookie); err == nil {
			sid = ck.Value
		}
	}
	if _, err := uuid.Parse(sid); err != nil {
		return ""
	}
	return sid
}

// sessionMiddleware attaches the caller's session registry to the request
// context, starting a new session when the request has none.
func (g *gateway) sessionMiddleware(c *gin.Context) {
	sid := sessionID(c.Request, g.cfg.SessionCookie)
	if sid == "" {
		sid = uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(g.cfg.SessionCookie, sid, 0, "/", "", strings.HasPrefix(g.cfg.BaseURL, "https://"), true)
	}
	c.Header(sessionHeader, sid)
	g.attachScope(c, sessionScope(sid))
}

// callbackMiddleware runs a provider callback in the scope its state was
// issued for. Callbacks without a bound state fall back to the caller's own
// session, where state verification rejects them.
func (g *gateway) callbackMiddleware(c *gin.Context) {
	scope := g.scopeFromState(c.Request.Context(), c.Query("state"))
	if scope == "" {
		g.sessionMiddleware(c)
		return
	}
	g.attachScope(c, scope)
}

// attachScope puts the registry of scope on the request context.
func (g *gateway) attachScope(c *gin.Context, scope string) {
	ctx := core.WithRequestID(c.Request.Context())
	if err := g.bindScope(ctx, scope); err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to bind session", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	reg, err := g.scoped(scope)
	if err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to build session registry", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	if sid, ok := strings.CutPrefix(scope, sessionPrefix); ok {
		ctx = core.WithSession(ctx, sid)
	}
	ctx = oauth.WithRegistry(ctx, reg)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// oauthRequest builds the authorization request of c. The origin is pinned
// to the gateway host, where provider callbacks land without an Origin
// header, and the session is the request's credential scope.
func oauthRequest(c *gin.Context, w http.ResponseWriter) oauth.Request {
	req := oauth.RequestFromHTTP(w, c.Request)
	req.Origin = c.Request.Host
	req.Session = scopeFromContext(c.Request.Context())
	return req
}

// providerMiddleware resolves the :provider path parameter.
func providerMiddleware(c *gin.Context) {
	reg, err := oauth.RegistryFromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a, err := reg.Provider(c.Param("provider"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Set(authorizerKey, a)
	c.Next()
}

func authorizerFrom(c *gin.Context) oauth.Authorizer {
	return c.MustGet(authorizerKey).(oauth.Authorizer)
}
