package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultStateTTL = 10 * time.Minute

// StateClaims is the payload of the opaque state parameter.
type StateClaims struct {
	Method      string `json:"method,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	RemoteAddr  string `json:"remote_addr,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	APIKey      string `json:"api_key"`
	// Session is the handle of the credential scope that started the flow.
	Session string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies the state parameter as an HS256 JWT.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner returns a signer keyed with secret. An empty secret is
// replaced with random bytes, so states only verify within this process.
func NewStateSigner(secret []byte) *StateSigner {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &StateSigner{secret: secret, ttl: defaultStateTTL, now: time.Now}
}

// APIKey derives the key bound to a request origin.
func (s *StateSigner) APIKey(origin string) string {
	return s.mac("origin:" + origin)
}

// SessionHandle derives the opaque handle a state carries for session. The
// session itself never leaves the gateway. An empty session has an empty
// handle.
func (s *StateSigner) SessionHandle(session string) string {
	if session == "" {
		return ""
	}
	return s.mac("session:" + session)
}

func (s *StateSigner) mac(v string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(v))
	return hex.EncodeToString(m.Sum(nil))
}

// Sign encodes the state for req.
func (s *StateSigner) Sign(req Request, redirectURI string) (string, error) {
	now := s.now()
	claims := StateClaims{
		Method:      req.Method,
		Referrer:    req.Referrer,
		RemoteAddr:  req.RemoteAddr,
		RedirectURI: redirectURI,
		APIKey:      s.APIKey(req.Origin),
		Session:     s.SessionHandle(req.Session),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Parse checks that state was issued by this signer and has not expired,
// without binding it to a request.
func (s *StateSigner) Parse(state string) (*StateClaims, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidState)
	}
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return claims, nil
}

// Verify parses state and checks that it belongs to the origin and the
// session of req.
func (s *StateSigner) Verify(state string, req Request) (*StateClaims, error) {
	claims, err := s.Parse(state)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(claims.APIKey), []byte(s.APIKey(req.Origin))) {
		return nil, fmt.Errorf("%w: origin mismatch", ErrInvalidState)
	}
	if !hmac.Equal([]byte(claims.Session), []byte(s.SessionHandle(req.Session))) {
		return nil, fmt.Errorf("%w: session mismatch", ErrInvalidState)
	}
	return claims, nil
}
