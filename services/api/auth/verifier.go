package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or rejected
// credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves a bearer credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Claims are the JWT claims understood by the verifier. Either role or roles
// may carry the caller's roles.
type Claims struct {
	jwt.RegisteredClaims
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	States []string `json:"states,omitempty"`
	Plants []string `json:"plants,omitempty"`
}

// DefaultAdminRoles are treated as unrestricted unless overridden.
var DefaultAdminRoles = []string{"admin", "superadmin"}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithAudience requires aud to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = audience }
}

// WithAdminRoles replaces DefaultAdminRoles.
func WithAdminRoles(roles ...string) VerifierOption {
	return func(v *Verifier) {
		v.adminRoles = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				v.adminRoles[r] = struct{}{}
			}
		}
	}
}

// Verifier validates signed JWTs (HS256, RS256 or ES256).
type Verifier struct {
	key        any
	methods    []string
	issuer     string
	audience   string
	adminRoles map[string]struct{}
	leeway     time.Duration
}

// NewHMACVerifier verifies HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, opts ...VerifierOption) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return newVerifier(secret, []string{jwt.SigningMethodHS256.Alg()}, opts), nil
}

// NewKeyVerifier verifies RS256 or ES256 tokens against pub.
func NewKeyVerifier(pub crypto.PublicKey, opts ...VerifierOption) (*Verifier, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return newVerifier(pub, []string{jwt.SigningMethodRS256.Alg()}, opts), nil
	case *ecdsa.PublicKey:
		return newVerifier(pub, []string{jwt.SigningMethodES256.Alg()}, opts), nil
	default:
		return nil, ErrInvalidKey
	}
}

func newVerifier(key any, methods []string, opts []VerifierOption) *Verifier {
	v := &Verifier{key: key, methods: methods, leeway: 30 * time.Second}
	WithAdminRoles(DefaultAdminRoles...)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Authenticate validates the token (an optional "Bearer " prefix is
// stripped) and derives the identity and its access scope.
func (v *Verifier) Authenticate(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, parserOpts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	roles := append([]string(nil), claims.Roles...)
	if claims.Role != "" {
		roles = append(roles, claims.Role)
	}
	id := Identity{ID: claims.Subject, Roles: roles, Scope: NewScope(claims.States, claims.Plants)}
	if v.isAdmin(roles) {
		id.Scope = Unrestricted()
	}
	return id, nil
}

func (v *Verifier) isAdmin(roles []string) bool {
	for _, r := range roles {
		if _, ok := v.adminRoles[strings.ToLower(r)]; ok {
			return true
		}
	}
	return false
}
