package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Grant describes the token an Issuer signs.
type Grant struct {
	Subject string
	Roles   []string
	States  []string
	Plants  []string
	TTL     time.Duration
}

// Issuer signs tokens the Verifier accepts. Production identities come from
// an external provider; the issuer serves tests and local development.
type Issuer struct {
	method   jwt.SigningMethod
	key      any
	issuer   string
	audience string
}

// NewHMACIssuer signs HS256 tokens with secret.
func NewHMACIssuer(secret []byte, issuer, audience string) *Issuer {
	return &Issuer{method: jwt.SigningMethodHS256, key: secret, issuer: issuer, audience: audience}
}

// NewKeyIssuer signs RS256 or ES256 tokens with signer.
func NewKeyIssuer(signer crypto.Signer, issuer, audience string) (*Issuer, error) {
	var method jwt.SigningMethod
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	return &Issuer{method: method, key: signer, issuer: issuer, audience: audience}, nil
}

// Issue signs a token for g. A zero TTL means fifteen minutes.
func (i *Issuer) Issue(g Grant) (string, error) {
	ttl := g.TTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   g.Subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:  g.Roles,
		States: g.States,
		Plants: g.Plants,
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	return jwt.NewWithClaims(i.method, claims).SignedString(i.key)
}
