package auth

const (
	testSecret   = "gridpulse-test-secret-do-not-use"
	testIssuer   = "gridpulse-test"
	testAudience = "gridpulse-api"
)

// NewTestAuth returns a verifier and a matching issuer sharing an HS256 test
// secret. For tests only.
func NewTestAuth() (*Verifier, *Issuer) {
	v, err := NewHMACVerifier([]byte(testSecret), WithIssuer(testIssuer), WithAudience(testAudience))
	if err != nil {
		panic(err)
	}
	return v, NewHMACIssuer([]byte(testSecret), testIssuer, testAudience)
}
