package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cookie names for the cross-domain credential fragments. Both are scoped to
// the root domain so a tenant subdomain can read them after a full-page hop.
const (
	AccessCookieName  = "nc_at"
	RefreshCookieName = "nc_rt"
)

const credentialIssuer = "nestcrm"

// CredentialClaims are carried by the access fragment.
type CredentialClaims struct {
	Email     string `json:"email"`
	Company   string `json:"company,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
	Domain    string `json:"domain,omitempty"`
	jwt.RegisteredClaims
}

// Credentials mints and verifies the HMAC-signed JWT fragments used to carry
// authentication across a cross-origin redirect.
type Credentials struct {
	secret []byte
	ttl    time.Duration
}

// NewCredentials creates a credential signer sharing the session secret.
func NewCredentials(secret []byte, ttl time.Duration) *Credentials {
	return &Credentials{secret: secret, ttl: ttl}
}

// Mint produces the access and refresh fragments for a signed-in user. The
// refresh fragment outlives the access fragment so a slow hop can still
// restore.
func (c *Credentials) Mint(email string, tenant *TenantInfo) (access, refresh string, err error) {
	now := time.Now()

	accessClaims := &CredentialClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    credentialIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	if tenant != nil {
		accessClaims.Company = tenant.Company
		accessClaims.Subdomain = tenant.Subdomain
		accessClaims.Domain = tenant.Domain
	}

	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access fragment: %w", err)
	}

	refreshClaims := &jwt.RegisteredClaims{
		Issuer:    credentialIssuer,
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * c.ttl)),
	}
	refresh, err = jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh fragment: %w", err)
	}

	return access, refresh, nil
}

// Verify checks both fragments and that they belong to the same subject.
func (c *Credentials) Verify(access, refresh string) (*CredentialClaims, error) {
	keyFn := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}

	var claims CredentialClaims
	if _, err := jwt.ParseWithClaims(access, &claims, keyFn,
		jwt.WithIssuer(credentialIssuer), jwt.WithExpirationRequired()); err != nil {
		return nil, fmt.Errorf("access fragment: %w", err)
	}

	var refreshClaims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(refresh, &refreshClaims, keyFn,
		jwt.WithIssuer(credentialIssuer), jwt.WithExpirationRequired()); err != nil {
		return nil, fmt.Errorf("refresh fragment: %w", err)
	}

	if claims.Subject != refreshClaims.Subject {
		return nil, errors.New("credential fragments belong to different subjects")
	}

	return &claims, nil
}
