// Package session maps Auth0-validated JWTs to the identity the engine
// needs: a stable user id (token subject) and the signed-in email. A session
// begins when an authenticated websocket connects and ends when it closes;
// handlers read the identity from the request context.
package session

import (
	"context"
	"net/http"
	"net/url"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"

	"github.com/wwwillott/where-the-hbll-are-you/src/models"
)

// Identity is the signed-in principal.
type Identity struct {
	UserID string
	Email  string
}

// CustomClaims carries the email claim alongside the registered claims.
type CustomClaims struct {
	Email string `json:"email"`
}

func (c *CustomClaims) Validate(ctx context.Context) error { return nil }

// EnsureValidToken builds the JWT validation middleware for the given Auth0
// tenant. Every route behind it gets validated claims in the request
// context.
func EnsureValidToken(domain, audience string) (func(http.Handler) http.Handler, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)
	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims { return &CustomClaims{} }),
	)
	if err != nil {
		return nil, err
	}

	middleware := jwtmiddleware.New(jwtValidator.ValidateToken)
	return middleware.CheckJWT, nil
}

// FromContext extracts the signed-in identity from a request context that
// passed the token middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok {
		return Identity{}, false
	}
	identity := Identity{UserID: claims.RegisteredClaims.Subject}
	if custom, ok := claims.CustomClaims.(*CustomClaims); ok {
		identity.Email = models.NormalizeEmail(custom.Email)
	}
	return identity, identity.UserID != ""
}
