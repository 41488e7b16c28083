// Package auth issues and verifies the JWTs that authorise document
// publishing on the registry server.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxPublishClaims = "canapi_publish_claims"

// PublishClaims are the JWT claims of a publish token. APIs lists the API
// names the holder may publish; "*" allows every name.
type PublishClaims struct {
	jwt.RegisteredClaims
	APIs []string `json:"apis"`
	Type string   `json:"type"`
}

// Allows reports whether the claims permit publishing name.
func (c *PublishClaims) Allows(name string) bool {
	return slices.Contains(c.APIs, "*") || slices.Contains(c.APIs, name)
}

// Issuer signs and verifies publish tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer. A zero ttl defaults to 24 hours.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("publish secret must be at least 16 bytes")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed publish token for subject covering apis.
func (i *Issuer) Issue(subject string, apis []string) (string, error) {
	if len(apis) == 0 {
		return "", errors.New("publish token needs at least one api name")
	}
	now := time.Now().UTC()
	claims := PublishClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		APIs: apis,
		Type: "publish",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign publish token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a publish token.
func (i *Issuer) Verify(tokenStr string) (*PublishClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&PublishClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify publish token: %w", err)
	}
	claims, ok := token.Claims.(*PublishClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid publish token claims")
	}
	if claims.Type != "publish" {
		return nil, errors.New("not a publish token")
	}
	return claims, nil
}

// RequireToken returns a Gin middleware that rejects requests without a
// valid Bearer publish token.
func RequireToken(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := issuer.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxPublishClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the claims injected by RequireToken, or nil.
func ClaimsFromCtx(c *gin.Context) *PublishClaims {
	v, _ := c.Get(ctxPublishClaims)
	claims, _ := v.(*PublishClaims)
	return claims
}
