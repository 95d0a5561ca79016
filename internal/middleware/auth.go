package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/resistance-prophet-server/internal/domain"
)

// Auth requires an HS256 bearer token signed with cfg.JWTSecret. The token
// subject is stored under KeySubject.
func Auth(cfg domain.AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			AbortWithError(c, http.StatusUnauthorized, domain.ErrCodeAuthentication, "missing bearer token", "")
			return
		}

		claims := &jwt.RegisteredClaims{}
		parsed, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !parsed.Valid {
			AbortWithError(c, http.StatusUnauthorized, domain.ErrCodeAuthentication, "invalid bearer token", errString(err))
			return
		}

		c.Set(KeySubject, claims.Subject)
		c.Next()
	}
}

// IssueToken signs a bearer token for subject valid for ttl.
func IssueToken(cfg domain.AuthConfig, subject string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
