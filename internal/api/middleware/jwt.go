package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

// JWTClaims are the claims Tollgate reads from a bearer token. Tokens are
// minted by the identity provider in front of Tollgate; GenerateToken exists
// for tooling and tests.
type JWTClaims struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds HS256 signing configuration.
type JWTConfig struct {
	SigningKey []byte
	// Issuer, when set, must match the iss claim.
	Issuer    string
	ExpiresIn time.Duration
}

// GenerateToken creates a signed JWT for the given actor.
func GenerateToken(cfg JWTConfig, userID string, roles, permissions []string) (string, time.Time, error) {
	now := time.Now()
	expiresIn := cfg.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	expiresAt := now.Add(expiresIn)

	claims := JWTClaims{
		UserID:      userID,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken parses and verifies a token.
func (cfg JWTConfig) ValidateToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

// JWTAuth returns a Gin middleware that validates Bearer tokens and populates
// the actor in both the gin and the request context.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := cfg.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			abortWithError(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, msg)
			return
		}

		c.Set(KeyUserID, claims.UserID)
		c.Set(KeyRoles, claims.Roles)
		c.Set(KeyPermissions, claims.Permissions)
		c.Request = c.Request.WithContext(
			SetUserContext(c.Request.Context(), claims.UserID, claims.Roles),
		)

		c.Next()
	}
}

// Actor returns the authenticated user id, or "" on unauthenticated routes.
func Actor(c *gin.Context) string {
	return c.GetString(KeyUserID)
}
