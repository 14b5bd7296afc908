package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

const (
	userIDClaim = "user-id"
	roleClaim   = "role"
)

// Session is the authenticated caller extracted from a token.
type Session struct {
	UserID int
	Role   string
}

// ParseToken verifies an HMAC-signed session token issued by the auth service
// and extracts the session claims.
func ParseToken(secret []byte, tokenString string) (Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Session{}, fmt.Errorf("invalid token claims")
	}

	userID, ok := claims[userIDClaim].(float64)
	if !ok || userID == 0 {
		return Session{}, fmt.Errorf("invalid user id claim")
	}
	role, ok := claims[roleClaim].(string)
	if !ok || role == "" {
		return Session{}, fmt.Errorf("invalid role claim")
	}

	return Session{UserID: int(userID), Role: role}, nil
}

// AuthMiddleware validates the Authorization header and stores the session in
// the gin context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		session, err := ParseToken(secret, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", session.UserID)
		c.Set("role", session.Role)
		c.Next()
	}
}
