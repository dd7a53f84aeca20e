package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/scoutline/discovery/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired verifies the client's bearer token and stores the user id in
// the context. Token issuance belongs to the account service; this side only
// verifies.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(h, "Bearer ")

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		uid, ok := claims["uid"].(float64)
		if !ok || uid <= 0 {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid token claims")
			c.Abort()
			return
		}
		c.Set(UserIDKey, uint64(uid))
		c.Next()
	}
}
