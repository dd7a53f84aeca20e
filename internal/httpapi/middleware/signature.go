package middleware

import (
	"bytes"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scoutline/discovery/internal/common"
	"github.com/scoutline/discovery/internal/signing"
)

const SignatureHeader = "X-Discovery-Signature"

// SignatureRequired rejects webhook calls whose payload signature does not
// verify against the current or next signing key. Runs before any job lookup.
// disabled is a development escape hatch only.
func SignatureRequired(currentKey, nextKey string, disabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if disabled {
			log.Printf("signature verification disabled; accepting unsigned webhook call")
			c.Next()
			return
		}

		token := c.GetHeader(SignatureHeader)
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40110, "missing signature")
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10010, "unreadable body")
			c.Abort()
			return
		}
		// Hand the body back to the handler.
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if err := signing.Verify(token, body, currentKey, nextKey); err != nil {
			common.Fail(c, http.StatusUnauthorized, 40111, "invalid signature")
			c.Abort()
			return
		}
		c.Next()
	}
}
