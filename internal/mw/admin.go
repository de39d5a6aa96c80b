package mw

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAdminToken carries the operator token for establishment endpoints.
const HeaderAdminToken = "X-Admin-Token"

// AdminToken gates operator endpoints behind a shared token. An empty
// configured token closes the endpoints entirely.
func AdminToken(token string) gin.HandlerFunc {
	want := sha256.Sum256([]byte(token))
	configured := token != ""
	return func(c *gin.Context) {
		got := sha256.Sum256([]byte(c.GetHeader(HeaderAdminToken)))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 || !configured {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
