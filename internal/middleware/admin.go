package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/pkg/response"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminKey guards platform administration routes with a shared key
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminKey)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Invalid admin key"))
			return
		}
		c.Next()
	}
}
