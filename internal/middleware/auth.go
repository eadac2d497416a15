package middleware

import (
	"geosewa_exam/internal/service"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

// SessionRequired rejects requests while nobody is signed in to the exam API.
func SessionRequired(session *service.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := session.State()
		if !state.Authenticated {
			util.Unauthorized(c)
			c.Abort()
			return
		}
		c.Set("username", state.Username)
		c.Next()
	}
}
