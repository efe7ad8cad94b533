package middleware

import "github.com/gin-gonic/gin"

// NoCache marks every response on the group as non-cacheable. Label
// state changes server-side while purchases settle, so intermediaries
// and browsers must never serve a stale snapshot.
func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Next()
	}
}
