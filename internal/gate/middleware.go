package gate

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DecisionKey is the gin context key holding the Gate's Decision
const DecisionKey = "gate_decision"

// ClientIP returns the caller's IP as gin resolves it from trusted proxies,
// with the IPv4-mapped IPv6 prefix removed
func ClientIP(c *gin.Context) string {
	return strings.TrimPrefix(c.ClientIP(), "::ffff:")
}

// Blacklist redirects blacklisted clients to the blocked view.
// The blocked view and admin routes stay reachable.
func (g *Gate) Blacklist() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.CheckBlacklist(c.Request.Context(), Request{
			ClientIP: ClientIP(c),
			Path:     c.Request.URL.Path,
			Referer:  c.Request.Referer(),
		})
		if !g.apply(c, d) {
			return
		}
		c.Next()
	}
}

// Require guards a funnel step route
func (g *Gate) Require(route Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Evaluate(c.Request.Context(), Request{
			ClientIP: ClientIP(c),
			Path:     c.Request.URL.Path,
			Referer:  c.Request.Referer(),
		}, route)
		if !g.apply(c, d) {
			return
		}
		c.Next()
	}
}

// apply redirects and aborts for anything but Allow
func (g *Gate) apply(c *gin.Context, d Decision) bool {
	c.Set(DecisionKey, d)
	if d.Outcome == Allow {
		return true
	}
	c.Redirect(http.StatusFound, d.Location)
	c.Abort()
	return false
}
