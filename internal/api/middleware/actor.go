package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/domain"
)

const (
	ActorRoleHeader = "X-Actor-Role"
	ActorIDHeader   = "X-Actor-ID"
	ActorContextKey = "actor"
)

// ActorMiddleware reads the acting user from the gateway headers.
// Authentication happens upstream; this only rejects requests without a usable identity.
func ActorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawRole := c.GetHeader(ActorRoleHeader)
		if rawRole == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + ActorRoleHeader + " header"})
			c.Abort()
			return
		}

		role, ok := domain.ParseRole(rawRole)
		if !ok {
			logger.Warn("Rejected request with unknown actor role", zap.String("role", rawRole), zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown actor role"})
			c.Abort()
			return
		}

		id := strings.TrimSpace(c.GetHeader(ActorIDHeader))
		if id == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + ActorIDHeader + " header"})
			c.Abort()
			return
		}

		c.Set(ActorContextKey, domain.Actor{Role: role, ID: id})
		c.Next()
	}
}

// GetActorFromContext retrieves the actor from the Gin context
func GetActorFromContext(c *gin.Context) (domain.Actor, bool) {
	v, exists := c.Get(ActorContextKey)
	if !exists {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}
