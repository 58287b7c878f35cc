package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/eduforge/eduforge-api/internal/middleware"
	"github.com/eduforge/eduforge-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext derives the workflow actor from the authenticated claims.
// Routes behind the JWT middleware always carry claims; the zero Actor fails
// every policy check.
func actorFromContext(c *gin.Context) models.Actor {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Actor{}
	}
	return claims.Actor()
}

func metaFromContext(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
}
