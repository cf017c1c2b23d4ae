package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/seb-admin-api/internal/middleware"
	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/service"
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

func principalFromContext(c *gin.Context) (models.Principal, bool) {
	if p, ok := service.PrincipalFromContext(c.Request.Context()); ok {
		return p, true
	}
	if claims := claimsFromContext(c); claims != nil {
		return models.PrincipalFromClaims(claims), true
	}
	return models.Principal{}, false
}
