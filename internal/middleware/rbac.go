package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/service"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
	"github.com/noah-isme/seb-admin-api/pkg/response"
)

// RequireRoles lets only principals holding one of the roles through. Entity
// level privileges are checked by the services.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		p, ok := service.PrincipalFromContext(c.Request.Context())
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[p.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(p.Role)+" may not use this endpoint"))
			c.Abort()
			return
		}
		c.Next()
	}
}
