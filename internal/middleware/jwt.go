package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/service"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
	"github.com/noah-isme/seb-admin-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

type tokenAuthenticator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
	ResolveUser(ctx context.Context, userID string) (*models.User, error)
}

// JWT protects routes by requiring a valid access token of an active user.
// The resolved principal is attached to the request context.
func JWT(auth tokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		user, err := auth.ResolveUser(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		ctx := service.WithPrincipal(c.Request.Context(), models.PrincipalFromUser(user))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
