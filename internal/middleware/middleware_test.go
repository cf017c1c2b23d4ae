package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/service"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type authStub struct {
	claims *models.JWTClaims
	user   *models.User
	err    error
}

func (a *authStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return a.claims, nil
}

func (a *authStub) ResolveUser(ctx context.Context, userID string) (*models.User, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.user, nil
}

func newRouter(auth *authStub, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guarded", JWT(auth), RequireRoles(roles...), func(c *gin.Context) {
		p, ok := service.PrincipalFromContext(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, p.UserID)
	})
	return r
}

func TestJWTAttachesPrincipal(t *testing.T) {
	auth := &authStub{
		claims: &models.JWTClaims{UserID: "u1"},
		user:   &models.User{ID: "u1", InstitutionID: "inst-1", Role: models.RoleInstitutionalAdmin, Active: true},
	}
	r := newRouter(auth, models.RoleInstitutionalAdmin)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", rec.Body.String())
}

func TestJWTRejectsMissingOrInvalidToken(t *testing.T) {
	r := newRouter(&authStub{}, models.RoleSEBServerAdmin)

	for _, header := range []string{"", "Token good", "Bearer bad"} {
		req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestJWTRejectsInactiveUser(t *testing.T) {
	auth := &authStub{claims: &models.JWTClaims{UserID: "u1"}, err: appErrors.Clone(appErrors.ErrUnauthorized, "user inactive")}
	r := newRouter(auth, models.RoleSEBServerAdmin)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	auth := &authStub{
		claims: &models.JWTClaims{UserID: "u1"},
		user:   &models.User{ID: "u1", Role: models.RoleExamSupporter, Active: true},
	}
	r := newRouter(auth, models.RoleSEBServerAdmin, models.RoleInstitutionalAdmin)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
