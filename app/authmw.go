package app

import (
	"strings"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

const (
	AuthCookie  = "auth-token"
	identityKey = "identity"
)

// BearerToken reads `Authorization: Bearer <token>`, falling back to the cookie.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if ck, err := c.Cookie(AuthCookie); err == nil {
		return ck
	}
	return ""
}

// AuthRequired resolves the caller from a verified token only; nothing the
// client sends about its own role is trusted.
func AuthRequired(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			RespondError(c, apperr.ErrMissingCredential)
			return
		}
		id, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			RespondError(c, err)
			return
		}
		// 把 identity 放进上下文，后续 handler 可用
		c.Set(identityKey, id)
		c.Set("userID", id.User.ID)
		c.Next()
	}
}

// RequireRole must run after AuthRequired.
func RequireRole(required models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := CurrentIdentity(c)
		if id == nil {
			RespondError(c, apperr.ErrMissingCredential)
			return
		}
		if err := services.Authorize(id.User.Role, required); err != nil {
			RespondError(c, err)
			return
		}
		c.Next()
	}
}

// CurrentIdentity is nil on routes without AuthRequired.
func CurrentIdentity(c *gin.Context) *services.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*services.Identity)
	return id
}
