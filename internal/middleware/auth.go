// internal/middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/i18n"
	"github.com/javajoker/imi-market/internal/utils"
)

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthRequired))
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(parts[1])
		if err != nil {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthTokenExpired))
			c.Abort()
			return
		}

		c.Set("principal", claims.Principal())
		c.Next()
	}
}

// CapabilityRequired rejects callers whose token lacks capability. It must
// run after AuthRequired.
func CapabilityRequired(capability authz.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := utils.GetPrincipalFromContext(c)
		if !ok || !p.Has(capability) {
			utils.ErrorResponse(c, http.StatusForbidden, "FORBIDDEN",
				i18n.T(utils.GetLangFromContext(c), i18n.KeyErrorAuthorization), nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
