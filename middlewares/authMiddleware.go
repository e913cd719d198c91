package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/forecast_backend/utils"
)

// AuthMiddleware validates the bearer token and seeds the request context with
// the caller's user and business ids. Requests without a token pass through;
// handlers that need a business scope reject them individually.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := strings.TrimSpace(c.Request.Header.Get("Authorization"))
		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if len(auth) <= len(bearer) || !strings.EqualFold(auth[:len(bearer)], bearer) {
			c.Next()
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		validated, err := utils.JwtValidate(token)
		if err != nil || !validated.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, _ := validated.Claims.(*utils.JwtCustomClaim)
		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, token)
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		if claim.BusinessId != "" {
			ctx = utils.SetBusinessIdInContext(ctx, claim.BusinessId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
