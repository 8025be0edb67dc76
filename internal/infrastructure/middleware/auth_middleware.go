package middleware

import (
	"strings"

	"meetroom/internal/core/services"
	apperrors "meetroom/pkg/errors"
	"meetroom/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityContextKey = "identity"

// AuthMiddleware validates the bearer token and puts the identity on the
// request context, where services.AuthService.Current finds it. Browsers
// cannot set headers on websocket upgrades, so access_token is accepted
// as a query parameter too.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			abortWithError(c, err)
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), 401))
			return
		}

		identity := claims.Identity()
		ctx := services.WithIdentity(c.Request.Context(), identity)
		ctx = logger.WithValue(ctx, logger.UserIDKey, string(identity.UserID))
		c.Request = c.Request.WithContext(ctx)
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorizedError("authorization header required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", apperrors.NewUnauthorizedError("invalid authorization header format")
	}
	return parts[1], nil
}

func abortWithError(c *gin.Context, err error) {
	appErr := apperrors.FromDomain(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus, errorBody(appErr))
}
