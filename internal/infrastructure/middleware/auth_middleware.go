package middleware

import (
	"errors"
	"strings"

	"relaylink/pkg/auth"
	apperrors "relaylink/pkg/errors"
	"relaylink/pkg/logger"

	"github.com/gin-gonic/gin"
)

const SubjectKey = "subject"

// AuthMiddleware requires a valid HS256 bearer token. A nil token service
// disables the check.
func AuthMiddleware(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			message := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "token expired"
			}
			abortWith(c, apperrors.NewUnauthorizedError(message))
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Request = c.Request.WithContext(logger.WithSubject(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

func abortWith(c *gin.Context, err *apperrors.AppError) {
	_ = c.Error(err)
	c.Abort()
}
