package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

const authKey = "auth"

// AuthMiddleware resolves the caller's AuthContext from the bearer token in
// the Authorization header, or the token query parameter for websockets.
func AuthMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			var tokenString string
			if authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error": "invalid authorization header",
					})
				}
				tokenString = strings.TrimSpace(parts[1])
			} else {
				tokenString = strings.TrimSpace(strings.TrimPrefix(c.QueryParam("token"), "Bearer "))
			}
			if tokenString == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing authorization token",
				})
			}

			auth, err := authService.ContextFromToken(tokenString)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, services.ErrTokenExpired) {
					msg = "token expired"
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": msg,
				})
			}

			c.Set(authKey, auth)
			return next(c)
		}
	}
}

// AuthFrom returns the AuthContext set by AuthMiddleware.
func AuthFrom(c echo.Context) (models.AuthContext, bool) {
	auth, ok := c.Get(authKey).(models.AuthContext)
	return auth, ok
}
