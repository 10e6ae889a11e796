package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/middleware"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// backendStatus maps a REST backend failure onto the status returned to the
// local caller.
func backendStatus(err error) int {
	var apiErr *services.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return apiErr.StatusCode
		}
	}
	return http.StatusBadGateway
}

func authOf(c echo.Context) (models.AuthContext, bool) {
	return middleware.AuthFrom(c)
}

func unauthorized(c echo.Context) error {
	return errorJSON(c, http.StatusUnauthorized, "unauthorized")
}
