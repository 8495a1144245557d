package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lgulliver/mediabin/internal/auth"
	"github.com/lgulliver/mediabin/pkg/types"
)

// AuthRoutes sets up authentication-related routes
func AuthRoutes(api *gin.RouterGroup, loginService LoginService) {
	authGroup := api.Group("/auth")
	authGroup.POST("/token", handleLogin(loginService))
}

func handleLogin(loginService LoginService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		authToken, err := loginService.Login(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, auth.ErrLoginDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.JSON(http.StatusOK, authToken)
	}
}
