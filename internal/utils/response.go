package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Success writes {"success": true, "data": data} with status 200
func Success(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// Error writes {"success": false, "error": msg} with the given status
func Error(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{
		"success": false,
		"error":   msg,
	})
}
