package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sufragio-api/internal/middleware"
)

func operatorFromContext(c *gin.Context) string {
	if value := c.GetString(middleware.ContextOperatorKey); value != "" {
		return value
	}
	if header := strings.TrimSpace(c.GetHeader(middleware.OperatorHeader)); header != "" {
		return header
	}
	return middleware.DefaultOperator
}
