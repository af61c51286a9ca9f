package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextOperatorKey is the gin context key storing the acting operator.
const ContextOperatorKey = "currentOperator"

// OperatorHeader carries the id of the operator acting at the voting center.
const OperatorHeader = "X-Operator-ID"

// DefaultOperator is recorded when a request carries no operator header.
const DefaultOperator = "system"

const maxOperatorLength = 64

// Operator resolves the acting operator from the request and logs every successful
// mutation with it.
func Operator(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		operator := strings.TrimSpace(c.GetHeader(OperatorHeader))
		if operator == "" || len(operator) > maxOperatorLength {
			operator = DefaultOperator
		}
		c.Set(ContextOperatorKey, operator)
		c.Next()

		if c.Request.Method == http.MethodGet || c.Writer.Status() >= 400 {
			return
		}
		logger.Info("operator_action",
			zap.String("operator", operator),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
		)
	}
}
