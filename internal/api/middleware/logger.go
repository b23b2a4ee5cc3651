package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-derivatives/internal/logger"
)

// ContextualLogger stores a request logger, tagged with the route and any
// trace/span IDs, in the request context.
func ContextualLogger(defaultComponent string) gin.HandlerFunc {
	return func(c *gin.Context) {
		component := defaultComponent
		if routePath := c.FullPath(); routePath != "" {
			component = strings.Trim(strings.ReplaceAll(routePath, "/", "-"), "-")
			if component == "" {
				component = "root"
			}
		}

		requestLogger := logger.GetLoggerWithContext(c.Request.Context(), component)
		c.Request = c.Request.WithContext(logger.ToContext(c.Request.Context(), requestLogger))

		c.Next()
	}
}
