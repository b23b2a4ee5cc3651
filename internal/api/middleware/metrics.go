package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
)

// unmatchedEndpoint labels requests that hit no route, keeping raw paths
// out of the label set.
const unmatchedEndpoint = "unmatched"

// Metrics records request counts and latencies per route. Upload routes,
// the POSTs under uploadPrefix, also record their declared body size.
func Metrics(uploadPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = unmatchedEndpoint
		}

		if isUpload(c.Request, endpoint, uploadPrefix) && c.Request.ContentLength > 0 {
			metrics.UploadBytes.WithLabelValues(endpoint).Observe(float64(c.Request.ContentLength))
		}

		c.Next()

		metrics.RecordRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}

func isUpload(r *http.Request, endpoint, prefix string) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(endpoint, prefix)
}
