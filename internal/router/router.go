package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"invoice-sync-go/internal/handler"
)

// quietPaths are logged at debug level
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// SetupRouter builds the engine serving the control surface
func SetupRouter(h *handler.Handlers, mode string) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog(logrus.StandardLogger()))
	// Uploaded PDFs above this spill to temp files
	r.MaxMultipartMemory = 32 << 20
	h.SetupRoutes(r)
	return r
}

// accessLog writes one structured entry per request
func accessLog(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		entry := logger.WithFields(logrus.Fields{
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"route":      c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("HTTP request failed")
		case status >= 400:
			entry.Warn("HTTP request rejected")
		case quietPaths[path]:
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}
