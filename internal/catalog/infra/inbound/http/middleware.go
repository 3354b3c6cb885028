package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/application"
	"github.com/davicafu/catalogcdc/pkg/utils"
)

// CorrelationID propaga la cabecera X-Correlation-Id al ctx de la petición.
// Sin cabecera el servicio genera uno propio.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(utils.HeaderCorrelationID); id != "" {
			c.Request = c.Request.WithContext(application.WithCorrelationID(c.Request.Context(), id))
			c.Header(utils.HeaderCorrelationID, id)
		}
		c.Next()
	}
}

// RequestLogger registra cada petición con zap.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if id := c.GetHeader(utils.HeaderCorrelationID); id != "" {
			fields = append(fields, zap.String("correlation_id", id))
		}
		if c.Writer.Status() >= 500 {
			log.Error("❌ Petición fallida", fields...)
			return
		}
		log.Info("➡️ Petición", fields...)
	}
}
