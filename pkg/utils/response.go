package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse define la estructura estándar para las respuestas de error.
type ErrorResponse struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// SendSuccess envía una respuesta exitosa con un payload de datos.
func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"data": data,
	})
}

// SendError envía una respuesta de error con un formato estandarizado.
func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error": ErrorResponse{
			Message:       message,
			CorrelationID: c.Writer.Header().Get(HeaderCorrelationID),
		},
	})
}

// SendErrorWithData añade datos parciales al error (p. ej. el informe de un lote abortado).
func SendErrorWithData(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, gin.H{
		"error": ErrorResponse{
			Message:       message,
			CorrelationID: c.Writer.Header().Get(HeaderCorrelationID),
		},
		"data": data,
	})
}

// HeaderCorrelationID es la cabecera que propaga el id de correlación.
const HeaderCorrelationID = "X-Correlation-Id"

// --- Helpers específicos para errores comunes ---

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}
