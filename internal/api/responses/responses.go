// internal/api/responses/responses.go
package responses

import (
	"errors"
	"net/http"

	"conciliacao-service/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var logger = zap.NewNop()

// APIResponse defines the standard envelope for API responses.
type APIResponse struct {
	Status  string      `json:"status"` // "success" or "error"
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
}

// InitLogger initializes the structured logger for API responses.
func InitLogger() {
	if l, err := zap.NewProduction(); err == nil {
		logger = l
	}
}

// SetLogger troca o logger usado pelas respostas (testes e CLI).
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Logger devolve o logger das respostas para ser compartilhado com os serviços.
func Logger() *zap.Logger { return logger }

// Success sends a successful response with the provided data and message.
func Success(c *gin.Context, data interface{}, message string) {
	Created(c, http.StatusOK, data, message)
}

// Created envia uma resposta de sucesso com o código informado.
func Created(c *gin.Context, code int, data interface{}, message string) {
	resp := APIResponse{Status: "success", Data: data, Message: message}
	c.JSON(code, resp)
	logger.Info("API success", zap.String("path", c.Request.URL.Path), zap.Int("status", code))
}

// Error sends an error response with the provided code, message, and optional errors.
func Error(c *gin.Context, code int, message string, errs ...string) {
	resp := APIResponse{Status: "error", Message: message, Errors: errs}
	c.JSON(code, resp)
	logger.Error("API error", zap.String("path", c.Request.URL.Path), zap.Int("status", code), zap.Strings("errors", errs))
}

// FromError traduz um erro do núcleo para o código HTTP e a mensagem ao usuário.
func FromError(c *gin.Context, err error) {
	code, message := Classify(err)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		Error(c, code, message, ve.Reasons...)
		return
	}
	Error(c, code, message, err.Error())
}

// Classify devolve o código HTTP e a mensagem de um erro do núcleo.
func Classify(err error) (int, string) {
	var (
		de *domain.DetectionError
		ve *domain.ValidationError
		pe *domain.ParseError
		se *domain.PersistenceError
	)
	switch {
	case errors.As(err, &de):
		return http.StatusBadRequest, "Não foi possível identificar o banco ou o formato do arquivo. Informe o banco manualmente."
	case errors.As(err, &ve):
		return http.StatusBadRequest, "Dados inválidos"
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity, "Erro ao ler o arquivo"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Registro não encontrado"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "Operação não permitida no estado atual"
	case errors.As(err, &se):
		switch se.Kind {
		case domain.PersistenceNetwork:
			return http.StatusBadGateway, se.UserMessage()
		case domain.PersistenceTimeout:
			return http.StatusGatewayTimeout, se.UserMessage()
		case domain.PersistenceConstraint:
			return http.StatusConflict, se.UserMessage()
		}
		return http.StatusInternalServerError, se.UserMessage()
	}
	return http.StatusInternalServerError, "Erro interno"
}
