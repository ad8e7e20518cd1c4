package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/medialab-backend/internal/domain/media"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondDomainError maps the media error taxonomy onto HTTP statuses.
func RespondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, media.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, media.ErrInvalidInput):
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, media.ErrConflict):
		RespondError(c, http.StatusConflict, "conflict", err)
	case errors.Is(err, media.ErrAnalysis):
		RespondError(c, http.StatusUnprocessableEntity, "analysis_error", err)
	case errors.Is(err, media.ErrStorage):
		RespondError(c, http.StatusInternalServerError, "storage_error", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
