package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/repository"
)

// apiResponse is the envelope of every JSON response.
type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Ok writes data with status 200.
func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{Code: 0, Message: "ok", Data: data})
}

// Accepted writes data with status 202.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, apiResponse{Code: 0, Message: "accepted", Data: data})
}

// Error writes an error envelope with status.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, apiResponse{Code: status, Message: message})
}

// Fail maps err onto a status code and writes it.
func Fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, analytics.ErrUnknownChart):
		Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidMood), errors.Is(err, repository.ErrInvalidDate),
		errors.Is(err, analytics.ErrInvalidFilter):
		Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, analytics.ErrDisposed):
		Error(c, http.StatusServiceUnavailable, err.Error())
	default:
		Error(c, http.StatusInternalServerError, err.Error())
	}
}
