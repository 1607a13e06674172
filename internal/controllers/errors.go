package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// respondError maps the domain error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDuplicateConnection), errors.Is(err, models.ErrIllegalStateTransition),
		errors.Is(err, models.ErrConnectionTerminated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrExamNotRunning):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case models.IsInfrastructure(err):
		log.WithError(err).Error("infrastructure failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry later"})
	default:
		log.WithError(err).Error("unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
