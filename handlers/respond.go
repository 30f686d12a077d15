package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
	"github.com/artisthub/platform/backend/admin-service/pkg/metrics"
)

// respond writes a {success:true, ...} envelope.
func respond(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

// fail writes a {success:false, error} envelope.
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func recordOp(op, result string) {
	metrics.AdminOperations.WithLabelValues(op, result).Inc()
}

// writeServiceError maps service errors to statuses. Store failures get a
// generic message; the detail only goes to the log.
func writeServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, users.ErrInvalid),
		errors.Is(err, models.ErrUnknownRole),
		errors.Is(err, models.ErrUnknownPlan),
		errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, models.ErrUnknownPermission):
		recordOp(op, "invalid")
		fail(c, http.StatusBadRequest, strings.TrimPrefix(err.Error(), users.ErrInvalid.Error()+": "))
	case errors.Is(err, users.ErrNotFound):
		recordOp(op, "not_found")
		fail(c, http.StatusNotFound, "User not found")
	case errors.Is(err, users.ErrEmailTaken):
		recordOp(op, "conflict")
		fail(c, http.StatusConflict, "A user with this email already exists")
	default:
		recordOp(op, "error")
		logger.Errorf("%s failed: %v", op, err)
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}
