package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"stash/database"
	"stash/logger"
	"stash/middleware"
	"stash/upload"

	"github.com/gin-gonic/gin"
)

// respondError maps a store or upload error to a status and a JSON body.
// Unknown errors are logged and reported without detail.
func respondError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"

	switch {
	case errors.Is(err, database.ErrValidation):
		status, msg = http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, database.ErrNotFound):
		status, msg = http.StatusNotFound, "Project not found"
	case errors.Is(err, middleware.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "Invalid Project ID or API Key"
	case errors.Is(err, upload.ErrNoFile):
		status, msg = http.StatusBadRequest, "No file uploaded"
	case errors.Is(err, upload.ErrPayloadTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, "File too large"
	default:
		logger.FromContext(c.Request.Context()).Error("Request error", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, gin.H{"error": msg})
}

// validationMessage drops the wrapping so only the field complaint is shown.
func validationMessage(err error) string {
	msg := err.Error()
	prefix := database.ErrValidation.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		msg = msg[i+len(prefix):]
	}
	return msg
}

// bindJSON treats an empty body as an empty object, so a missing name is a
// validation error rather than a decode error.
func bindJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func respondBadJSON(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Debug("Bind error", "error", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
}
