package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"stash/database"
	"stash/logger"
	"stash/models"

	"github.com/gin-gonic/gin"
)

const (
	// APIKeyHeader carries the per-project secret.
	APIKeyHeader = "x-api-key"

	projectContextKey = "project"
)

// ErrUnauthorized covers both an unknown project and a wrong key, so callers
// cannot tell which project IDs exist.
var ErrUnauthorized = errors.New("invalid project id or api key")

const unauthorizedMessage = "Invalid Project ID or API Key"

// Authorize reports whether presentedKey is exactly project's API key.
func Authorize(project *models.Project, presentedKey string) bool {
	if project == nil || project.APIKey == "" || presentedKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(project.APIKey), []byte(presentedKey)) == 1
}

// APIKeyRequired loads the project named by the :projectId route param and
// checks the x-api-key header against it. On success the project is stored
// in the gin context for handlers to use.
func APIKeyRequired(store database.ProjectStore, onReject func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		apiKey := c.GetHeader(APIKeyHeader)

		ctx := c.Request.Context()
		project, err := store.GetProject(ctx, projectID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			logger.FromContext(ctx).Error("Project lookup failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			c.Abort()
			return
		}

		if !Authorize(project, apiKey) {
			if onReject != nil {
				onReject(c)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
			c.Abort()
			return
		}

		c.Set(projectContextKey, project)
		c.Next()
	}
}

// ProjectFromContext returns the project stored by APIKeyRequired.
func ProjectFromContext(c *gin.Context) (*models.Project, bool) {
	v, ok := c.Get(projectContextKey)
	if !ok {
		return nil, false
	}
	project, ok := v.(*models.Project)
	return project, ok && project != nil
}
