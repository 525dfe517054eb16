package handlers

import (
	"net/http"

	"stash/database"
	"stash/logger"
	"stash/metrics"
	"stash/models"

	"github.com/gin-gonic/gin"
)

// CreateProject returns the full record, API key included. This is the only
// response designed to hand the key out.
func CreateProject(store database.ProjectStore, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateProjectRequest
		if err := bindJSON(c, &req); err != nil {
			respondBadJSON(c, err)
			return
		}

		ctx := c.Request.Context()
		project, err := store.CreateProject(ctx, req.Name, req.Format)
		if err != nil {
			respondError(c, err)
			return
		}

		m.RecordProjectCreated()
		logger.FromContext(ctx).Info("Project created", "project_id", project.ID)
		c.JSON(http.StatusOK, project)
	}
}

func ListProjects(store database.ProjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := store.ListProjects(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, projects)
	}
}

// UpdateProjectFormat needs no API key, matching the existing client contract.
func UpdateProjectFormat(store database.ProjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.UpdateFormatRequest
		if err := bindJSON(c, &req); err != nil {
			respondBadJSON(c, err)
			return
		}

		if err := store.UpdateFormat(c.Request.Context(), c.Param("id"), req.Format); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// DeleteProject succeeds whether or not the project exists.
func DeleteProject(store database.ProjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
