package handlers

import (
	"net/http"

	"stash/database"
	"stash/metrics"
	"stash/middleware"
	"stash/models"

	"github.com/gin-gonic/gin"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// AppendEvent runs behind middleware.APIKeyRequired.
func AppendEvent(events database.EventLog, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := middleware.ProjectFromContext(c)
		if !ok {
			respondError(c, middleware.ErrUnauthorized)
			return
		}

		var req models.AppendEventRequest
		if err := bindJSON(c, &req); err != nil {
			respondBadJSON(c, err)
			return
		}

		entry, err := events.AppendEvent(c.Request.Context(), project.ID, req.Type, req.Data)
		if err != nil {
			respondError(c, err)
			return
		}

		m.RecordEvent()
		c.JSON(http.StatusOK, models.AppendEventResponse{Success: true, ID: entry.ID})
	}
}

// ListEvents runs behind middleware.APIKeyRequired.
func ListEvents(events database.EventLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := middleware.ProjectFromContext(c)
		if !ok {
			respondError(c, middleware.ErrUnauthorized)
			return
		}

		var q models.EventQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
			return
		}

		records, total, err := events.QueryEvents(c.Request.Context(), project.ID, q)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.EventsResponse{Events: records, Total: int(total)})
	}
}
