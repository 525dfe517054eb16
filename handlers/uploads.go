package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"stash/middleware"
	"stash/upload"

	"github.com/gin-gonic/gin"
)

// UploadFile runs behind middleware.APIKeyRequired, so an unauthorized
// request never reaches the body or the filesystem.
func UploadFile(binder *upload.Binder, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := middleware.ProjectFromContext(c)
		if !ok {
			respondError(c, middleware.ErrUnauthorized)
			return
		}

		baseURL := publicBaseURL
		if baseURL == "" {
			baseURL = upload.BaseURL(c.Request)
		}

		result, err := binder.Bind(c.Request.Context(), project, c.Request, baseURL)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// ServeUpload streams a stored file. Hidden files (in-flight temp files) and
// anything that is not a regular file are reported as missing.
func ServeUpload(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		filename := c.Param("filename")

		if !safeSegment(projectID) || !safeSegment(filename) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}

		path := filepath.Join(root, projectID, filename)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}

		c.File(path)
	}
}

func safeSegment(s string) bool {
	return s != "" && !strings.HasPrefix(s, ".") && !strings.ContainsAny(s, `/\`)
}
