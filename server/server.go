package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"stash/config"
	"stash/database"
	"stash/handlers"
	"stash/logger"
	"stash/metrics"
	"stash/middleware"
	"stash/upload"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps is everything the router needs. Metrics may be nil.
type Deps struct {
	Config  *config.Config
	Store   database.Store
	Binder  *upload.Binder
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// OpenStore picks the backend named by storage.driver.
func OpenStore(ctx context.Context, cfg *config.Config, log logger.Logger) (database.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := database.Connect(ctx, cfg.Database.URL, database.PoolConfig{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, log)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverFile:
		fs, err := database.OpenFileStore(ctx, cfg.Storage.DataDir, log)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(d.Metrics.Middleware())
	r.Use(cors.New(corsConfig(d.Config.CORS.AllowedOrigins)))

	r.GET("/health", handlers.HealthCheck)
	if d.Metrics != nil {
		r.GET("/metrics", d.Metrics.Handler())
	}

	api := r.Group("/api")
	{
		api.POST("/projects", handlers.CreateProject(d.Store, d.Metrics))
		api.GET("/projects", handlers.ListProjects(d.Store))
		api.PUT("/projects/:id", handlers.UpdateProjectFormat(d.Store))
		api.DELETE("/projects/:id", handlers.DeleteProject(d.Store))

		uploadAuth := middleware.APIKeyRequired(d.Store, func(*gin.Context) {
			d.Metrics.RecordUpload(metrics.UploadUnauthorized, 0)
		})
		api.POST("/upload/:projectId", uploadAuth, handlers.UploadFile(d.Binder, d.Config.Upload.PublicBaseURL))

		dataAuth := middleware.APIKeyRequired(d.Store, nil)
		api.POST("/data/:projectId", dataAuth, handlers.AppendEvent(d.Store, d.Metrics))
		api.GET("/data/:projectId", dataAuth, handlers.ListEvents(d.Store))
	}

	r.GET(upload.URLPrefix+"/:projectId/:filename", handlers.ServeUpload(d.Binder.Root()))

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.APIKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Run serves handler until ctx is cancelled, then drains in-flight requests
// for up to server.shutdown_timeout.
func Run(ctx context.Context, cfg *config.Config, handler http.Handler, log logger.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}
