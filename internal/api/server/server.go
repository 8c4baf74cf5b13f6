package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/internal/api/handlers"
	"github.com/tsamsiyu/themelio/internal/api/middleware"
	"github.com/tsamsiyu/themelio/internal/config"
	"github.com/tsamsiyu/themelio/internal/metrics"
)

type Server struct {
	config *config.ServerConfig
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

func NewRouter(
	logger *zap.Logger,
	m *metrics.Metrics,
	definitionHandler *handlers.DefinitionHandler,
	resourceHandler *handlers.ResourceHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.ErrorHandler(logger))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.ErrorMapper(logger))

	api := router.Group("/api/v1")
	{
		definitions := api.Group("/definitions")
		{
			definitions.GET("", definitionHandler.ListDefinitions)
			definitions.POST("", definitionHandler.CreateDefinition)
			definitions.GET("/:group/:plural", definitionHandler.GetDefinition)
			definitions.PUT("/:group/:plural", definitionHandler.ReplaceDefinition)
			definitions.DELETE("/:group/:plural", definitionHandler.DeleteDefinition)
		}

		resources := api.Group("/resources")
		{
			resources.GET("/:group/:version/:plural", resourceHandler.ListResources)
			resources.POST("/:group/:version/:plural", resourceHandler.CreateResource)
			resources.GET("/:group/:version/:plural/:name", resourceHandler.GetResource)
			resources.PUT("/:group/:version/:plural/:name", resourceHandler.ReplaceResource)
			resources.PATCH("/:group/:version/:plural/:name", resourceHandler.PatchResource)
			resources.PATCH("/:group/:version/:plural/:name/:subresource", resourceHandler.PatchSubResource)
			resources.DELETE("/:group/:version/:plural/:name", resourceHandler.DeleteResource)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return router
}

func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	router *gin.Engine,
) *Server {
	return &Server{
		config: &cfg.Server,
		logger: logger,
		router: router,
	}
}

// Start listens in the background. Listen errors other than a shutdown are logged.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.Int("port", s.config.Port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}
