package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/auth"
	"github.com/vdjjd/faninteract/config"
	"github.com/vdjjd/faninteract/middleware"
	"github.com/vdjjd/faninteract/pkg/spin"
)

// App is the prize wheel HTTP application: operator endpoints behind JWT,
// public observer streams, and lifecycle management around one Coordinator.
type App struct {
	engine        *gin.Engine
	config        *config.Config
	logger        zerolog.Logger
	coordinator   *spin.Coordinator
	httpServer    *http.Server
	onShutdown    []func()
	spinHandler   *SpinHandler
	streamHandler *StreamHandler
}

// Options holds server configuration options
type Options struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Coordinator *spin.Coordinator
}

// Router is an alias for gin.Engine for convenience
type Router = gin.Engine

// New creates the wheel service application
func New(opts Options) *App {
	if opts.Config.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	app := &App{
		engine:      gin.New(),
		config:      opts.Config,
		logger:      opts.Logger,
		coordinator: opts.Coordinator,
	}

	app.spinHandler = NewSpinHandler(app)
	app.streamHandler = NewStreamHandler(app)

	return app
}

// UseCommonMiddlewares adds common middlewares to the application
func (a *App) UseCommonMiddlewares() {
	// Recovery middleware (must be first)
	a.engine.Use(middleware.Recovery(a.logger))

	// Trace ID middleware
	a.engine.Use(middleware.TraceID())

	// Logging middleware
	a.engine.Use(middleware.Logging(a.logger))

	// CORS middleware if enabled
	if a.config.Server.EnableCORS {
		a.engine.Use(middleware.CORS())
	}
}

// UseMiddleware adds a custom middleware
func (a *App) UseMiddleware(m gin.HandlerFunc) {
	a.engine.Use(m)
}

// RegisterHealthCheck adds health check endpoints
func (a *App) RegisterHealthCheck() {
	a.engine.GET("/health", a.healthCheck)
	a.engine.GET("/api/health", a.healthCheck)
}

func (a *App) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"environment": a.config.Environment,
		"service":     "wheel",
	})
}

// RegisterSpinRoutes registers the spin API.
//
// Operator routes (JWT protected):
//   - POST /api/wheels/{wheel_id}/spin/go    -> SpinHandler.Go
//   - POST /api/wheels/{wheel_id}/spin/stop  -> SpinHandler.Stop
//   - POST /api/wheels/{wheel_id}/spin/auto  -> SpinHandler.Auto
//
// Observer routes (public; wall displays and guest devices carry no token):
//   - GET /api/wheels/{wheel_id}/spin/state     -> SpinHandler.State
//   - GET /api/wheels/{wheel_id}/spin/events    -> StreamHandler.StreamSSE
//   - GET /api/wheels/{wheel_id}/spin/events/ws -> StreamHandler.StreamWebSocket
func (a *App) RegisterSpinRoutes() {
	wheels := a.engine.Group("/api/wheels/:wheel_id/spin")

	operator := wheels.Group("")
	operator.Use(auth.JWTMiddleware(a.config.JWT.Secret, a.logger))
	// Operator calls are short writes; observer streams below stay unbounded.
	operator.Use(middleware.Timeout(15 * time.Second))
	{
		operator.POST("/go", a.spinHandler.Go)
		operator.POST("/stop", a.spinHandler.Stop)
		operator.POST("/auto", a.spinHandler.Auto)
	}

	wheels.GET("/state", a.spinHandler.State)
	wheels.GET("/events", a.streamHandler.StreamSSE)
	wheels.GET("/events/ws", a.streamHandler.StreamWebSocket)

	a.logger.Info().Msg("Spin routes registered: /api/wheels/:wheel_id/spin")
}

// Router returns the Gin engine for custom route registration
func (a *App) Router() *gin.Engine {
	return a.engine
}

// Group creates a route group
func (a *App) Group(path string, handlers ...gin.HandlerFunc) *gin.RouterGroup {
	return a.engine.Group(path, handlers...)
}

// AuthGroup creates a route group with JWT authentication
func (a *App) AuthGroup(path string) *gin.RouterGroup {
	return a.engine.Group(path, auth.JWTMiddleware(a.config.JWT.Secret, a.logger))
}

// Coordinator returns the spin coordination engine
func (a *App) Coordinator() *spin.Coordinator {
	return a.coordinator
}

// OnShutdown registers a function to be called on shutdown
func (a *App) OnShutdown(fn func()) {
	a.onShutdown = append(a.onShutdown, fn)
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM
func (a *App) Run() error {
	a.startHTTPServer()
	return a.waitForShutdown()
}

// RunWithContext starts the HTTP server and shuts down when ctx is done
func (a *App) RunWithContext(ctx context.Context) error {
	errChan := make(chan error, 1)
	a.startHTTPServerWithErrChan(errChan)

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errChan:
		return err
	}
}

func (a *App) startHTTPServer() {
	a.startHTTPServerWithErrChan(nil)
}

func (a *App) startHTTPServerWithErrChan(errChan chan<- error) {
	addr := fmt.Sprintf(":%d", a.config.Server.Port)

	a.httpServer = &http.Server{
		Addr:         addr,
		Handler:      a.engine,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}

	go func() {
		a.logger.Info().
			Int("port", a.config.Server.Port).
			Str("environment", a.config.Environment).
			Msg("Starting HTTP server")

		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errChan != nil {
				errChan <- err
				return
			}
			a.logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
}

func (a *App) waitForShutdown() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return a.shutdown()
}

func (a *App) shutdown() error {
	a.logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, fn := range a.onShutdown {
		fn()
	}

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Error during server shutdown")
		return err
	}

	a.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger
func (a *App) Logger() zerolog.Logger {
	return a.logger
}
