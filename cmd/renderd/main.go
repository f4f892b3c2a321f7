package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "go.uber.org/automaxprocs"

	config "github.com/drummonds/pagerender/config"
	database "github.com/drummonds/pagerender/database"
	engine "github.com/drummonds/pagerender/engine"
	"github.com/drummonds/pagerender/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

const shutdownTimeout = 15 * time.Second

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
}

// @title pagerender API
// @version 1.0
// @description Loads one PDF at a time and renders its pages to PNG through a pool of renderers

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /api
// @schemes http https

// @tag.name Documents
// @tag.description Load, inspect and unload the current document

// @tag.name Rendering
// @tag.description Single page, batch and streamed rendering

// @tag.name Jobs
// @tag.description Render job tracking

func main() {
	port := flag.String("port", "", "Port to run the render server on (overrides SERVER_PORT)")
	flag.Parse()

	if err := run(*port); err != nil {
		fmt.Fprintf(os.Stderr, "pagerender: %v\n", err)
		os.Exit(1)
	}
}

func run(port string) error {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	if port != "" {
		serverConfig.ListenAddrPort = port
	}

	repo, err := database.NewRepository(serverConfig)
	if err != nil {
		Logger.Error("Unable to open database", "type", serverConfig.DatabaseType, "error", err)
		return err
	}
	defer repo.Close()

	lockMode, err := engine.ParseLockMode(serverConfig.RenderLock)
	if err != nil {
		return err
	}
	poolSize := engine.ResolvePoolSize(serverConfig.PoolSize)
	opener, err := pdfrenderer.NewOpener(serverConfig.RenderBackend, poolSize, serverConfig.FakePageCount)
	if err != nil {
		Logger.Error("Unable to start render backend", "backend", serverConfig.RenderBackend, "error", err)
		return err
	}
	renderEngine := engine.NewEngine(opener, engine.Options{
		PoolSize:       poolSize,
		AcquireTimeout: serverConfig.AcquireTimeout,
		LockMode:       lockMode,
		Backend:        serverConfig.RenderBackend,
		Logger:         logger,
	}, repo)
	defer func() {
		if err := renderEngine.Close(); err != nil {
			Logger.Error("Error closing render engine", "error", err)
		}
	}()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Custom 404 handler for API endpoints
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}

		e.DefaultHTTPErrorHandler(err, c)
	}

	serverHandler := engine.ServerHandler{Engine: renderEngine, DB: repo, Echo: e, ServerConfig: serverConfig}
	Logger.Info("Initializing render services...")
	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		Logger.Error("Startup checks failed", "error", err)
		return err
	}
	schedules := serverHandler.InitializeSchedules() //initialize all the cron jobs
	defer schedules.Stop()
	Logger.Info("Render services initialized", "backend", serverConfig.RenderBackend, "poolSize", poolSize)

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		ExposeHeaders: []string{"X-Job-Id"},
	}))
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
	}))
	if serverConfig.MaxUploadMB > 0 {
		// multipart overhead on top of the upload itself
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", serverConfig.MaxUploadMB+1)))
	}

	serverHandler.RegisterRoutes()

	addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Printf("Render server running on %s\n", addr)
	fmt.Printf("API endpoints available at http://%s/api/\n", addr)
	fmt.Printf("Health check: http://%s/api/health\n", addr)
	fmt.Println(strings.Repeat("=", 50) + "\n")

	ctx, stop := notifyContext(context.Background())
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		Logger.Info("Starting render server", "address", addr)
		serverErr <- e.Start(addr)
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("Server failed to start", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	Logger.Info("Shutting down render server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		Logger.Error("Error during server shutdown", "error", err)
		return err
	}
	return nil
}
