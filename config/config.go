package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	DocumentPath     string // root that path based loads are confined to
	RendererConfig
}

// RendererConfig holds the render engine settings
type RendererConfig struct {
	RenderBackend    string        // fitz, pdfium or fake
	FakePageCount    int           // page count the fake backend reports for any document
	PoolSize         int           // 0 sizes the pool from the CPU count
	AcquireTimeout   time.Duration // how long a render waits for a free renderer
	RenderLock       string        // global, handle or none
	JobRetention     time.Duration // finished jobs older than this are pruned
	JobPruneInterval time.Duration
	StatsInterval    time.Duration // 0 disables periodic pool stats logging
	MaxUploadMB      int
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvDuration gets a duration environment variable (e.g. "10s", "24h").
// A bare integer is read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "pagerender")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "databases/pagerender.sqlite")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Document storage configuration
	documentPathRelative := filepath.ToSlash(getEnv("DOCUMENT_PATH", "documents"))
	documentPathAbs, err := filepath.Abs(documentPathRelative)
	if err != nil {
		logger.Error("Error creating document path", "path", documentPathRelative, "error", err)
		documentPathAbs = documentPathRelative
	}
	serverConfigLive.DocumentPath = documentPathAbs

	serverConfigLive.RendererConfig = loadRendererConfig()
	logger.Info("Renderer configuration loaded",
		"backend", serverConfigLive.RenderBackend,
		"poolSize", serverConfigLive.PoolSize,
		"acquireTimeout", serverConfigLive.AcquireTimeout,
		"renderLock", serverConfigLive.RenderLock)

	fmt.Println("\n========================================")
	fmt.Println("   pagerender - PDF page rendering server")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "pagerender.log"))
	fmt.Println("Initializing...")

	return serverConfigLive, logger
}

func loadRendererConfig() RendererConfig {
	return RendererConfig{
		RenderBackend:    strings.ToLower(getEnv("RENDER_BACKEND", "fitz")),
		FakePageCount:    max(getEnvInt("FAKE_PAGE_COUNT", 1), 1),
		PoolSize:         max(getEnvInt("POOL_SIZE", 0), 0),
		AcquireTimeout:   getEnvDuration("ACQUIRE_TIMEOUT", 10*time.Second),
		RenderLock:       strings.ToLower(getEnv("RENDER_LOCK", "global")),
		JobRetention:     getEnvDuration("JOB_RETENTION", 24*time.Hour),
		JobPruneInterval: getEnvDuration("JOB_PRUNE_INTERVAL", time.Hour),
		StatsInterval:    statsInterval(),
		MaxUploadMB:      getEnvInt("MAX_UPLOAD_MB", 100),
	}
}

func statsInterval() time.Duration {
	if !getEnvBool("POOL_STATS_LOG", true) {
		return 0
	}
	return getEnvDuration("POOL_STATS_INTERVAL", 5*time.Minute)
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pagerender.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
