package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/drummonds/pagerender/config"
)

// StartupChecks performs all the checks to make sure everything works.
// A misconfigured renderer is fatal; a missing document folder is created.
func (serverHandler *ServerHandler) StartupChecks() error {
	cfg := serverHandler.ServerConfig
	return errors.Join(
		rendererChecks(cfg),
		documentDirectoryChecks(cfg),
	)
}

// rendererChecks validates the render settings before any document is loaded
func rendererChecks(serverConfig config.ServerConfig) error {
	switch serverConfig.RenderBackend {
	case "", "fitz", "mupdf", "pdfium", "fake":
	default:
		Logger.Error("Unknown render backend", "backend", serverConfig.RenderBackend)
		return fmt.Errorf("unknown render backend %q", serverConfig.RenderBackend)
	}
	if serverConfig.RenderBackend == "fake" {
		Logger.Warn("Fake render backend configured, pages will be solid colours")
	}

	lockMode, err := ParseLockMode(serverConfig.RenderLock)
	if err != nil {
		Logger.Error("Invalid render lock", "renderLock", serverConfig.RenderLock, "error", err)
		return err
	}
	if lockMode == LockNone {
		Logger.Warn("Render calls are not serialized, the backend must be thread safe")
	}

	poolSize := ResolvePoolSize(serverConfig.PoolSize)
	if serverConfig.AcquireTimeout <= 0 {
		Logger.Warn("Acquire timeout not set, using default", "default", DefaultAcquireTimeout)
	}
	Logger.Info("Renderer configuration validated",
		"backend", serverConfig.RenderBackend,
		"poolSize", poolSize,
		"renderLock", lockMode)
	return nil
}

// documentDirectoryChecks ensures the document directory exists
func documentDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.DocumentPath == "" {
		Logger.Warn("Document path not configured, only uploads can be loaded")
		return nil
	}

	docInfo, err := os.Stat(serverConfig.DocumentPath)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating document directory", "path", serverConfig.DocumentPath)
			if err := os.MkdirAll(serverConfig.DocumentPath, 0755); err != nil {
				Logger.Error("Failed to create document directory", "path", serverConfig.DocumentPath, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking document directory", "path", serverConfig.DocumentPath, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !docInfo.IsDir() {
		Logger.Error("Document path exists but is not a directory", "path", serverConfig.DocumentPath)
		return fmt.Errorf("document path is not a directory: %s", serverConfig.DocumentPath)
	}

	Logger.Info("Document directory exists", "path", serverConfig.DocumentPath)
	return nil
}
