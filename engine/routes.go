package engine

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pagerender/config"
	"github.com/drummonds/pagerender/database"
	"github.com/drummonds/pagerender/engine/pdfrenderer"
	"github.com/labstack/echo/v4"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Engine       *Engine
	DB           database.Repository // nil disables job tracking and load history
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
}

type documentStatus struct {
	Document DocumentInfo `json:"document"`
	Pool     PoolStats    `json:"pool"`
}

type renderPagesRequest struct {
	Pages  []int `json:"pages"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

// renderedPage is one page in a batch response or one line of a stream
type renderedPage struct {
	Index int    `json:"index"`
	Image string `json:"image,omitempty"` // base64 PNG
	Error string `json:"error,omitempty"`
}

type renderPagesResponse struct {
	Pages []renderedPage `json:"pages"`
	JobID string         `json:"jobId,omitempty"`
}

// RegisterRoutes adds the render API to the echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo

	// Document lifecycle
	e.POST("/api/document", serverHandler.LoadDocument)
	e.GET("/api/document", serverHandler.GetDocument)
	e.DELETE("/api/document", serverHandler.UnloadDocument)
	e.GET("/api/document/history", serverHandler.GetDocumentHistory)

	// Rendering
	e.GET("/api/document/page/:index", serverHandler.RenderPage)
	e.POST("/api/document/pages", serverHandler.RenderPages)
	e.GET("/api/document/pages/stream", serverHandler.StreamPages)

	// Job tracking API routes
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/active", serverHandler.GetActiveJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)

	e.GET("/api/about", serverHandler.GetAboutInfo)
	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "pagerender",
		})
	})
}

// renderErrorStatus maps engine errors onto HTTP status codes
func renderErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrPageIndexOutOfRange), errors.Is(err, ErrInvalidDimensions):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoDocument):
		return http.StatusNotFound
	case errors.Is(err, ErrPoolTimeout), errors.Is(err, ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrSourceOpen):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, err error) error {
	return c.JSON(renderErrorStatus(err), map[string]interface{}{
		"error": err.Error(),
	})
}

// LoadDocument loads an uploaded document or one below the document path
// @Summary Load a document
// @Description Replace the loaded document with an upload (file) or a path relative to the document folder
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file false "Document to upload"
// @Param path formData string false "Path relative to the document folder"
// @Success 200 {object} DocumentInfo
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 422 {object} map[string]interface{} "Document cannot be opened"
// @Router /document [post]
func (serverHandler *ServerHandler) LoadDocument(c echo.Context) error {
	source, err := serverHandler.documentSource(c)
	if err != nil {
		Logger.Warn("Rejected document load request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	info, err := serverHandler.Engine.LoadDocument(c.Request().Context(), source)
	if err != nil {
		Logger.Error("Unable to load document", "document", source.Name(), "error", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// documentSource picks the upload if there is one, otherwise the path form value
func (serverHandler *ServerHandler) documentSource(c echo.Context) (pdfrenderer.Source, error) {
	file, fileHeader, err := c.Request().FormFile("file")
	if err == nil {
		defer file.Close()
		limit := int64(serverHandler.ServerConfig.MaxUploadMB) << 20
		if limit > 0 && fileHeader.Size > limit {
			return nil, fmt.Errorf("upload %s is larger than %d MB", fileHeader.Filename, serverHandler.ServerConfig.MaxUploadMB)
		}
		body, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
		Logger.Debug("Received document upload", "document", fileHeader.Filename, "bytes", len(body))
		return pdfrenderer.MemorySource{Label: fileHeader.Filename, Data: body}, nil
	}

	relPath := c.FormValue("path")
	if relPath == "" {
		return nil, errors.New("either a file upload or a path is required")
	}
	fullPath, err := resolveDocumentPath(serverHandler.ServerConfig.DocumentPath, relPath)
	if err != nil {
		return nil, err
	}
	return pdfrenderer.FileSource{Path: fullPath}, nil
}

// resolveDocumentPath joins relPath onto root and refuses anything outside root
func resolveDocumentPath(root, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("path %q must be relative to the document folder", relPath)
	}
	fullPath := filepath.Join(root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(root, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the document folder", relPath)
	}
	return fullPath, nil
}

// GetDocument returns the loaded document and its renderer pool state
// @Summary Get the loaded document
// @Tags Documents
// @Produce json
// @Success 200 {object} documentStatus
// @Failure 404 {object} map[string]interface{} "No document loaded"
// @Router /document [get]
func (serverHandler *ServerHandler) GetDocument(c echo.Context) error {
	info, ok := serverHandler.Engine.Document()
	if !ok {
		return errorResponse(c, ErrNoDocument)
	}
	stats, _ := serverHandler.Engine.PoolStats()
	return c.JSON(http.StatusOK, documentStatus{Document: info, Pool: stats})
}

// UnloadDocument releases the loaded document; unloading nothing is fine
func (serverHandler *ServerHandler) UnloadDocument(c echo.Context) error {
	serverHandler.Engine.Cleanup()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Document unloaded",
	})
}

// GetDocumentHistory lists recently loaded documents
func (serverHandler *ServerHandler) GetDocumentHistory(c echo.Context) error {
	if serverHandler.DB == nil {
		return c.JSON(http.StatusOK, []database.DocumentLoad{})
	}
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	loads, err := serverHandler.DB.GetRecentDocumentLoads(limit)
	if err != nil {
		Logger.Error("Failed to get document history", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve document history",
		})
	}
	return c.JSON(http.StatusOK, loads)
}

// RenderPage renders one page as a PNG
// @Summary Render a page
// @Tags Rendering
// @Produce png
// @Param index path int true "Zero based page index"
// @Param width query int true "Raster width in pixels"
// @Param height query int true "Raster height in pixels"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]interface{} "Bad page index or dimensions"
// @Failure 503 {object} map[string]interface{} "No renderer became free in time"
// @Router /document/page/{index} [get]
func (serverHandler *ServerHandler) RenderPage(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid page index",
		})
	}
	width, height, err := parseDimensions(c)
	if err != nil {
		return errorResponse(c, err)
	}

	raster, err := serverHandler.Engine.RenderPage(c.Request().Context(), index, width, height)
	if err != nil {
		Logger.Error("Failed to render page", "page", index, "error", err)
		return errorResponse(c, err)
	}
	body, err := encodePNG(raster)
	if err != nil {
		Logger.Error("Failed to encode page", "page", index, "error", err)
		return errorResponse(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", body)
}

// RenderPages renders several pages in one request, tracked as a job
// @Summary Render pages
// @Tags Rendering
// @Accept json
// @Produce json
// @Param request body renderPagesRequest true "Pages and raster size"
// @Success 200 {object} renderPagesResponse
// @Router /document/pages [post]
func (serverHandler *ServerHandler) RenderPages(c echo.Context) error {
	var request renderPagesRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}

	job := serverHandler.startRenderJob(database.JobTypeBatchRender, len(request.Pages),
		fmt.Sprintf("Rendering %d pages at %dx%d", len(request.Pages), request.Width, request.Height))
	startTime := time.Now()

	rasters, err := serverHandler.Engine.RenderPages(c.Request().Context(), request.Pages, request.Width, request.Height)
	if err != nil {
		Logger.Error("Failed to render pages", "pages", len(request.Pages), "error", err)
		job.fail(err)
		return errorResponse(c, err)
	}

	response := renderPagesResponse{Pages: make([]renderedPage, 0, len(rasters)), JobID: job.String()}
	for i, raster := range rasters {
		body, err := encodePNG(raster)
		if err != nil {
			job.fail(err)
			return errorResponse(c, err)
		}
		response.Pages = append(response.Pages, renderedPage{
			Index: request.Pages[i],
			Image: base64.StdEncoding.EncodeToString(body),
		})
	}

	job.complete(database.RenderSummary{
		DocumentID:    serverHandler.documentID(),
		PagesTotal:    len(request.Pages),
		PagesRendered: len(rasters),
		ElapsedMs:     time.Since(startTime).Milliseconds(),
	})
	return c.JSON(http.StatusOK, response)
}

// StreamPages renders pages and writes one NDJSON line per page as soon as it
// is ready. Closing the connection cancels the remaining renders.
// @Summary Stream rendered pages
// @Tags Rendering
// @Produce json
// @Param pages query string true "Comma separated page indexes"
// @Param width query int true "Raster width in pixels"
// @Param height query int true "Raster height in pixels"
// @Router /document/pages/stream [get]
func (serverHandler *ServerHandler) StreamPages(c echo.Context) error {
	pages, err := parsePageList(c.QueryParam("pages"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
	width, height, err := parseDimensions(c)
	if err == nil {
		err = validateDimensions(width, height)
	}
	if err != nil {
		return errorResponse(c, err)
	}
	if _, ok := serverHandler.Engine.Document(); !ok {
		return errorResponse(c, ErrNoDocument)
	}

	ctx := c.Request().Context()
	job := serverHandler.startRenderJob(database.JobTypeStreamRender, len(pages),
		fmt.Sprintf("Streaming %d pages at %dx%d", len(pages), width, height))
	startTime := time.Now()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	if job.ok {
		res.Header().Set("X-Job-Id", job.String())
	}
	res.WriteHeader(http.StatusOK)
	encoder := json.NewEncoder(res)

	summary := database.RenderSummary{DocumentID: serverHandler.documentID(), PagesTotal: len(pages)}
	emitted := 0
	for result := range serverHandler.Engine.RenderPagesStream(ctx, pages, width, height) {
		line := renderedPage{Index: result.Index}
		if result.Err == nil {
			body, err := encodePNG(result.Raster)
			if err != nil {
				result.Err = err
			} else {
				line.Image = base64.StdEncoding.EncodeToString(body)
				summary.PagesRendered++
			}
		}
		if result.Err != nil {
			line.Error = result.Err.Error()
			summary.Errors++
			Logger.Warn("Streamed page failed", "page", result.Index, "error", result.Err)
		}
		if err := encoder.Encode(line); err != nil {
			Logger.Warn("Stream client went away", "error", err)
			break
		}
		res.Flush()
		emitted++
		job.progress(emitted)
	}

	if ctx.Err() != nil || emitted < len(pages) {
		job.cancel(fmt.Sprintf("Stream stopped after %d of %d pages", emitted, len(pages)))
		return nil
	}
	summary.ElapsedMs = time.Since(startTime).Milliseconds()
	job.complete(summary)
	return nil
}

func (serverHandler *ServerHandler) documentID() string {
	info, ok := serverHandler.Engine.Document()
	if !ok {
		return ""
	}
	return info.ID.String()
}

// parseDimensions reads the width and height query parameters
func parseDimensions(c echo.Context) (int, int, error) {
	width, werr := strconv.Atoi(c.QueryParam("width"))
	height, herr := strconv.Atoi(c.QueryParam("height"))
	if werr != nil || herr != nil {
		return 0, 0, fmt.Errorf("%w: width and height query parameters are required", ErrInvalidDimensions)
	}
	return width, height, nil
}

// parsePageList parses "0,1,2" into page indexes; an empty list is allowed
func parsePageList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	pages := make([]int, 0, len(parts))
	for _, part := range parts {
		index, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid page index %q", part)
		}
		pages = append(pages, index)
	}
	return pages, nil
}

func encodePNG(raster image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, raster, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// GetAboutInfo returns information about the renderer configuration
// @Summary Get application information
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Application information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	cfg := serverHandler.ServerConfig
	aboutInfo := map[string]interface{}{
		"renderBackend":  cfg.RenderBackend,
		"poolSize":       ResolvePoolSize(cfg.PoolSize),
		"acquireTimeout": cfg.AcquireTimeout.String(),
		"renderLock":     cfg.RenderLock,
		"databaseType":   cfg.DatabaseType,
		"documentPath":   cfg.DocumentPath,
		"maxUploadMB":    cfg.MaxUploadMB,
	}
	return c.JSON(http.StatusOK, aboutInfo)
}
