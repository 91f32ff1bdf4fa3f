package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/tonal"
	"github.com/RyanBlaney/sonido-key/analysis"
	"github.com/RyanBlaney/sonido-key/internal/storage"
	"github.com/RyanBlaney/sonido-key/logging"
	"github.com/RyanBlaney/sonido-key/transcode"
)

// Analyzer runs the key and tempo analysis on a stored file
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string, seg analysis.Segment) (*analysis.Result, error)
	Chromagram(ctx context.Context, path string, seg analysis.Segment) (*chroma.Chromagram, error)
}

// ObjectSource downloads stored objects into transient files
type ObjectSource interface {
	Fetch(ctx context.Context, store *storage.TransientStore, name string) (string, error)
}

// KeyResponse is the JSON body returned for a successful analysis
type KeyResponse struct {
	BPM            float64 `json:"bpm"`
	Key            string  `json:"key"`
	Correlation    float64 `json:"correlation"`
	AltKey         string  `json:"alternate_key,omitempty"`
	AltCorrelation float64 `json:"alternate_correlation,omitempty"`
}

// chromagram PNG cell size in pixels
const (
	cellWidth  = 2
	cellHeight = 16
)

// requestError is invalid client input
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

type Handler struct {
	analyzer Analyzer
	store    *storage.TransientStore
	pool     *analysis.Pool
	objects  ObjectSource
	timeout  time.Duration
}

// NewHandler creates the HTTP handlers. objects may be nil when object
// storage is not configured.
func NewHandler(analyzer Analyzer, store *storage.TransientStore, pool *analysis.Pool, objects ObjectSource, timeout time.Duration) *Handler {
	return &Handler{
		analyzer: analyzer,
		store:    store,
		pool:     pool,
		objects:  objects,
		timeout:  timeout,
	}
}

// Index serves the upload page
func (h *Handler) Index(c echo.Context) error {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page)
}

// Health reports liveness
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Analyze stores the uploaded file, estimates its key and tempo and deletes it
func (h *Handler) Analyze(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	fh, seg, err := h.parseUpload(c)
	if err != nil {
		return h.fail(c, err)
	}

	path, err := h.save(fh)
	if err != nil {
		return h.fail(c, err)
	}
	defer h.remove(ctx, path)

	return h.analyze(ctx, c, path, seg)
}

// Chromagram renders the harmonic chromagram of the uploaded file as PNG
func (h *Handler) Chromagram(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	fh, seg, err := h.parseUpload(c)
	if err != nil {
		return h.fail(c, err)
	}

	path, err := h.save(fh)
	if err != nil {
		return h.fail(c, err)
	}
	defer h.remove(ctx, path)

	var buf bytes.Buffer
	err = h.pool.Do(ctx, func(ctx context.Context) error {
		chromagram, err := h.analyzer.Chromagram(ctx, path, seg)
		if err != nil {
			return err
		}
		return chromagram.WritePNG(&buf, cellWidth, cellHeight)
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// AnalyzeObject analyzes an object from the configured bucket
func (h *Handler) AnalyzeObject(c echo.Context) error {
	if h.objects == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "object storage is not configured"})
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	seg, err := parseSegment(c.FormValue("start"), c.FormValue("end"))
	if err != nil {
		return h.fail(c, err)
	}

	path, err := h.objects.Fetch(ctx, h.store, c.Param("name"))
	if err != nil {
		return h.fail(c, err)
	}
	defer h.remove(ctx, path)

	return h.analyze(ctx, c, path, seg)
}

func (h *Handler) analyze(ctx context.Context, c echo.Context, path string, seg analysis.Segment) error {
	var result *analysis.Result
	err := h.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = h.analyzer.AnalyzeFile(ctx, path, seg)
		return err
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, KeyResponse{
		BPM:            result.BPM,
		Key:            result.Key,
		Correlation:    result.Correlation,
		AltKey:         result.AltKey,
		AltCorrelation: result.AltCorrelation,
	})
}

// requestContext bounds the analysis and tags its logs with the request ID
func (h *Handler) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := c.Request().Context()
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		ctx = logging.ContextWithFields(ctx, logging.Fields{"request_id": id})
	}
	if h.timeout > 0 {
		return context.WithTimeout(ctx, h.timeout)
	}
	return context.WithCancel(ctx)
}

func (h *Handler) parseUpload(c echo.Context) (*multipart.FileHeader, analysis.Segment, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, analysis.Segment{}, &requestError{msg: `missing form field "file"`}
	}

	seg, err := parseSegment(c.FormValue("start"), c.FormValue("end"))
	if err != nil {
		return nil, analysis.Segment{}, err
	}
	return fh, seg, nil
}

func (h *Handler) save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", &requestError{msg: "unreadable upload: " + err.Error()}
	}
	defer src.Close()

	return h.store.Save(src, fh.Header.Get(echo.HeaderContentType))
}

// remove deletes a transient file; failures are logged, not returned
func (h *Handler) remove(ctx context.Context, path string) {
	if err := h.store.Remove(path); err != nil {
		logging.WithContext(ctx).Error(err, "Failed to remove transient file", logging.Fields{
			"path": path,
		})
	}
}

// parseSegment reads optional start and end times in seconds
func parseSegment(start, end string) (analysis.Segment, error) {
	var seg analysis.Segment
	for _, f := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"start", start, &seg.Start},
		{"end", end, &seg.End},
	} {
		if f.value == "" {
			continue
		}
		secs, err := strconv.ParseFloat(f.value, 64)
		if err != nil {
			return seg, &requestError{msg: fmt.Sprintf("invalid %s time %q", f.name, f.value)}
		}
		if *f.dst, err = analysis.Seconds(secs); err != nil {
			return seg, &requestError{msg: fmt.Sprintf("invalid %s time %q", f.name, f.value)}
		}
	}
	return seg, nil
}

// fail writes err as a JSON error with its mapped status
func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	message := err.Error()

	logger := logging.WithContext(c.Request().Context()).WithFields(logging.Fields{
		"component":  "http",
		"status":     status,
		"path":       c.Path(),
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
	})
	if status >= http.StatusInternalServerError {
		logger.Error(err, "Request failed")
	} else {
		logger.Warn("Request rejected", logging.Fields{"error": message})
	}

	return c.JSON(status, map[string]string{"error": message})
}

func statusFor(err error) int {
	var decodeErr *transcode.DecodeError
	var reqErr *requestError

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, analysis.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.As(err, &decodeErr),
		errors.Is(err, tonal.ErrInsufficientData),
		errors.Is(err, tonal.ErrDegenerateProfile):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
