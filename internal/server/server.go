package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"call-triage/internal/export"
	"call-triage/internal/library"
	"call-triage/internal/models"
	"call-triage/internal/playback"
	"call-triage/internal/purge"
	"call-triage/internal/scanner"
)

// Library abstracts the recording store for the HTTP handlers.
type Library interface {
	Load(ctx context.Context, root string, progress scanner.ProgressFunc) (models.ScanResult, error)
	List(filter library.Filter) []models.Recording
	Get(path string) (models.Recording, bool)
	ContactName(phone string) string
	Confirm(paths []string, decision models.Classification) library.BatchResult
	Undo(paths []string) library.BatchResult
	Export() []models.ExportRecord
	ScanID() string
	Root() string
}

// Deleter runs a deletion batch.
type Deleter interface {
	DeleteSelection(paths []string) purge.Report
}

// Options wires the handler's collaborators.
type Options struct {
	Library Library
	Deleter Deleter
	Tracker *playback.Tracker
	// DefaultRoot is scanned when a scan request names no directory.
	DefaultRoot string
	Logger      *zap.Logger
}

type serverHandler struct {
	lib         Library
	deleter     Deleter
	tracker     *playback.Tracker
	defaultRoot string
	logger      *zap.Logger
}

// New creates the HTTP handler that exposes the triage API.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = playback.NewTracker(logger)
	}

	h := &serverHandler{
		lib:         opts.Library,
		deleter:     opts.Deleter,
		tracker:     tracker,
		defaultRoot: opts.DefaultRoot,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/recordings", h.handleRecordings)
	mux.HandleFunc("/recordings/scan", h.handleScan)
	mux.HandleFunc("/recordings/confirm", h.handleConfirm)
	mux.HandleFunc("/recordings/undo", h.handleUndo)
	mux.HandleFunc("/recordings/delete", h.handleDelete)
	mux.HandleFunc("/export", h.handleExport)
	mux.HandleFunc("/audio", h.handleAudio)

	return logRequests(mux, logger)
}

type recordingView struct {
	models.Recording
	ContactName string `json:"contact_name,omitempty"`
}

type scanRequest struct {
	Root string `json:"root"`
}

type scanResponse struct {
	ScanID     string               `json:"scan_id"`
	Root       string               `json:"root"`
	Recordings int                  `json:"recordings"`
	Skipped    []models.SkippedFile `json:"skipped"`
}

type batchRequest struct {
	Paths    []string `json:"paths"`
	Decision string   `json:"decision,omitempty"`
}

type itemFailure struct {
	Path  string `json:"path"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type batchResponse struct {
	Applied []string      `json:"applied"`
	Failed  []itemFailure `json:"failed"`
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *serverHandler) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var filter library.Filter
	query := r.URL.Query()
	if value := strings.TrimSpace(query.Get("classification")); value != "" {
		c, err := models.ParseClassification(value)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Classification = c
	}
	if value := strings.TrimSpace(query.Get("confirmed")); value != "" {
		confirmed, err := strconv.ParseBool(value)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("confirmed must be true or false"))
			return
		}
		filter.Confirmed = &confirmed
	}

	recordings := h.lib.List(filter)
	views := make([]recordingView, len(recordings))
	for i, rec := range recordings {
		views[i] = recordingView{Recording: rec, ContactName: h.lib.ContactName(rec.PhoneNumber)}
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *serverHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	root := strings.TrimSpace(req.Root)
	if root == "" {
		root = h.defaultRoot
	}
	if root == "" {
		root = h.lib.Root()
	}
	if root == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("no recordings directory given"))
		return
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.lib.Load(r.Context(), abs, nil)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, os.ErrNotExist):
			status = http.StatusNotFound
		case errors.Is(err, context.Canceled):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("scan failed", zap.String("root", abs), zap.Error(err))
		h.writeError(w, status, err)
		return
	}

	skipped := result.Skipped
	if skipped == nil {
		skipped = []models.SkippedFile{}
	}
	h.writeJSON(w, http.StatusOK, scanResponse{
		ScanID:     result.ID,
		Root:       result.Root,
		Recordings: len(result.Recordings),
		Skipped:    skipped,
	})
}

func (h *serverHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	decision, err := models.ParseClassification(req.Decision)
	if err != nil || decision == models.PendingReview {
		h.writeError(w, http.StatusBadRequest, errors.New("decision must be important or unimportant"))
		return
	}

	h.writeJSON(w, http.StatusOK, toBatchResponse(h.lib.Confirm(req.Paths, decision)))
}

func (h *serverHandler) handleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toBatchResponse(h.lib.Undo(req.Paths)))
}

func (h *serverHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.deleter == nil {
		h.writeError(w, http.StatusNotImplemented, errors.New("deletion is disabled"))
		return
	}

	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.deleter.DeleteSelection(req.Paths))
}

func (h *serverHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	if err := export.Write(w, format, h.lib.ScanID(), h.lib.Export()); err != nil {
		h.logger.Error("failed to write export", zap.String("format", format), zap.Error(err))
	}
}

func (h *serverHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rec, ok := h.lib.Get(filepath.Clean(path))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ctx, release := h.tracker.Open(r.Context(), rec.FilePath)
	defer release()

	f, err := os.Open(rec.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Error("failed to open recording", zap.String("path", rec.FilePath), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Streams run as long as the listener keeps reading, so the server-wide
	// write timeout is lifted here. Stopping the stream forces any blocked
	// write to fail.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("could not clear write deadline", zap.Error(err))
	}
	stopDeadline := context.AfterFunc(ctx, func() {
		_ = rc.SetWriteDeadline(time.Now())
	})
	defer stopDeadline()

	w.Header().Set("Content-Type", mimeTypeForFilename(rec.FilePath))
	http.ServeContent(w, r, filepath.Base(rec.FilePath), info.ModTime(), &cancelableReader{ctx: ctx, rs: f})
	if errors.Is(ctx.Err(), context.Canceled) && r.Context().Err() == nil {
		h.logger.Info("audio stream interrupted", zap.String("path", rec.FilePath))
	}
}

// cancelableReader fails every read once ctx is done so a stopped stream
// stops touching the file.
type cancelableReader struct {
	ctx context.Context
	rs  io.ReadSeeker
}

func (c *cancelableReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.rs.Read(p)
}

func (c *cancelableReader) Seek(offset int64, whence int) (int64, error) {
	return c.rs.Seek(offset, whence)
}

func toBatchResponse(result library.BatchResult) batchResponse {
	resp := batchResponse{Applied: result.Applied, Failed: []itemFailure{}}
	if resp.Applied == nil {
		resp.Applied = []string{}
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, itemFailure{Path: f.Path, Code: errorCode(f.Err), Error: f.Err.Error()})
	}
	return resp
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, library.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, library.ErrUnknownRecording):
		return "unknown_recording"
	case errors.Is(err, library.ErrInvalidDecision):
		return "invalid_decision"
	}
	return "error"
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *serverHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *serverHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func logRequests(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.size),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func mimeTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		if fallback, ok := fallbackMIMETypes[ext]; ok {
			return fallback
		}
		if value := mime.TypeByExtension(ext); value != "" {
			return value
		}
	}
	return "application/octet-stream"
}

var fallbackMIMETypes = map[string]string{
	".m4a": "audio/mp4",
	".amr": "audio/amr",
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
}
