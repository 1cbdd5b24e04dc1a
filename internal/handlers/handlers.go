package handlers

import (
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/moodsense/internal/emotion"
	"github.com/Brownie44l1/moodsense/internal/result"
	"github.com/Brownie44l1/moodsense/internal/session"
	"github.com/Brownie44l1/moodsense/internal/workflow"
)

const (
	sessionCookieName = "ms_session"
	// multipartOverhead is allowed on top of the image limit for form framing.
	multipartOverhead  = 1 << 20
	defaultPreviewSize = 320
)

// Options tunes a Handler.
type Options struct {
	MaxUploadBytes int64
	PreviewSize    uint
	Tips           result.TipLookup
	Logger         *slog.Logger
}

// Handler exposes the per-session workflow over HTTP.
type Handler struct {
	sessions    *session.Registry
	tips        result.TipLookup
	log         *slog.Logger
	maxUpload   int64
	previewSize uint
}

// NewHandler wires the handler to a session registry.
func NewHandler(sessions *session.Registry, opts Options) *Handler {
	h := &Handler{
		sessions:    sessions,
		tips:        opts.Tips,
		log:         opts.Logger,
		maxUpload:   opts.MaxUploadBytes,
		previewSize: opts.PreviewSize,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 << 20
	}
	if h.previewSize == 0 {
		h.previewSize = defaultPreviewSize
	}
	return h
}

// Router returns the chi router with every route and middleware mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", h.Health)
	r.Get("/ws", h.Events)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Get("/catalog", h.Catalog)
		r.Post("/model/init", h.Initialize)
		r.Post("/image", h.UploadImage)
		r.Get("/image/preview", h.Preview)
		r.Post("/analyze", h.Analyze)
		r.Get("/result", h.Result)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// State returns the caller's session snapshot.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// Initialize starts the readiness probe. The call is accepted even when it
// is ignored, since the snapshot already carries the current state.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	c.Initialize()
	writeJSON(w, http.StatusAccepted, c.Snapshot())
}

// UploadImage reads the multipart "image" field and replaces the session image.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_image", "No image file provided. Use 'image' as the form field name")
		return
	}
	defer file.Close()

	// One byte past the limit is enough for the controller to reject it.
	content, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "Failed to read image")
		return
	}

	h.log.Debug("received file", "filename", header.Filename, "bytes", header.Size)

	asset, err := c.UploadImage(content)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidImage) {
			writeError(w, http.StatusBadRequest, "invalid_image", "Invalid image format. Supported: JPEG, PNG, GIF")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "Upload failed")
		return
	}
	writeJSON(w, http.StatusOK, asset.Info())
}

// Preview serves a JPEG thumbnail of the session image.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	asset, ok := c.Image()
	if !ok {
		writeError(w, http.StatusNotFound, "no_image", "No image uploaded")
		return
	}

	thumb := resize.Thumbnail(h.previewSize, h.previewSize, asset.Image(), resize.Lanczos3)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, thumb, &jpeg.Options{Quality: 85}); err != nil {
		h.log.Error("preview encode failed", "image_id", asset.ID, "error", err)
	}
}

// Analyze requests an analysis. A request that cannot start yet is not an
// error; the unchanged snapshot is returned with 200.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	_, started := c.RequestAnalysis()
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, c.Snapshot())
}

// Result returns the current prediction.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	pred, ok := c.Result()
	if !ok {
		writeError(w, http.StatusNotFound, "no_result", "No analysis result available")
		return
	}
	writeJSON(w, http.StatusOK, view(pred))
}

type catalogEntry struct {
	Name  emotion.Category `json:"name"`
	Color string           `json:"color"`
	Glyph string           `json:"glyph"`
	Tips  []string         `json:"tips"`
}

// Catalog lists the categories with their display tokens and tips.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	cats := emotion.All()
	entries := make([]catalogEntry, len(cats))
	for i, c := range cats {
		entries[i] = catalogEntry{
			Name:  c,
			Color: emotion.Color(c),
			Glyph: emotion.Glyph(c),
			Tips:  h.lookupTips(c),
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) lookupTips(c emotion.Category) []string {
	if h.tips == nil {
		return nil
	}
	return h.tips.Lookup(c)
}

// predictionView decorates a prediction with display tokens.
type predictionView struct {
	result.Prediction
	Color string `json:"color"`
	Glyph string `json:"glyph"`
}

func view(p result.Prediction) predictionView {
	return predictionView{
		Prediction: p,
		Color:      emotion.Color(p.PrimaryEmotion),
		Glyph:      emotion.Glyph(p.PrimaryEmotion),
	}
}

// controller resolves the caller's session, starting one when needed.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) *workflow.Controller {
	var id string
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		id = cookie.Value
	}

	newID, c, created := h.sessions.GetOrCreate(id)
	if created || newID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    newID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return c
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
