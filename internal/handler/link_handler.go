package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkodi/snaplink/internal/errors"
	"github.com/darkodi/snaplink/internal/logger"
	"github.com/darkodi/snaplink/internal/middleware"
	"github.com/darkodi/snaplink/internal/model"
	"github.com/darkodi/snaplink/internal/service"
	"github.com/darkodi/snaplink/internal/web"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LinkHandler serves the JSON API and the HTML pages
type LinkHandler struct {
	service *service.LinkService
	pages   *web.Renderer
	baseURL string
	log     *logger.Logger
}

// NewLinkHandler creates a new handler instance
func NewLinkHandler(svc *service.LinkService, pages *web.Renderer, baseURL string, log *logger.Logger) *LinkHandler {
	return &LinkHandler{
		service: svc,
		pages:   pages,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

// ============ API HANDLERS ============

// HandleCreate shortens a URL for a device, reusing an earlier link for the same pair
// POST /api/urls
func (h *LinkHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req model.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// a wrongly typed field leaves it empty and fails validation below
		var typeErr *json.UnmarshalTypeError
		if !stderrors.As(err, &typeErr) {
			errors.InvalidJSON(err.Error()).WriteJSON(w)
			return
		}
	}

	if appErr := validateCreate(req); appErr != nil {
		appErr.WriteJSON(w)
		return
	}

	link, created, err := h.service.Create(r.Context(), req.OriginalURL, req.MachineID)
	if err != nil {
		switch {
		case stderrors.Is(err, service.ErrInvalidURL):
			errors.InvalidURL().WriteJSON(w)
		case stderrors.Is(err, service.ErrMachineIDRequired):
			errors.MachineIDRequired().WriteJSON(w)
		default:
			h.internalError(w, r, "create link", err)
		}
		return
	}

	if !created {
		h.requestLog(r).Debug("existing link returned", "short_id", link.ShortID)
	}
	writeJSON(w, http.StatusOK, model.LinkResponse{URL: link})
}

// HandleList returns the device's links, newest first
// GET /api/urls?machineId=...
func (h *LinkHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	links, err := h.service.ListByMachine(r.Context(), r.URL.Query().Get("machineId"))
	if err != nil {
		if stderrors.Is(err, service.ErrMachineIDRequired) {
			errors.MachineIDRequired().WriteJSON(w)
			return
		}
		h.internalError(w, r, "list links", err)
		return
	}

	writeJSON(w, http.StatusOK, model.NewLinkListResponse(links))
}

// HandleGet returns one link without counting a visit
// GET /api/urls/{shortId}
func (h *LinkHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.Get(r.Context(), chi.URLParam(r, "shortId"))
	if err != nil {
		if stderrors.Is(err, service.ErrURLNotFound) {
			errors.NotFound().WriteJSON(w)
			return
		}
		h.internalError(w, r, "get link", err)
		return
	}

	writeJSON(w, http.StatusOK, model.LinkResponse{URL: link})
}

// ============ PAGE HANDLERS ============

// HandleRedirect counts a visit and sends the browser on
// GET /{shortId}
func (h *LinkHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.Visit(r.Context(), chi.URLParam(r, "shortId"))
	if err != nil {
		if stderrors.Is(err, service.ErrURLNotFound) {
			h.renderNotFound(w, r)
			return
		}
		h.requestLog(r).Error("record visit failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	// stored URLs are passed through untouched, so no http.Redirect path cleaning
	w.Header().Set("Location", link.OriginalURL)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
}

// HandleStats renders the stats page
// GET /stats/{shortId}
func (h *LinkHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), chi.URLParam(r, "shortId"))
	if err != nil {
		if stderrors.Is(err, service.ErrURLNotFound) {
			h.renderNotFound(w, r)
			return
		}
		h.requestLog(r).Error("load stats failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := h.pages.Stats(w, stats); err != nil {
		h.requestLog(r).Error("render stats failed", "error", err)
	}
}

// HandleHome renders the landing page
// GET /
func (h *LinkHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	if err := h.pages.Home(w, web.HomePage{BaseURL: h.baseURL}); err != nil {
		h.requestLog(r).Error("render home failed", "error", err)
	}
}

// HandleHealth reports whether the link store answers
// GET /health
func (h *LinkHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.requestLog(r).Warn("health check failed", "error", err)
		errors.Unavailable("").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleNotFound answers unmatched routes: JSON under /api, HTML elsewhere
func (h *LinkHandler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		errors.NotFound().WriteJSON(w)
		return
	}
	h.renderNotFound(w, r)
}

// ============ ROUTER SETUP ============

// Routes builds the router. Middlewares given here run inside chi, after
// the route is matched.
func (h *LinkHandler) Routes(middlewares ...middleware.Middleware) http.Handler {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.NotFound(h.handleNotFound)

	r.Get("/", h.HandleHome)
	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", web.Static())

	r.Route("/api/urls", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{shortId}", h.HandleGet)
	})

	r.Get("/stats/{shortId}", h.HandleStats)
	r.Get("/{shortId}", h.HandleRedirect)

	return r
}

// ============ HELPERS ============

// validateCreate mirrors the API's error contract: the URL is checked before the device
func validateCreate(req model.CreateLinkRequest) *errors.AppError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.BadRequest(err.Error())
	}
	for _, fe := range verrs {
		if fe.Field() == "originalUrl" {
			return errors.InvalidURL()
		}
	}
	return errors.MachineIDRequired()
}

func (h *LinkHandler) renderNotFound(w http.ResponseWriter, r *http.Request) {
	if err := h.pages.NotFound(w); err != nil {
		h.requestLog(r).Error("render not found failed", "error", err)
	}
}

func (h *LinkHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.requestLog(r).Error(op+" failed", "error", err)
	errors.Internal("").WriteJSON(w)
}

func (h *LinkHandler) requestLog(r *http.Request) *slog.Logger {
	return h.log.WithRequestID(middleware.GetRequestID(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
