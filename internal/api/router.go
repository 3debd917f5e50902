package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kataras/figma-slides/internal/session"
	"github.com/kataras/figma-slides/internal/slides"
	"github.com/kataras/figma-slides/internal/sse"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// DefaultSignedURLTTL is used when Options.SignedURLTTL is zero.
const DefaultSignedURLTTL = 15 * time.Minute

// Options configures the router.
type Options struct {
	// AuthEnabled controls whether Bearer token auth is enforced on /api.
	AuthEnabled    bool
	AuthToken      string
	AllowedOrigins []string
	SignedURLTTL   time.Duration
	Logger         syncer.Logger
}

// NewRouter creates a chi router with the health, metrics and API routes mounted.
func NewRouter(svc *slides.Service, sessions *session.Manager, events *sse.Broker, opts Options) chi.Router {
	h := &Handler{
		svc:          svc,
		sessions:     sessions,
		events:       events,
		signedURLTTL: opts.SignedURLTTL,
		logger:       opts.Logger,
	}
	if h.signedURLTTL <= 0 {
		h.signedURLTTL = DefaultSignedURLTTL
	}
	if h.logger == nil {
		h.logger = syncer.NopLogger{}
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(opts.AuthEnabled, opts.AuthToken))

		r.Route("/figma", func(r chi.Router) {
			r.Get("/file-key", h.FileKey)
			r.Post("/import", h.Import)
			r.Route("/files/{fileKey}", func(r chi.Router) {
				r.Post("/sync", h.SyncFile)
				r.Post("/check", h.CheckFile)
				r.Get("/new", h.NewFrames)
				r.Get("/status", h.FileStatus)
				r.Get("/report", h.Report)
			})
		})

		r.Route("/slides", func(r chi.Router) {
			r.Get("/", h.ListSlides)
			r.Post("/", h.UploadSlide)
			r.Get("/{id}", h.GetSlide)
			r.Delete("/{id}", h.DeleteSlide)
			r.Get("/{id}/image", h.SlideImage)
			r.Post("/{id}/sync", h.SyncSlide)
		})

		// SSE endpoint (protected by the same auth middleware).
		r.Get("/events", events.ServeHTTP)
	})

	return r
}
