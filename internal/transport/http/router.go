package http

import (
	"net/http"
	"time"

	httpmw "github.com/developeragencia/conselhoscursor-sub003/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	AllowedOrigins []string
	InternalToken  string
	RequestTimeout time.Duration
}

type Deps struct {
	Handler  *Handler
	Verifier httpmw.Verifier
	WS       http.HandlerFunc
}

func NewRouter(cfg RouterConfig, d Deps) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(httpmw.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	// WS endpoint: без обёрток ResponseWriter, иначе не будет Hijack
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	r.Group(func(api chi.Router) {
		api.Use(httpmw.Logging)
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{httpmw.HeaderRequestID},
			MaxAge:         300,
		}))
		api.Use(middlewareChi.Timeout(cfg.RequestTimeout))

		api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, envelope{"status": "ok"})
		})
		api.Get("/relay/stats", d.Handler.Stats)

		api.Route("/consultations/{id}", func(cr chi.Router) {
			cr.Use(httpmw.Auth(d.Verifier))
			cr.Get("/messages", d.Handler.History)
			cr.Get("/presence", d.Handler.Presence)
		})

		api.Route("/internal", func(ir chi.Router) {
			ir.Use(httpmw.InternalToken(cfg.InternalToken))
			ir.Post("/notify", d.Handler.Notify)
			ir.Post("/broadcast", d.Handler.Broadcast)
		})
	})

	return r
}
