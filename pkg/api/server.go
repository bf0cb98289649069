package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/bomex/params"
	"github.com/uhyunpark/bomex/pkg/app/exchange"
)

const (
	queryTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Exchange is the part of the exchange loop the API talks to.
type Exchange interface {
	Submit(req exchange.Request) error
	Call(ctx context.Context, req exchange.Request) (exchange.Event, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    Exchange
	hub    *Hub
	router *mux.Router
	cfg    params.Config
	log    *zap.SugaredLogger
}

// NewServer creates a new API server. hub must be the Broadcaster the
// exchange was built with.
func NewServer(app Exchange, hub *Hub, cfg params.Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		app:    app,
		hub:    hub,
		router: mux.NewRouter(),
		cfg:    cfg,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/instrument", s.handleGetInstrument).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/pnls", s.handleGetPnls).Methods("GET")

	// WebSocket endpoint. The root path is kept for clients that dial the
	// bare host:port.
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/", s.handleWebSocket)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.API.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.API.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", s.cfg.API.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) query(w http.ResponseWriter, r *http.Request, kind exchange.RequestKind) (exchange.Event, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	ev, err := s.app.Call(ctx, exchange.Request{Kind: kind})
	switch {
	case errors.Is(err, exchange.ErrBusy):
		respondError(w, http.StatusServiceUnavailable, "exchange busy", err.Error())
		return ev, false
	case err != nil:
		respondError(w, http.StatusGatewayTimeout, "exchange did not respond", err.Error())
		return ev, false
	case ev.Type == exchange.EventError:
		respondError(w, http.StatusInternalServerError, "request failed", ev.Data.(exchange.ErrorInfo).Message)
		return ev, false
	}
	return ev, true
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	if ev, ok := s.query(w, r, exchange.KindGetInstrument); ok {
		respondJSON(w, ev.Data)
	}
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	if ev, ok := s.query(w, r, exchange.KindGetBook); ok {
		respondJSON(w, ev.Data)
	}
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if ev, ok := s.query(w, r, exchange.KindGetTrades); ok {
		respondJSON(w, ev.Trades)
	}
}

func (s *Server) handleGetPnls(w http.ResponseWriter, r *http.Request) {
	if ev, ok := s.query(w, r, exchange.KindGetPnls); ok {
		respondJSON(w, ev.Pnls)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{Status: "ok", Clients: s.hub.Len()})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
