package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"
)

const (
	metadataHeader      = "Metadata-Flavor"
	metadataHeaderValue = "Google"

	// InstanceIDPath is probed to detect a confidential VM.
	InstanceIDPath = "/computeMetadata/v1/instance/id"
)

// TokenPaths are the attestation-token endpoints, in fallback order.
var TokenPaths = []string{
	"/computeMetadata/v1/instance/attestation-token",
	"/computeMetadata/v1/instance/confidential-vm/attestation-token",
	"/computeMetadata/v1/instance/confidential_computing/attestation",
}

type ServerConfig struct {
	ListenAddr string
	Log        *slog.Logger
	InstanceID string
	// DisabledPaths answer 404 so clients fall through to the next URL.
	DisabledPaths []string

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg      *ServerConfig
	isReady  atomic.Bool
	log      *slog.Logger
	minter   *Minter
	disabled map[string]bool
	issued   atomic.Int64

	srv *http.Server
}

func New(cfg *ServerConfig, minter *Minter) *Server {
	srv := &Server{
		cfg:      cfg,
		log:      cfg.Log,
		minter:   minter,
		disabled: make(map[string]bool, len(cfg.DisabledPaths)),
	}
	for _, p := range cfg.DisabledPaths {
		srv.disabled[p] = true
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

// Router returns the HTTP handler of the emulator.
func (srv *Server) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger, srv.requireMetadataFlavor)
		r.Get(InstanceIDPath, srv.handleInstanceID)
		for _, path := range TokenPaths {
			r.Get(path, srv.handleToken)
		}
	})

	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)
	return mux
}

// Issued returns the number of tokens minted so far.
func (srv *Server) Issued() int64 {
	return srv.issued.Load()
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) requireMetadataFlavor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(metadataHeader) != metadataHeaderValue {
			http.Error(w, "Missing Metadata-Flavor:Google header.", http.StatusForbidden)
			return
		}
		w.Header().Set(metadataHeader, metadataHeaderValue)
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) handleInstanceID(w http.ResponseWriter, r *http.Request) {
	id := srv.cfg.InstanceID
	if id == "" {
		id = "0"
	}
	w.Header().Set("Content-Type", "application/text")
	w.Write([]byte(id))
}

func (srv *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if srv.disabled[r.URL.Path] {
		http.NotFound(w, r)
		return
	}

	audience := strings.TrimSpace(r.URL.Query().Get("audience"))
	if audience == "" {
		http.Error(w, "audience is required", http.StatusBadRequest)
		return
	}

	token, err := srv.minter.Mint(audience, r.URL.Query().Get("nonce"))
	if err != nil {
		srv.log.Warn("Failed to mint attestation token", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	srv.issued.Inc()
	w.Header().Set("Content-Type", "application/text")
	w.Write([]byte(token))
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Load() {
		writeStatus(w, http.StatusOK, "ready")
	} else {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
	}
}

// handleDrain stops advertising readiness so a load balancer can move
// clients to another emulator before shutdown.
func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	srv.log.Info("Metadata emulator draining", slog.Duration("drainDuration", srv.cfg.DrainDuration))
	writeStatus(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	srv.log.Info("Metadata emulator ready again")
	writeStatus(w, http.StatusOK, "ready")
}

// Drain marks the server not ready and waits out the drain period, unless a
// drain is already in progress.
func (srv *Server) Drain() {
	if !srv.isReady.Swap(false) {
		return
	}
	srv.log.Info("Draining before shutdown", slog.Duration("drainDuration", srv.cfg.DrainDuration))
	time.Sleep(srv.cfg.DrainDuration)
}

func (srv *Server) RunInBackground() {
	go func() {
		srv.log.Info("Starting metadata emulator", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}
}
