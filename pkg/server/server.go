// Package server exposes the flow card states over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/levenlabs/go-lflag"

	"github.com/wattflow/wattflow/pkg/common"
	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/storage"
	"github.com/wattflow/wattflow/pkg/types"
)

type contextKey string

const (
	emailContextKey contextKey = "email"
)

// tokenVerifier validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// StatesProvider builds the current snapshot. *engine.Engine implements it.
type StatesProvider interface {
	States() (types.States, error)
	Modes() map[string]types.SensorMode
	Config() types.Config
}

// Server handles the HTTP API of the card.
type Server struct {
	states  StatesProvider
	storage storage.Database
	cardID  string

	listenAddr string
	httpServer *http.Server
	serverName string

	corsOrigins   []string
	oidcVerifiers map[string]tokenVerifier
	allowedEmails []string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(p StatesProvider, s storage.Database) *Server {
	srv := &Server{
		states:     p,
		storage:    s,
		serverName: "wattflow",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	cardID := lflag.String("card-id", "default", "ID the card's snapshots are stored under")
	corsOrigins := lflag.String("cors-origins", "", "comma-delimited list of origins allowed to call the API (e.g. http://homeassistant.local:8123)")
	oidcIssuer := lflag.String("oidc-issuer", "", "OIDC issuer URL used to validate bearer tokens")
	oidcAudience := lflag.String("oidc-audience", "", "audience (client ID) bearer tokens must be issued for")
	allowedEmails := lflag.String("allowed-emails", "", "comma-delimited list of email addresses allowed to call the API")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.cardID = *cardID
		srv.corsOrigins = splitList(*corsOrigins)
		srv.allowedEmails = splitList(*allowedEmails)

		if *oidcIssuer != "" {
			if *oidcAudience == "" {
				log.Ctx(context.Background()).Error("oidc-audience is required with oidc-issuer")
				os.Exit(1)
			}
			ctx := oidc.ClientContext(context.Background(), common.HTTPClient(10*time.Second))
			provider, err := oidc.NewProvider(ctx, *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				*oidcIssuer: provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify,
			}
		}
	})

	return srv
}

// SetStatesProvider sets where states come from. The engine can only be
// built once flags are parsed, after Configured.
func (s *Server) SetStatesProvider(p StatesProvider) {
	s.states = p
}

// CardID is the id snapshots are stored under.
func (s *Server) CardID() string {
	return s.cardID
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/states", s.handleStates)
	apiMux.HandleFunc("GET /api/nodes", s.handleNodes)
	apiMux.HandleFunc("GET /api/modes", s.handleModes)
	apiMux.HandleFunc("GET /api/cards", s.handleCards)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)

	var h http.Handler = s.securityHeadersMiddleware(mux)
	if len(s.corsOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.corsOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	}
	return s.requestIDMiddleware(s.revisionMiddleware(gziphandler.GzipHandler(h)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := log.WithAttrs(r.Context(), slog.String("requestID", id), slog.String("reqPath", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
