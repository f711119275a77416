// Package server exposes consultations over WebSocket and the photo,
// translation, preference and archive APIs over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/GramHealth/config"
	"github.com/room4-2/GramHealth/gemini"
	"github.com/room4-2/GramHealth/messages"
	"github.com/room4-2/GramHealth/session"
	"github.com/room4-2/GramHealth/store"
)

// PhotoAnalyzer is the photo boundary; *gemini.PhotoAnalyzer implements it.
type PhotoAnalyzer interface {
	Analyze(ctx context.Context, req gemini.PhotoRequest) (*gemini.PhotoAnalysis, error)
}

// Translator is the translation boundary; *gemini.Translator implements it.
type Translator interface {
	Translate(ctx context.Context, req gemini.TranslateRequest) ([]string, error)
}

// Preferences stores a client's language.
type Preferences interface {
	Language(ctx context.Context, clientID string) (string, error)
	SetLanguage(ctx context.Context, clientID, language string) error
}

// Archive reads finished consultations.
type Archive interface {
	List(ctx context.Context, limit int) ([]store.ConsultationRecord, error)
	Turns(ctx context.Context, consultationID string) ([]store.TurnRecord, error)
}

// Options carries the optional collaborators. Nil fields disable the
// matching endpoint, except Translator which falls back to echoing texts.
type Options struct {
	Photo       PhotoAnalyzer
	Translator  Translator
	Preferences Preferences
	Archive     Archive
}

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	opts           Options
	logger         zerolog.Logger
}

func New(cfg *config.Config, sessionManager *session.Manager, opts Options) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		opts:           opts,
		logger:         log.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4 * 1024,
			WriteBufferSize:   4 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/analyze-photo", s.handleAnalyzePhoto)
	mux.HandleFunc("POST /api/translate", s.handleTranslate)
	mux.HandleFunc("GET /api/preferences/language", s.handleGetLanguage)
	mux.HandleFunc("PUT /api/preferences/language", s.handleSetLanguage)
	mux.HandleFunc("GET /api/consultations", s.handleListConsultations)
	mux.HandleFunc("GET /api/consultations/{id}/turns", s.handleConsultationTurns)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.cors(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Int("port", s.config.Port).Msg("server starting")
	s.logger.Info().Msgf("websocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes every session and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")
	s.sessionManager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(s.config.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to create session")
		errMsg := messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error())
		_ = conn.WriteJSON(errMsg)
		_ = conn.Close()
		return
	}

	logger := s.logger.With().Str("client_id", clientSession.ID).Logger()
	logger.Info().Msg("session created")

	clientSession.Start()
	<-clientSession.CloseChan

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.sessionManager.RemoveSession(ctx, clientSession.ID); err != nil {
		logger.Debug().Err(err).Msg("failed to remove session")
	}
	logger.Info().Msg("session closed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
		"offline":  s.config.OfflineMode,
	})
}
