// Package api exposes the chat store over HTTP for the CRM frontend and for
// HTTP-based message ingestion.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wacrm/database"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ChatStore is the subset of database.ChatStore the API serves.
type ChatStore interface {
	ListChats(ctx context.Context, status database.Status) ([]database.Chat, error)
	FindChats(ctx context.Context, query string) ([]database.Chat, error)
	GetChat(ctx context.Context, chatID string) (*database.Chat, error)
	GetMessages(ctx context.Context, chatID string, limit int) ([]database.MessageView, error)
	MarkSeen(ctx context.Context, chatID string) error
	SetStatus(ctx context.Context, chatID string, status database.Status) (*database.Chat, error)
	SetFlagLead(ctx context.Context, chatID string, isLead bool) (*database.Chat, error)
	OnSendUpdateChat(ctx context.Context, chatID, text string, ts int64) error
	IngestIncoming(ctx context.Context, in database.IncomingChat, messages []database.MessageInput) (*database.Chat, bool, error)
	InitialUpsertChats(ctx context.Context, items []database.ChatSnapshot) error
	GetAnalytics(ctx context.Context, r database.AnalyticsRange) (*database.AnalyticsSummary, error)
	MonthlyBreakdown(ctx context.Context, fromKey, toKey string) ([]database.MonthlyCount, error)
}

type Server struct {
	addr   string
	store  ChatStore
	logger *zap.Logger
	router chi.Router
	server *http.Server
}

func NewServer(addr string, store ChatStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:   addr,
		store:  store,
		logger: logger.Named("API"),
	}
	s.router = s.setupRouter()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.handleListChats)
			r.Get("/search", s.handleSearchChats)
			r.Post("/import", s.handleImportChats)

			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/", s.handleGetChat)
				r.Get("/messages", s.handleGetMessages)
				r.Post("/seen", s.handleMarkSeen)
				r.Post("/status", s.handleSetStatus)
				r.Post("/lead", s.handleSetLead)
				r.Post("/outbound", s.handleOutbound)
			})
		})

		r.Post("/events/incoming", s.handleIncoming)

		r.Get("/analytics", s.handleAnalytics)
		r.Get("/analytics/monthly", s.handleMonthlyAnalytics)
	})

	return r
}

// Start listens until Shutdown is called. A graceful shutdown is not reported as an error.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
