package server

import (
	"context"
	"errors"
	"group_chat/internal/model"
	"group_chat/internal/service/auth"
	"group_chat/internal/service/dispatcher"
	"group_chat/internal/service/invitation"
	"group_chat/internal/service/registry"
	"group_chat/internal/utils/log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type (
	ChatCreator interface {
		Create(ctx context.Context, chat *model.Chat) (primitive.ObjectID, error)
	}

	// HealthCheck reports whether a backing store is reachable.
	HealthCheck func(ctx context.Context) error

	Config struct {
		Addr         string
		WriteTimeout time.Duration
		ReadLimit    int64
	}

	HttpServer struct {
		cfg         Config
		registry    *registry.Registry
		dispatcher  *dispatcher.Dispatcher
		authorizer  *auth.Authorizer
		invitations *invitation.Service
		chats       ChatCreator

		checksMu sync.RWMutex
		checks   map[string]HealthCheck

		// parent of every connection worker; cancelled on shutdown
		baseCtx context.Context
		cancel  context.CancelFunc
	}
)

func NewHttpServer(cfg Config, reg *registry.Registry, d *dispatcher.Dispatcher, authorizer *auth.Authorizer, invitations *invitation.Service, chats ChatCreator) *HttpServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HttpServer{
		cfg:         cfg,
		registry:    reg,
		dispatcher:  d,
		authorizer:  authorizer,
		invitations: invitations,
		chats:       chats,
		checks:      make(map[string]HealthCheck),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// AddHealthCheck registers a named check reported by /healthz.
func (s *HttpServer) AddHealthCheck(name string, check HealthCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = check
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.Health()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authorizer.Middleware)
	api.HandleFunc("/chats", s.CreateChat()).Methods(http.MethodPost)
	api.HandleFunc("/chats/{chatId}/invitations", s.CreateInvitation()).Methods(http.MethodPost)
	api.HandleFunc("/invitations/{id}/redeem", s.RedeemInvitation()).Methods(http.MethodPost)

	return r
}

// Run serves until ctx is cancelled, then shuts down and closes every live
// connection.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.cancel()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Info("http server stopped", zap.Int("open_connections", s.registry.Count()))
	return err
}
