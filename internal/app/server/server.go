package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/andrewmcl6081/cloudchat/internal/app/registry"
	"github.com/andrewmcl6081/cloudchat/internal/app/rooms"
	"github.com/andrewmcl6081/cloudchat/internal/app/server/handlers"
	"github.com/andrewmcl6081/cloudchat/internal/app/server/ws"
	"github.com/andrewmcl6081/cloudchat/internal/core/services"
	"github.com/andrewmcl6081/cloudchat/pkg/middleware"
)

type Server struct {
	mux         *http.ServeMux
	addr        string
	log         *slog.Logger
	authHandler *handlers.AuthHandler
	apiHandler  *handlers.APIHandler
	wsHandler   *handlers.WSHandler
	tokenSvc    *services.TokenService
}

func NewServer(
	addr string,
	log *slog.Logger,
	directorySvc *services.DirectoryService,
	messageSvc *services.MessageService,
	tokenSvc *services.TokenService,
	hub *registry.Registry,
	roomMgr *rooms.Manager,
	wsOpts ws.Options,
) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		addr:        addr,
		log:         log,
		authHandler: handlers.NewAuthHandler(directorySvc, tokenSvc),
		apiHandler:  handlers.NewAPIHandler(directorySvc, messageSvc),
		wsHandler:   handlers.NewWSHandler(hub, roomMgr, wsOpts),
		tokenSvc:    tokenSvc,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	// 1. Initialize Middleware
	logged := middleware.RequestLogger(s.log)
	traced := middleware.TracerMiddleware("cloudchat-backend")
	auth := middleware.AuthMiddleware(s.tokenSvc)

	public := func(h http.HandlerFunc) http.Handler {
		return logged(traced(h))
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return logged(traced(auth(h)))
	}

	// 2. Public Routes
	s.mux.Handle("POST /auth/sync", public(s.authHandler.Sync))

	// 3. Protected Routes
	// The Auth middleware extracts the 'sub' (user id) from the JWT and
	// puts it in Context; the websocket handler also honors ?token=.
	s.mux.Handle("/ws", protected(s.wsHandler.Handler))
	s.mux.Handle("GET /api/users", protected(s.apiHandler.SearchUsers))
	s.mux.Handle("POST /api/conversations", protected(s.apiHandler.EnsureConversation))
	s.mux.Handle("POST /api/messages", protected(s.apiHandler.CreateMessage))
	s.mux.Handle("GET /api/messages", protected(s.apiHandler.GetMessages))
}

func (s *Server) Start() error {
	server := &http.Server{
		Addr:        s.addr,
		Handler:     s.mux,
		ReadTimeout: 15 * time.Second,
		// No server-wide write timeout: /ws connections are long-lived
		// and manage their own per-message deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("server - start - listening", "addr", s.addr)
	return server.ListenAndServe()
}
