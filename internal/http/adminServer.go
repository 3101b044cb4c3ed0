package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"roomsync/internal/api"
	"roomsync/internal/backend"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAdminServer exposes node inspection and moderation over db. It must only listen on
// a trusted interface.
func NewAdminServer(db backend.Backend, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(db)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/nodes", adminHandler.NodeHandler)
	mux.HandleFunc("DELETE /admin/nodes", adminHandler.DeleteNodeHandler)
	mux.HandleFunc("POST /admin/rooms", adminHandler.CreateRoomHandler)
	mux.HandleFunc("GET /admin/flagged", adminHandler.FlaggedHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
