package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"roomsync/internal/api"
	"roomsync/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(wsServer *ws.Server, files *api.FilesHandler, addr string) *APIServer {
	apiHandlers := api.New(wsServer)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", apiHandlers.HealthHandler)

	// Attachments
	mux.HandleFunc("POST /api/files", files.UploadHandler)
	mux.HandleFunc("GET /api/files/{hash}", files.DownloadHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
