package ws

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

type Server struct {
	connect  func() BackendConn
	upgrader *websocket.Upgrader
	active   atomic.Int64
}

// NewServer serves one backend session per socket. connect is called once per accepted
// connection.
func NewServer(connect func() BackendConn) *Server {
	return &Server{
		connect: connect,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	conn := NewConnection(ws, s.connect())
	if err := conn.Handle(r.Context()); err != nil && !isCloseError(err) {
		log.Printf("websocket connection ended: %v", err)
	}
}

func isCloseError(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}

// Connections reports the number of open sockets.
func (s *Server) Connections() int {
	return int(s.active.Load())
}
