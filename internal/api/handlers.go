package api

import (
	"net/http"
	"time"
)

// ConnectionCounter is implemented by the websocket server.
type ConnectionCounter interface {
	Connections() int
}

type API struct {
	conns   ConnectionCounter
	started time.Time
}

func New(conns ConnectionCounter) *API {
	return &API{conns: conns, started: time.Now()}
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: a.conns.Connections(),
		Uptime:      time.Since(a.started).Round(time.Second).String(),
	})
}
