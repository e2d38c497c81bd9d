package server

import (
	"net/http"

	"github.com/sahapasci/pgloader/internal/load"
	"github.com/sahapasci/pgloader/internal/websocket"
)

type Server struct {
	hub     *websocket.Hub
	manager *load.Manager
}

func New(hub *websocket.Hub) *Server {
	return &Server{
		hub:     hub,
		manager: load.NewManager(hub),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/test-connection", s.handleTestConnection)
	mux.HandleFunc("/api/browse", s.handleBrowse)
	mux.HandleFunc("/api/load", s.handleLoad)
	mux.HandleFunc("/api/load/cancel", s.handleCancel)
	mux.HandleFunc("/api/load/status", s.handleStatus)
	mux.HandleFunc("/ws/progress", s.handleWS)

	return mux
}
