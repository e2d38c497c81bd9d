package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sahapasci/pgloader/internal/database"
	"github.com/sahapasci/pgloader/internal/load"
	ws "github.com/sahapasci/pgloader/internal/websocket"
)

type testConnectionRequest struct {
	Conn database.ConnInfo `json:"conn"`
}

type browseRequest struct {
	Conn    database.ConnInfo `json:"conn"`
	Schemas []string          `json:"schemas,omitempty"`
}

type schemaObjects struct {
	Schema  string   `json:"schema"`
	Tables  []string `json:"tables"`
	Views   []string `json:"views"`
	Indexes int      `json:"indexes"`
}

type browseResponse struct {
	Schemas []schemaObjects `json:"schemas"`
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	conn, err := database.Connect(ctx, req.Conn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "SELECT 1"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{"ok": true})
}

// handleBrowse previews the source catalog: its schemas, tables, views and
// index counts, fetched through the same extraction path a load run uses.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req browseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	conn, err := database.Connect(ctx, req.Conn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close(ctx)

	schemas := req.Schemas
	if len(schemas) == 0 {
		schemas, err = database.ListSchemas(ctx, conn)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	cat, err := database.FetchCatalog(ctx, conn, schemas)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out []schemaObjects
	for _, schema := range cat.Schemas {
		obj := schemaObjects{Schema: schema.Name}
		for _, t := range schema.Tables {
			obj.Tables = append(obj.Tables, t.Name)
			obj.Indexes += len(t.Indexes)
		}
		for _, v := range schema.Views {
			obj.Views = append(obj.Views, v.Name)
		}
		out = append(out, obj)
	}

	writeJSON(w, browseResponse{Schemas: out})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req load.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.manager.Start(req); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.manager.Cancel()
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.manager.Status())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	client := ws.NewClient(conn)
	s.hub.Register(client)

	go func() {
		defer func() {
			s.hub.Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
