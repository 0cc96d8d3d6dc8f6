// Package uiserver implements the UI Emitter Surface (spec.md §4.8): the
// HTTP command endpoints the desktop UI issues application lifecycle
// commands through, and a WebSocket endpoint pushing a full
// applications+tasks snapshot once per second.
//
// Grounded on the teacher's router package (vanilla net/http 1.22+ mux,
// writeJSON/writeError helpers, one handler func per endpoint) and on the
// teacher's use of gorilla/websocket, here reused in the opposite role: the
// teacher dials out as a client, this package accepts UI connections as a
// server.
package uiserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wyliodrin/async-tracing-monitor/internal/connmgr"
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
	"github.com/wyliodrin/async-tracing-monitor/internal/orchestrator"
)

// taskView is the emitted shape of a task: the stored record plus its
// computed read-time fields (spec.md §4.5 "Derived read-time
// computations"), flattened into one object so the UI never has to compute
// runtime/busy/scheduled/idle itself.
type taskView struct {
	*domain.Task
	domain.Derived
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP+WebSocket handler for the UI surface.
type Server struct {
	orch *orchestrator.Orchestrator

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New builds the UI surface's http.Handler, wired to orch. Callers should
// also register the returned Server's Broadcast method as orch's snapshot
// sink via orch.SetSnapshotSink.
func New(orch *orchestrator.Orchestrator) (http.Handler, *Server) {
	s := &Server{orch: orch, clients: make(map[*websocket.Conn]struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/applications", s.createApplication)
	mux.HandleFunc("GET /api/applications", s.listApplications)
	mux.HandleFunc("DELETE /api/applications/{id}", s.deleteApplication)
	mux.HandleFunc("POST /api/applications/{id}/disable", s.disableApplication)
	mux.HandleFunc("POST /api/applications/{id}/enable", s.enableApplication)
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("GET /api/applications/{id}/events", s.applicationEvents)
	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /ws", s.serveWS)

	return mux, s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	id, err := s.orch.AddApplication(r.Context(), body.Title, body.URL)
	if err != nil {
		if errors.Is(err, connmgr.ErrAlreadyConnected) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ApplicationsSnapshot())
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.TasksSnapshot())
}

func (s *Server) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	s.orch.DeleteApplication(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disableApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	s.orch.DisableApplication(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enableApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	if err := s.orch.EnableApplication(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applicationEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	events, err := s.orch.ConnectionHistory(r.Context(), id, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveWS upgrades the connection and registers it to receive
// once-per-second snapshot broadcasts until it disconnects.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("uiserver: websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Push an immediate snapshot on connect so the UI is not left blank
	// until the next tick.
	s.sendSnapshot(conn, orchestrator.Snapshot{
		Applications: s.orch.ApplicationsSnapshot(),
		Tasks:        s.orch.TasksSnapshot(),
	})

	// Drain reads (the UI never sends anything meaningful over this
	// connection) purely to detect disconnects.
	go func() {
		defer s.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Broadcast is registered as the Orchestrator's snapshot sink; it is
// called once per second from the Orchestrator's own tick.
func (s *Server) Broadcast(snap orchestrator.Snapshot) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	for _, c := range conns {
		s.sendSnapshot(c, snap)
	}
}

type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// sendSnapshot publishes the two named UI events (update:applications,
// update:tasks), each carrying an array of records, matching the
// emission contract verbatim rather than one combined envelope.
func (s *Server) sendSnapshot(conn *websocket.Conn, snap orchestrator.Snapshot) {
	apps := make([]*domain.Application, 0, len(snap.Applications))
	for _, app := range snap.Applications {
		apps = append(apps, app)
	}
	now := time.Now()
	tasks := make([]taskView, 0, len(snap.Tasks))
	for _, task := range snap.Tasks {
		tasks = append(tasks, taskView{Task: task, Derived: task.DeriveAt(now)})
	}

	if err := conn.WriteJSON(wsEvent{Event: "update:applications", Data: apps}); err != nil {
		log.Printf("uiserver: websocket write failed, dropping client: %v", err)
		s.removeClient(conn)
		return
	}
	if err := conn.WriteJSON(wsEvent{Event: "update:tasks", Data: tasks}); err != nil {
		log.Printf("uiserver: websocket write failed, dropping client: %v", err)
		s.removeClient(conn)
	}
}
