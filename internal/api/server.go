package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"classlobby/internal/relay"
	"classlobby/internal/roster"
	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// Server is the read-only HTTP surface next to the WebSocket endpoint. It
// exposes health and per-room roster/history lookups; all mutation goes
// through the lobby socket.
type Server struct {
	chatLog      interfaces.ChatLog
	registry     *roster.Registry
	relay        *relay.Relay
	historyLimit int
	router       *http.ServeMux
}

// NewServer wires the HTTP surface over the shared registry, relay and chat
// log. historyLimit caps /history responses the same way joins are capped.
func NewServer(chatLog interfaces.ChatLog, registry *roster.Registry, chatRelay *relay.Relay, historyLimit int) *Server {
	s := &Server{
		chatLog:      chatLog,
		registry:     registry,
		relay:        chatRelay,
		historyLimit: historyLimit,
		router:       http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleRooms dispatches /api/rooms/{room}/members and
// /api/rooms/{room}/history.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		s.sendError(w, "Expected /api/rooms/{room}/members or /api/rooms/{room}/history", http.StatusNotFound)
		return
	}

	room := parts[0]
	if !types.IsValidRoomID(room) {
		s.sendError(w, "Invalid room id", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "members":
		s.getMembers(w, room)
	case "history":
		s.getHistory(w, r, room)
	default:
		s.sendError(w, "Unknown room resource", http.StatusNotFound)
	}
}

type MembersResponse struct {
	Room    string                 `json:"room"`
	Members []types.UserDescriptor `json:"members"`
}

type HistoryResponse struct {
	Room     string               `json:"room"`
	Messages []*types.ChatMessage `json:"messages"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	ChatLog   string            `json:"chat_log"`
	Rooms     map[string]int    `json:"rooms"`
	Relay     map[string]uint64 `json:"relay"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// getMembers returns the room's current roster, in join order. An unknown
// room is just an empty roster, not an error: lobbies come and go with their
// connections.
func (s *Server) getMembers(w http.ResponseWriter, room string) {
	members := s.registry.Members(room)
	if members == nil {
		members = []types.UserDescriptor{}
	}

	json.NewEncoder(w).Encode(MembersResponse{Room: room, Members: members})
}

// getHistory returns the persisted tail of the room's chat, oldest first.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request, room string) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	messages, err := s.chatLog.RoomHistory(ctx, room, s.historyLimit)
	if err != nil {
		s.sendError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}

	json.NewEncoder(w).Encode(HistoryResponse{Room: room, Messages: messages})
}

// healthCheck reports overall status plus registry and relay statistics.
// Returns 503 when the chat log is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	chatLogStatus := "healthy"

	if err := s.chatLog.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		chatLogStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		ChatLog:   chatLogStatus,
		Rooms:     s.registry.Stats(),
		Relay:     s.relay.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows browser clients from any origin. The lobby is served
// to classroom devices on whatever host the school network hands out.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
