// Package rendezvous implements the out-of-band HTTP bootstrap two
// fresh processes use to exchange STUN-discovered candidates before a
// session exists. It has no role once a session is established — the
// signal router's reliable-ordered control channel takes over from
// there.
package rendezvous

import (
	"encoding/json"
	"net/http"
	"sync"

	"citadel/pkg/logger"
)

// Posting is what one side of a rendezvous room publishes: its
// STUN-discovered candidate addresses and classified NAT type.
type Posting struct {
	Candidates []string `json:"candidates"`
	NATType    string   `json:"natType"`
}

// Server is a minimal in-memory bootstrap server: each room holds at
// most one posting per role ("client"/"server"), and a GET for the
// other role's posting 404s until it arrives.
type Server struct {
	mu    sync.Mutex
	rooms map[string]map[string]Posting
	log   logger.Logger
}

// NewServer builds an empty rendezvous server.
func NewServer(log logger.Logger) *Server {
	return &Server{rooms: make(map[string]map[string]Posting), log: log.WithComponent("rendezvous")}
}

// ServeHTTP implements http.Handler. POST publishes a posting for
// ?room=&role=; GET retrieves the other role's posting for the same
// room, 404ing until one has been posted.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	role := r.URL.Query().Get("role")
	if room == "" || role == "" {
		http.Error(w, "missing room or role", http.StatusBadRequest)
		return
	}

	var posting Posting
	if err := json.NewDecoder(r.Body).Decode(&posting); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, ok := s.rooms[room]; !ok {
		s.rooms[room] = make(map[string]Posting)
	}
	s.rooms[room][role] = posting
	s.mu.Unlock()

	s.log.Debug("posting recorded", logger.String("room", room), logger.String("role", role))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	role := r.URL.Query().Get("role") // the role the caller wants the peer's posting for
	if room == "" || role == "" {
		http.Error(w, "missing room or role", http.StatusBadRequest)
		return
	}
	peerRole := oppositeRole(role)

	s.mu.Lock()
	posting, ok := s.rooms[room][peerRole]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(posting)
}

func oppositeRole(role string) string {
	if role == "client" {
		return "server"
	}
	return "client"
}
