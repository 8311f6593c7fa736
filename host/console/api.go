package console

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vdblink/protocol"
)

// APIResponse is the envelope of every JSON reply
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResponseRequest is the body of POST /channels/{id}/request. Fields maps
// dotted field paths to values; unnamed fields are sent as absent.
type ResponseRequest struct {
	Fields map[string]string `json:"fields"`
}

// NewRouter returns the HTTP API for a session
func NewRouter(s *Session) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	r.Route("/channels", func(r chi.Router) {
		r.Get("/", s.handleListChannels)
		r.Get("/{id}", s.handleGetChannel)
		r.Post("/{id}/request", s.handleQueueResponse)
	})

	return r
}

func (s *Session) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, map[string]any{
		"status":    "ok",
		"version":   protocol.Version,
		"channels":  len(s.responder.Channels()),
		"pending":   s.responder.PendingResponses(),
		"bad":       s.responder.NumBad(),
		"small":     s.responder.NumSmall(),
		"recording": s.recording,
	})
}

func (s *Session) handleListChannels(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, s.Channels())
}

func (s *Session) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := channelParam(w, r)
	if !ok {
		return
	}
	view, ok := s.Channel(id)
	if !ok {
		sendError(w, "unknown channel", http.StatusNotFound)
		return
	}
	sendSuccess(w, view)
}

func (s *Session) handleQueueResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := channelParam(w, r)
	if !ok {
		return
	}
	if _, ok := s.responder.Channel(id); !ok {
		sendError(w, "unknown channel", http.StatusNotFound)
		return
	}

	var req ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.QueueResponse(id, req.Fields); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sendSuccess(w, map[string]any{"queued": s.responder.PendingResponses()})
}

func channelParam(w http.ResponseWriter, r *http.Request) (protocol.ChannelID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		sendError(w, "channel id must be 0-255", http.StatusBadRequest)
		return 0, false
	}
	return protocol.ChannelID(id), true
}

func sendSuccess(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}
