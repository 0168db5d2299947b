// Package solvertest provides a scripted solve endpoint for tests.
package solvertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"smartanswer/internal/extract"

	"github.com/go-chi/chi/v5"
)

// Reply is what the fake returns for one request.
type Reply struct {
	Status        int
	Answer        string
	MatchedOption *string
	Confidence    float64
}

// Server records requests and answers them with Respond.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []extract.Record
	// Respond decides the reply for a request. Defaults to picking the
	// first option with confidence 0.95.
	Respond func(extract.Record) Reply
}

// New starts a fake solver exposing POST /solve and GET /health.
func New() *Server {
	s := &Server{Respond: FirstOption(0.95)}
	r := chi.NewRouter()
	r.Post("/solve", s.handleSolve)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.Server = httptest.NewServer(r)
	return s
}

// SolveURL is the endpoint to configure the client with.
func (s *Server) SolveURL() string {
	return s.URL + "/solve"
}

// Requests returns every record received so far.
func (s *Server) Requests() []extract.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]extract.Record, len(s.requests))
	copy(out, s.requests)
	return out
}

// SetResponder swaps the reply function.
func (s *Server) SetResponder(fn func(extract.Record) Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Respond = fn
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var rec extract.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, rec)
	respond := s.Respond
	s.mu.Unlock()

	reply := respond(rec)
	if reply.Status != 0 && reply.Status != http.StatusOK {
		writeJSON(w, reply.Status, map[string]string{"detail": "scripted failure"})
		return
	}
	body := map[string]interface{}{
		"answer":       reply.Answer,
		"confidence":   reply.Confidence,
		"raw_response": reply.Answer,
	}
	if reply.MatchedOption != nil {
		body["matched_option"] = *reply.MatchedOption
	}
	writeJSON(w, http.StatusOK, body)
}

// FirstOption answers every request with its first option.
func FirstOption(confidence float64) func(extract.Record) Reply {
	return func(rec extract.Record) Reply {
		if len(rec.Options) == 0 {
			return Reply{Answer: "", Confidence: 0}
		}
		opt := rec.Options[0]
		return Reply{Answer: opt, MatchedOption: &opt, Confidence: confidence}
	}
}

// Fixed answers every request with the same matched option.
func Fixed(option string, confidence float64) func(extract.Record) Reply {
	return func(extract.Record) Reply {
		opt := option
		return Reply{Answer: opt, MatchedOption: &opt, Confidence: confidence}
	}
}

// Status fails every request with code.
func Status(code int) func(extract.Record) Reply {
	return func(extract.Record) Reply {
		return Reply{Status: code}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
