package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/iTrooz/offline-cache-proxy/internal/clients"
	"github.com/sirupsen/logrus"
)

// APIPrefix is the path of the control API, served for requests addressed
// to the proxy itself
const APIPrefix = "/_offline"

const maxBodySize = 1 << 20

func (s *Server) api() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/messages", s.handleMessage)
		r.Post("/clients", s.handleOpenClient)
		r.Delete("/clients/{id}", s.handleCloseClient)
		r.Get("/clients/{id}/messages", s.handleClientMessages)
		r.Post("/push", s.handlePush)
		r.Post("/notifications/click", s.handleNotificationClick)
		r.Post("/sync", s.handleSync)
		r.Get("/status", s.handleStatus)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil || body.Version == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected {\"version\": \"...\"}"})
		return
	}

	if err := s.worker.OnInstall(r.Context(), body.Version); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.handleStatus(w, r)
}

// handleMessage accepts any body: malformed control messages are ignored
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.worker.OnMessage(r.Context(), raw)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOpenClient(w http.ResponseWriter, r *http.Request) {
	client := s.worker.OpenClient()
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":         client.ID,
		"controller": client.Controller(),
	})
}

func (s *Server) handleCloseClient(w http.ResponseWriter, r *http.Request) {
	if !s.worker.CloseClient(r.Context(), chi.URLParam(r, "id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClientMessages(w http.ResponseWriter, r *http.Request) {
	client, ok := s.worker.Registry().Get(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	messages := client.Drain()
	if messages == nil {
		messages = []clients.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.worker.OnPush(r.Context(), payload); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.worker.OnNotificationClick(r.Context(), body.Action); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.worker.OnSync(r.Context(), body.Tag); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.worker.Controller().Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
