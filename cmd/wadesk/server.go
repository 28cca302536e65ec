package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wadesk/internal/constants"
	apperrors "wadesk/internal/errors"
	"wadesk/internal/middleware"
	"wadesk/internal/models"
	"wadesk/internal/realtime"
	"wadesk/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server owns the HTTP surface: webhook ingestion, the realtime socket, and
// the agent-facing REST API.
type Server struct {
	cfg           *models.Config
	router        *service.Router
	hub           *realtime.Hub
	sends         *service.SendService
	conversations *service.ConversationService
	instances     *service.InstanceService
	logger        *logrus.Logger
	httpServer    *http.Server
}

// NewServer wires routes and middleware.
func NewServer(
	cfg *models.Config,
	router *service.Router,
	hub *realtime.Hub,
	sends *service.SendService,
	conversations *service.ConversationService,
	instances *service.InstanceService,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		cfg:           cfg,
		router:        router,
		hub:           hub,
		sends:         sends,
		conversations: conversations,
		instances:     instances,
		logger:        logger,
	}

	r := mux.NewRouter()
	r.Use(middleware.ObservabilityMiddleware(logger))

	webhook := r.PathPrefix("/webhook").Subrouter()
	webhook.Use(middleware.WebhookObservabilityMiddleware(logger))
	webhook.HandleFunc("", s.handleWebhook()).Methods(http.MethodPost)

	r.HandleFunc("/ws", realtime.ServeWS(hub, logger)).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/instances", s.handleCreateInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances", s.handleListInstances()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{id:[0-9]+}", s.handleGetInstance()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{id:[0-9]+}", s.handleDeleteInstance()).Methods(http.MethodDelete)
	api.HandleFunc("/instances/{id:[0-9]+}/connect", s.handleConnectInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id:[0-9]+}/disconnect", s.handleDisconnectInstance()).Methods(http.MethodPost)

	api.HandleFunc("/conversations", s.handleListConversations()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}", s.handleGetConversation()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}", s.handlePatchConversation()).Methods(http.MethodPatch)
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", s.handleHistory()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", s.handleSendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/messages/sync", s.handleSyncHistory()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/read", s.handleMarkRead()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/typing", s.handleTyping()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/labels", s.handleConversationLabels()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}/labels/{labelId:[0-9]+}", s.handleAssignLabel()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/labels/{labelId:[0-9]+}", s.handleRemoveLabel()).Methods(http.MethodDelete)

	api.HandleFunc("/labels", s.handleCreateLabel()).Methods(http.MethodPost)
	api.HandleFunc("/labels", s.handleListLabels()).Methods(http.MethodGet)

	api.HandleFunc("/messages/{id:[0-9]+}", s.handleDeleteMessage()).Methods(http.MethodDelete)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultIdleTimeoutSec) * time.Second,
	}
	return s
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.WithError(err).Error("Failed to encode response body")
		}
	}
}

// writeError maps an error to its HTTP status and a caller-safe message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		s.logger.WithError(err).WithField("url", r.URL.Path).Error("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": apperrors.UserMessage(err)})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, apperrors.New(apperrors.ErrCodeValidation, fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}

// handleWebhook authenticates and dispatches gateway notifications. Handler
// failures are logged but still acknowledged; returning non-2xx would make
// the gateway redeliver payloads that will fail identically.
func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := verifySignature(r, s.cfg.Server.WebhookSecret)
		if err != nil {
			s.logger.WithError(err).Warn("Webhook signature verification failed")
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		var env models.WebhookEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			s.logger.WithError(err).Warn("Undecodable webhook payload")
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}

		if err := s.router.Dispatch(r.Context(), &env); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				service.LogFieldEvent:    env.Event,
				service.LogFieldInstance: env.Instance,
			}).Error("Webhook handler failed")
		}

		s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleCreateInstance() http.HandlerFunc {
	type request struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}
		inst, err := s.instances.Create(r.Context(), req.Name, req.Token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, inst)
	}
}

func (s *Server) handleListInstances() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.instances.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) handleGetInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		inst, err := s.instances.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, inst)
	}
}

func (s *Server) handleDeleteInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.instances.Delete(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleConnectInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		inst, err := s.instances.Connect(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, inst)
	}
}

func (s *Server) handleDisconnectInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		inst, err := s.instances.Disconnect(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, inst)
	}
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.ConversationStatus(r.URL.Query().Get("status"))
		list, err := s.conversations.List(r.Context(), status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		conv, err := s.conversations.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handlePatchConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var patch models.ConversationPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}
		conv, err := s.conversations.Update(r.Context(), id, patch)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		messages, err := s.conversations.History(r.Context(), id, limit, offset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, messages)
	}
}

// handleSendMessage dispatches on the body's type field: text, media, audio.
func (s *Server) handleSendMessage() http.HandlerFunc {
	type request struct {
		Type      string `json:"type"`
		Text      string `json:"text,omitempty"`
		MediaType string `json:"mediaType,omitempty"`
		MimeType  string `json:"mimeType,omitempty"`
		Media     string `json:"media,omitempty"`
		Caption   string `json:"caption,omitempty"`
		FileName  string `json:"fileName,omitempty"`
		Audio     string `json:"audio,omitempty"`
		AgentID   *int64 `json:"agentId,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		var msg *models.Message
		switch req.Type {
		case "", "text":
			msg, err = s.sends.SendText(r.Context(), service.SendTextCommand{
				ConversationID: id,
				Text:           req.Text,
				AgentID:        req.AgentID,
			})
		case "media":
			msg, err = s.sends.SendMedia(r.Context(), service.SendMediaCommand{
				ConversationID: id,
				MediaType:      req.MediaType,
				MimeType:       req.MimeType,
				Media:          req.Media,
				Caption:        req.Caption,
				FileName:       req.FileName,
				AgentID:        req.AgentID,
			})
		case "audio":
			msg, err = s.sends.SendAudio(r.Context(), service.SendAudioCommand{
				ConversationID: id,
				Audio:          req.Audio,
				AgentID:        req.AgentID,
			})
		default:
			err = apperrors.New(apperrors.ErrCodeValidation, "unsupported message type").
				WithContext("type", req.Type)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, msg)
	}
}

// handleSyncHistory backfills stored history from the vendor for one
// conversation.
func (s *Server) handleSyncHistory() http.HandlerFunc {
	type request struct {
		Page int `json:"page"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req request
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		imported, err := s.sends.SyncHistory(r.Context(), id, req.Page)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		conv, err := s.sends.MarkConversationRead(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handleTyping() http.HandlerFunc {
	type request struct {
		DurationMs int `json:"durationMs"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req request
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if err := s.sends.SendTyping(r.Context(), id, req.DurationMs); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleConversationLabels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		labels, err := s.conversations.LabelsFor(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, labels)
	}
}

func (s *Server) handleAssignLabel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		labelID, err := pathID(r, "labelId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.conversations.AssignLabel(r.Context(), id, labelID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRemoveLabel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		labelID, err := pathID(r, "labelId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.conversations.RemoveLabel(r.Context(), id, labelID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCreateLabel() http.HandlerFunc {
	type request struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}
		label, err := s.conversations.CreateLabel(r.Context(), req.Name, req.Color)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, label)
	}
}

func (s *Server) handleListLabels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		labels, err := s.conversations.ListLabels(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, labels)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.conversations.DeleteMessage(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
