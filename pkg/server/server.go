// Package server exposes the assistant over HTTP. Every pipeline outcome of a
// turn is a 200 with a response envelope; non-200 codes are reserved for
// malformed requests and unknown conversations.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/qqmikey/datachat/pkg/interfaces"
	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/service/manifest"
	"github.com/qqmikey/datachat/pkg/usecase/assistant"
	"github.com/qqmikey/datachat/pkg/utils/logging"
)

// ownerHeader identifies the requesting user. Authentication proper sits in
// front of this service.
const ownerHeader = "X-Datachat-User"

const defaultOwner = "anonymous"

type Handler struct {
	assistant *assistant.Assistant
	repo      interfaces.Repository
	manifest  *manifest.Cache
	modelName string
}

func New(as *assistant.Assistant, repo interfaces.Repository, mf *manifest.Cache, modelName string) *Handler {
	return &Handler{
		assistant: as,
		repo:      repo,
		manifest:  mf,
		modelName: modelName,
	}
}

// Router builds the HTTP handler with middleware and all routes registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ownerHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/status", h.Status)
	r.Post("/api/schema/refresh", h.RefreshSchema)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations)
		r.Post("/", h.CreateConversation)
		r.Get("/{conversationID}", h.GetConversation)
		r.Delete("/{conversationID}", h.DeleteConversation)
		r.Post("/{conversationID}/messages", h.PostMessage)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Default().Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func owner(r *http.Request) string {
	if v := r.Header.Get(ownerHeader); v != "" {
		return v
	}
	return defaultOwner
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Default().Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model":        h.modelName,
		"entity_types": len(h.manifest.Get()),
		"server_time":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	if err := h.manifest.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "schema refresh failed")
		return
	}
	mf := h.manifest.Get()
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_types": len(mf),
		"namespaces":   mf.Namespaces(),
	})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.repo.ListConversations(r.Context(), owner(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*model.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:        model.NewConversationID(),
		Owner:     owner(r),
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if conv.Title == "" {
		conv.Title = "New chat"
	}
	if err := h.repo.SaveConversation(r.Context(), conv); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := h.repo.ListTurns(r.Context(), conv.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	if turns == nil {
		turns = []*model.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"turns":        turns,
	})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteConversation(r.Context(), conv.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	envelope, err := h.assistant.HandleTurn(r.Context(), conv.ID, conv.Owner, req.Content)
	if err != nil {
		if errors.Is(err, model.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logging.Default().Error("turn handling failed", "error", err, "conversation_id", conv.ID)
		respondError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	respondJSON(w, http.StatusOK, envelope)
}

func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	id := model.ConversationID(chi.URLParam(r, "conversationID"))
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, "conversation not found")
		} else {
			respondError(w, http.StatusInternalServerError, "failed to load conversation")
		}
		return nil, false
	}
	if conv.Owner != owner(r) {
		respondError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}
