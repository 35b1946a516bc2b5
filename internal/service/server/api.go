package server

import (
	"encoding/json"
	"errors"
	"group_chat/internal/model"
	"group_chat/internal/service/auth"
	"group_chat/internal/service/invitation"
	"group_chat/internal/utils/log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type (
	createChatRequest struct {
		Name string `json:"name"`
	}

	chatResponse struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}

	createInvitationRequest struct {
		JoinKey     []byte `json:"joinKey"`
		TTLMs       int64  `json:"ttlMs"`
		KeyMaterial []byte `json:"keyMaterial,omitempty"`
	}

	invitationResponse struct {
		ID        string `json:"id"`
		ChatID    string `json:"chatId"`
		CreatedAt int64  `json:"createdAt"`
		TTLMs     int64  `json:"ttlMs"`
	}

	redeemInvitationRequest struct {
		JoinKey []byte `json:"joinKey"`
	}

	redeemInvitationResponse struct {
		ChatID      string `json:"chatId"`
		KeyMaterial []byte `json:"keyMaterial,omitempty"`
	}
)

func (s *HttpServer) CreateChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())

		var req createChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			http.Error(w, "name cannot be empty", http.StatusBadRequest)
			return
		}

		chat := &model.Chat{
			Name:    req.Name,
			Members: []primitive.ObjectID{user.ID},
		}
		if _, err := s.chats.Create(r.Context(), chat); err != nil {
			log.Error("create chat failed", zap.Error(err))
			http.Error(w, "create chat failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, chatResponse{
			ID:      chat.ID.Hex(),
			Name:    chat.Name,
			Members: []string{user.ID.Hex()},
		})
	}
}

func (s *HttpServer) CreateInvitation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		chatID := mux.Vars(r)["chatId"]

		var req createInvitationRequest
		if !decodeBody(w, r, &req) {
			return
		}

		ttl := time.Duration(req.TTLMs) * time.Millisecond
		inv, err := s.invitations.Create(r.Context(), user.ID.Hex(), req.JoinKey, chatID, ttl, req.KeyMaterial)
		switch {
		case err == nil:
		case errors.Is(err, invitation.ErrNotMember):
			http.Error(w, "not a member of the chat", http.StatusForbidden)
			return
		case errors.Is(err, invitation.ErrInvalidTTL), errors.Is(err, invitation.ErrEmptyJoinKey):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		default:
			log.Error("create invitation failed", zap.String("chat", chatID), zap.Error(err))
			http.Error(w, "create invitation failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, invitationResponse{
			ID:        inv.ID,
			ChatID:    inv.ChatID,
			CreatedAt: inv.CreatedAt.UnixMilli(),
			TTLMs:     inv.TTL.Milliseconds(),
		})
	}
}

func (s *HttpServer) RedeemInvitation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		id := mux.Vars(r)["id"]

		var req redeemInvitationRequest
		if !decodeBody(w, r, &req) {
			return
		}

		inv, err := s.invitations.Redeem(r.Context(), user.ID.Hex(), id, req.JoinKey)
		if errors.Is(err, invitation.ErrInvitationInvalid) {
			http.Error(w, invitation.ErrInvitationInvalid.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("redeem invitation failed", zap.Error(err))
			http.Error(w, "redeem invitation failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, redeemInvitationResponse{
			ChatID:      inv.ChatID,
			KeyMaterial: inv.KeyMaterial,
		})
	}
}

func (s *HttpServer) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.checksMu.RLock()
		defer s.checksMu.RUnlock()

		status := make(map[string]string, len(s.checks))
		code := http.StatusOK
		for name, check := range s.checks {
			if err := check(r.Context()); err != nil {
				log.Warn("health check failed", zap.String("check", name), zap.Error(err))
				status[name] = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeJSON(w, code, status)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
