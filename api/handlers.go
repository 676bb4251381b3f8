package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wacrm/database"
	"wacrm/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=lead client declined"`
}

type LeadRequest struct {
	IsLead *bool `json:"isLead" validate:"required"`
}

type OutboundRequest struct {
	Text string `json:"text"`
	Ts   int64  `json:"ts" validate:"min=0"`
}

type IncomingRequest struct {
	Chat     database.IncomingChat   `json:"chat"`
	Messages []database.MessageInput `json:"messages" validate:"dive"`
}

type IncomingResponse struct {
	Chat    *database.Chat `json:"chat"`
	Created bool           `json:"created"`
}

type ImportRequest struct {
	Chats []database.ChatSnapshot `json:"chats" validate:"required,dive"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	s.logger.Error(msg, append(fields, zap.Error(err))...)
	writeError(w, http.StatusInternalServerError, "internal_error", msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context(), database.Status(r.URL.Query().Get("status")))
	if err != nil {
		s.internalError(w, "Failed to list chats", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilChats(chats))
}

func (s *Server) handleSearchChats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	chats, err := s.store.FindChats(r.Context(), query)
	if err != nil {
		s.internalError(w, "Failed to search chats", err, zap.String("query", query))
		return
	}
	writeJSON(w, http.StatusOK, nonNilChats(chats))
}

func (s *Server) handleImportChats(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	for i := range req.Chats {
		if utils.IsGroupChatID(req.Chats[i].ID) {
			req.Chats[i].IsGroup = true
		}
	}

	if err := s.store.InitialUpsertChats(r.Context(), req.Chats); err != nil {
		s.internalError(w, "Failed to import chats", err, zap.Int("count", len(req.Chats)))
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Imported: len(req.Chats)})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	chat, err := s.store.GetChat(r.Context(), chatID)
	if err != nil {
		s.internalError(w, "Failed to load chat", err, zap.String("chat_id", chatID))
		return
	}
	if chat == nil {
		writeError(w, http.StatusNotFound, "not_found", "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	limit := database.DefaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.store.GetMessages(r.Context(), chatID, limit)
	if err != nil {
		s.internalError(w, "Failed to load messages", err, zap.String("chat_id", chatID))
		return
	}
	if messages == nil {
		messages = []database.MessageView{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := s.store.MarkSeen(r.Context(), chatID); err != nil {
		s.internalError(w, "Failed to mark chat as seen", err, zap.String("chat_id", chatID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req StatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	chat, err := s.store.SetStatus(r.Context(), chatID, database.Status(req.Status))
	if errors.Is(err, database.ErrInvalidStatus) {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "Failed to set chat status", err, zap.String("chat_id", chatID))
		return
	}
	if chat == nil {
		writeError(w, http.StatusNotFound, "not_found", "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleSetLead(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req LeadRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	chat, err := s.store.SetFlagLead(r.Context(), chatID, *req.IsLead)
	if err != nil {
		s.internalError(w, "Failed to set lead flag", err, zap.String("chat_id", chatID))
		return
	}
	if chat == nil {
		writeError(w, http.StatusNotFound, "not_found", "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleOutbound(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req OutboundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.store.OnSendUpdateChat(r.Context(), chatID, req.Text, req.Ts); err != nil {
		s.internalError(w, "Failed to record outbound message", err, zap.String("chat_id", chatID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	var req IncomingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if utils.IsGroupChatID(req.Chat.ChatID) {
		req.Chat.IsGroup = true
	}

	chat, created, err := s.store.IngestIncoming(r.Context(), req.Chat, req.Messages)
	if err != nil {
		s.internalError(w, "Failed to ingest incoming activity", err, zap.String("chat_id", req.Chat.ChatID))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, IncomingResponse{Chat: chat, Created: created})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	from, err := parseEpoch(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be epoch seconds")
		return
	}
	to, err := parseEpoch(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be epoch seconds")
		return
	}

	summary, err := s.store.GetAnalytics(r.Context(), database.AnalyticsRange{FromSec: from, ToSec: to})
	if err != nil {
		s.internalError(w, "Failed to compute analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMonthlyAnalytics(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, key := range []string{from, to} {
		if key == "" {
			continue
		}
		if _, err := time.Parse(utils.MonthKeyLayout, key); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_month", "months must be formatted as YYYY-MM")
			return
		}
	}

	months, err := s.store.MonthlyBreakdown(r.Context(), from, to)
	if err != nil {
		s.internalError(w, "Failed to compute monthly analytics", err)
		return
	}
	if months == nil {
		months = []database.MonthlyCount{}
	}
	writeJSON(w, http.StatusOK, months)
}

func parseEpoch(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative timestamp")
	}
	return v, nil
}

func nonNilChats(chats []database.Chat) []database.Chat {
	if chats == nil {
		return []database.Chat{}
	}
	return chats
}
