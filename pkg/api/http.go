package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatsync/pkg/auth"
	"chatsync/pkg/chat"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
)

// API exposes the chat service over HTTP. The acting user is taken from
// the X-User-ID header; mutations go through the ingest queue and only
// return once applied.
type API struct {
	svc *chat.Service
}

func New(svc *chat.Service) *API { return &API{svc: svc} }

// Router builds the full route table.
func (a *API) Router(rps float64, burst int) *mux.Router {
	r := mux.NewRouter()
	r.Use(auth.Middleware(rps, burst))

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/chats", a.createChat).Methods(http.MethodPost)
	v1.HandleFunc("/chats", a.listChats).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{id}", a.getChat).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{id}/messages", a.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/chats/{id}/messages", a.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{id}/messages/{msgID}", a.deleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/chats/{id}/read", a.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/presence/{user}", a.getPresence).Methods(http.MethodGet)

	v1.HandleFunc("/chats/{id}/stream", a.streamMessages).Methods(http.MethodGet)
	v1.HandleFunc("/presence/{user}/stream", a.streamPresence).Methods(http.MethodGet)

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeErr(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, chat.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, chat.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrSendFailed), errors.Is(err, chat.ErrTransport):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	http.Error(w, `{"error":"`+err.Error()+`"}`, code)
}

func (a *API) createChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Type         models.ChatType      `json:"type"`
		Participants []models.Participant `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	conv, err := a.svc.CreateChat(r.Context(), req.Type, req.Participants)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("chat_created", "chat", conv.ID, "type", string(conv.Type))
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(conv)
}

func (a *API) listChats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	member := r.URL.Query().Get("member")
	if member == "" {
		member = auth.ActorID(r)
	}
	if member == "" {
		http.Error(w, `{"error":"member missing"}`, http.StatusBadRequest)
		return
	}
	convs, err := a.svc.ListChatsForUser(member)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Chats []models.Conversation `json:"chats"`
	}{Chats: convs})
}

func (a *API) getChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	conv, err := a.svc.FetchChatByID(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(conv)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	chatID := mux.Vars(r)["id"]
	var body struct {
		Sender      string              `json:"sender"`
		SenderName  string              `json:"sender_name"`
		SenderPhoto string              `json:"sender_photo"`
		Type        models.MessageType  `json:"type"`
		Text        string              `json:"text"`
		Media       string              `json:"media"`
		ReplyTo     *models.ReplyRef    `json:"reply_to,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if body.Sender == "" {
		body.Sender = auth.ActorID(r)
	}
	err := a.svc.Send(r.Context(), chat.SendRequest{
		Chat:        chatID,
		Sender:      body.Sender,
		SenderName:  body.SenderName,
		SenderPhoto: body.SenderPhoto,
		Type:        body.Type,
		Text:        body.Text,
		Media:       body.Media,
		ReplyTo:     body.ReplyTo,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_sent", "chat", chatID, "sender", body.Sender)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"status":"sent"}`))
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	chatID := mux.Vars(r)["id"]
	if _, err := a.svc.FetchChatByID(chatID); err != nil {
		writeErr(w, err)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	msgs, err := a.svc.MessageWindow(chatID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Chat     string           `json:"chat"`
		Messages []models.Message `json:"messages"`
	}{Chat: chatID, Messages: msgs})
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	vars := mux.Vars(r)
	actor := auth.ActorID(r)
	if actor == "" {
		http.Error(w, `{"error":"actor missing"}`, http.StatusBadRequest)
		return
	}
	if err := a.svc.DeleteMessage(r.Context(), vars["id"], vars["msgID"], actor); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_deleted", "chat", vars["id"], "id", vars["msgID"], "actor", actor)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	chatID := mux.Vars(r)["id"]
	actor := auth.ActorID(r)
	if actor == "" {
		http.Error(w, `{"error":"actor missing"}`, http.StatusBadRequest)
		return
	}
	if err := a.svc.MarkChatAsRead(r.Context(), chatID, actor); err != nil {
		writeErr(w, err)
		return
	}
	_, _ = w.Write([]byte(`{"status":"read"}`))
}

func (a *API) getPresence(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	p, err := a.svc.PresenceSnapshot(mux.Vars(r)["user"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}
