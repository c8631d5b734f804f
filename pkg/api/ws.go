package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessages upgrades to a websocket and pushes the full message
// window as one frame per change. Frames replace, never append; a client
// that skips frames only misses intermediate states.
func (a *API) streamMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "chat", chatID, "error", err)
		return
	}

	// The stream outlives the handler: net/http cancels r.Context() on
	// return, so the socket owns its lifetime. readPump cancels on close.
	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, 16)
	cancelSub, err := a.svc.SubscribeMessages(ctx, chatID, limit, func(win []models.Message) {
		b, merr := json.Marshal(struct {
			Chat     string           `json:"chat"`
			Messages []models.Message `json:"messages"`
		}{Chat: chatID, Messages: win})
		if merr != nil {
			return
		}
		select {
		case send <- b:
		default:
		}
	})
	if err != nil {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	telemetry.ActiveSubscriptions.Inc()
	go readPump(conn, cancel)
	go writePump(ctx, conn, send, func() {
		cancelSub()
		cancel()
		telemetry.ActiveSubscriptions.Dec()
	})
}

// streamPresence pushes scrubbed presence snapshots for one user.
func (a *API) streamPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", userID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, 16)
	cancelSub, err := a.svc.SubscribePresence(ctx, userID, func(p models.Presence) {
		b, merr := json.Marshal(p)
		if merr != nil {
			return
		}
		select {
		case send <- b:
		default:
		}
	})
	if err != nil {
		cancel()
		_ = conn.Close()
		return
	}

	telemetry.ActiveSubscriptions.Inc()
	go readPump(conn, cancel)
	go writePump(ctx, conn, send, func() {
		cancelSub()
		cancel()
		telemetry.ActiveSubscriptions.Dec()
	})
}

// readPump drains the connection so pongs are processed; any read error
// tears the stream down.
func readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(8 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, teardown func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		teardown()
		_ = conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
