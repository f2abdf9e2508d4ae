package sandbox

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apierrors "github.com/pribylovaa/go-marketplace-client/internal/errors"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/internal/sandbox/middleware"
	"github.com/pribylovaa/go-marketplace-client/pkg/log"
)

const (
	hubSendBuffer = 16
	hubWriteWait  = 10 * time.Second
)

type hubClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub - WebSocket-канал чата и уведомлений (/ws?token=).
//   - chat.message рассылается всем подключённым, включая отправителя
//     (senderId и sentAt проставляет сервер);
//   - chat.typing и chat.read - всем, кроме отправителя;
//   - Publish адресно отправляет событие всем соединениям пользователя.
type Hub struct {
	verifier middleware.Verifier
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

func NewHub(v middleware.Verifier, l *slog.Logger) *Hub {
	if l == nil {
		l = slog.Default()
	}

	return &Hub{
		verifier: v,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      l,
		clients:  make(map[*hubClient]struct{}),
	}
}

// ServeHTTP проверяет токен из query, делает upgrade и обслуживает соединение
// до его закрытия.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := h.verifier.VerifyAccess(r.URL.Query().Get("token"))
	if err != nil {
		apierrors.WriteError(w, r, http.StatusUnauthorized, "access token expired or invalid")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.From(r.Context()).Warn("ws_upgrade_failed", slog.String("err", err.Error()))
		return
	}

	c := &hubClient{userID: uid, conn: conn, send: make(chan []byte, hubSendBuffer)}
	h.register(c)
	h.log.Info("ws_connected", slog.String("user_id", uid))

	done := make(chan struct{})
	go func() {
		h.writePump(c)
		close(done)
	}()

	h.readPump(c)

	h.unregister(c)
	<-done
	h.log.Info("ws_disconnected", slog.String("user_id", uid))
}

// Publish отправляет конверт всем соединениям пользователя.
func (h *Hub) Publish(userID string, typ string, payload any) {
	data, err := encodeEnvelope(typ, payload)
	if err != nil {
		h.log.Error("ws_encode_failed", slog.String("err", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID == userID {
			h.enqueue(c, data)
		}
	}
}

// Clients - число активных соединений.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close закрывает все соединения.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readPump(c *hubClient) {
	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case "chat.message":
			var msg models.ChatMessage
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				h.log.Debug("ws_bad_payload", slog.String("type", env.Type))
				continue
			}
			msg.SenderID = c.userID
			msg.SentAt = time.Now().UnixMilli()
			h.broadcast(nil, env.Type, msg)
		case "chat.typing", "chat.read":
			h.broadcast(c, env.Type, env.Payload)
		default:
			h.log.Debug("ws_unknown_type", slog.String("type", env.Type))
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// broadcast рассылает всем, кроме except (nil - всем).
func (h *Hub) broadcast(except *hubClient, typ string, payload any) {
	data, err := encodeEnvelope(typ, payload)
	if err != nil {
		h.log.Error("ws_encode_failed", slog.String("err", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c != except {
			h.enqueue(c, data)
		}
	}
}

// enqueue не блокируется: медленный получатель теряет сообщение. Вызывается под h.mu.
func (h *Hub) enqueue(c *hubClient, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn("ws_send_buffer_full", slog.String("user_id", c.userID))
	}
}

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(models.Envelope{Type: typ, Payload: raw})
}
