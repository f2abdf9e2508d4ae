// realtime - клиент WebSocket-канала уведомлений и чата.
//
// Сообщения приходят конвертами {type, payload} и раздаются подписчикам по
// типу (On/Off); AnyMessage получает всё. При неожиданном обрыве клиент
// переподключается с линейной задержкой (n*BaseDelay для попытки n) не более
// MaxAttempts раз; явный Disconnect переподключений не планирует.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/pkg/redact"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
	defaultPongWait    = 60 * time.Second
	writeWait          = 10 * time.Second
)

// State - состояние соединения.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dialer открывает WebSocket-соединение; *websocket.Dialer ему соответствует.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      Dialer
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	// PongWait - сколько ждать любого кадра от сервера, прежде чем считать
	// соединение потерянным. PingPeriod - интервал ping (по умолчанию 9/10
	// PongWait, должен быть меньше PongWait).
	PongWait   time.Duration
	PingPeriod time.Duration

	// TokenSource выдаёт актуальный access-токен перед каждым
	// переподключением. nil - используется токен из Connect.
	TokenSource func(ctx context.Context) (string, error)

	// After - таймер ожидания перед попыткой переподключения (по умолчанию time.After).
	After func(time.Duration) <-chan time.Time
}

type Client struct {
	url         string
	baseDelay   time.Duration
	maxAttempts int
	dialer      Dialer
	log         *slog.Logger
	metrics     *metrics.Metrics
	pongWait    time.Duration
	pingPeriod  time.Duration
	tokenSource func(ctx context.Context) (string, error)
	after       func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	token  string
	cancel context.CancelFunc

	writeMu sync.Mutex

	hmu          sync.RWMutex
	nextID       HandlerID
	handlers     map[MessageType][]subscription
	onConnect    []func()
	onDisconnect []func(error)
	onError      []func(error)
}

func New(opts Options) *Client {
	c := &Client{
		url:         opts.URL,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		dialer:      opts.Dialer,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		pongWait:    opts.PongWait,
		pingPeriod:  opts.PingPeriod,
		tokenSource: opts.TokenSource,
		after:       opts.After,
		handlers:    make(map[MessageType][]subscription),
	}

	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.pongWait <= 0 {
		c.pongWait = defaultPongWait
	}
	if c.pingPeriod <= 0 || c.pingPeriod >= c.pongWait {
		c.pingPeriod = c.pongWait * 9 / 10
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.after == nil {
		c.after = time.After
	}

	return c
}

// State возвращает текущее состояние соединения.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect открывает соединение с токеном в query (?token=).
// Повторный вызов при активном соединении ничего не делает. Ошибка первого
// подключения возвращается вызывающему; переподключения планируются только
// после обрыва установленного соединения.
func (c *Client) Connect(ctx context.Context, token string) error {
	const op = "realtime.Connect"

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		// Останавливаем цикл переподключения от прошлой сессии.
		c.cancel()
	}
	life, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.token = token
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx, token)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(Disconnected)
		c.mu.Unlock()

		c.log.Warn("realtime_connect_failed", slog.String("op", op), slog.String("err", err.Error()))
		c.emitError(err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if !c.attach(life, conn) {
		return fmt.Errorf("%s: %w", op, context.Canceled)
	}

	return nil
}

// Disconnect закрывает соединение и отменяет запланированные переподключения.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.state == Connected
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := conn.Close()

	if wasConnected {
		c.log.Info("realtime_disconnected")
		c.emitDisconnect(nil)
	}

	return err
}

// Send отправляет конверт {type, payload}. Без соединения сообщение
// отбрасывается с предупреждением в лог; ошибки нет, очереди нет.
func (c *Client) Send(typ MessageType, payload any) error {
	const op = "realtime.Send"

	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.log.Warn("realtime_send_dropped", slog.String("type", string(typ)))
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.Envelope{Type: string(typ), Payload: raw}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// On подписывает h на сообщения типа typ (AnyMessage - на все).
func (c *Client) On(typ MessageType, h Handler) HandlerID {
	c.hmu.Lock()
	defer c.hmu.Unlock()

	c.nextID++
	c.handlers[typ] = append(c.handlers[typ], subscription{id: c.nextID, h: h})

	return c.nextID
}

// Off снимает подписку; неизвестный id игнорируется.
func (c *Client) Off(typ MessageType, id HandlerID) {
	c.hmu.Lock()
	defer c.hmu.Unlock()

	subs := c.handlers[typ]
	for i, s := range subs {
		if s.id == id {
			c.handlers[typ] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.handlers[typ]) == 0 {
		delete(c.handlers, typ)
	}
}

func (c *Client) OnConnect(fn func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect вызывается при каждом закрытии соединения; err == nil - закрыто явно.
func (c *Client) OnDisconnect(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// OnError получает транспортные ошибки (подключение, чтение).
func (c *Client) OnError(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onError = append(c.onError, fn)
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	c.log.Debug("realtime_dial",
		slog.String("url", c.url),
		slog.String("token", redact.Token(token)),
	)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// attach делает conn текущим соединением и запускает чтение.
// false - сессия уже отменена (Disconnect/новый Connect), conn закрыт.
func (c *Client) attach(life context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if life.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.setStateLocked(Connected)
	c.mu.Unlock()

	// Полуоткрытое соединение обнаруживается по истечении дедлайна чтения:
	// его продлевает любой кадр или pong.
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	c.log.Info("realtime_connected")
	c.emitConnect()

	stop := make(chan struct{})
	go c.pingLoop(conn, stop)
	go c.readLoop(life, conn, stop)

	return true
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()

			if err != nil {
				c.log.Debug("realtime_ping_failed", slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (c *Client) readLoop(life context.Context, conn *websocket.Conn, stop chan struct{}) {
	defer close(stop)

	var readErr error

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Warn("realtime_bad_message", slog.Int("size", len(data)))
			continue
		}

		c.dispatch(messageFromEnvelope(env))
	}

	c.mu.Lock()
	if c.conn != conn {
		// Соединение уже закрыто через Disconnect.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	_ = conn.Close()

	c.log.Warn("realtime_connection_lost", slog.String("err", readErr.Error()))
	c.emitError(readErr)
	c.emitDisconnect(readErr)

	if life.Err() == nil {
		go c.reconnect(life)
	}
}

// reconnect - ограниченный цикл переподключения с линейной задержкой.
func (c *Client) reconnect(life context.Context) {
	b := linearBackoff(c.baseDelay, c.maxAttempts)

	for attempt := 1; ; attempt++ {
		delay, stop := b.Next()
		if stop {
			c.metrics.Reconnect(metrics.ReconnectGaveUp)
			c.log.Error("realtime_reconnect_gave_up", slog.Int("attempts", attempt-1))
			return
		}

		c.log.Info("realtime_reconnect_scheduled",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-life.Done():
			return
		case <-c.after(delay):
		}

		c.mu.Lock()
		if life.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(Connecting)
		c.mu.Unlock()

		token, err := c.currentToken(life)
		var conn *websocket.Conn
		if err == nil {
			conn, err = c.dial(life, token)
		}
		if err == nil {
			if c.attach(life, conn) {
				c.metrics.Reconnect(metrics.ReconnectOK)
			}
			return
		}

		c.mu.Lock()
		if life.Err() == nil {
			c.setStateLocked(Disconnected)
		}
		c.mu.Unlock()

		c.metrics.Reconnect(metrics.ReconnectFailed)
		c.log.Warn("realtime_reconnect_failed",
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()),
		)
		c.emitError(err)

		if errors.Is(err, context.Canceled) {
			return
		}
	}
}

// currentToken - токен для переподключения: из TokenSource, если он задан
// и вернул непустое значение, иначе последний известный.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if c.tokenSource == nil {
		return token, nil
	}

	fresh, err := c.tokenSource(ctx)
	if err != nil {
		return "", fmt.Errorf("token source: %w", err)
	}
	if fresh == "" {
		return token, nil
	}

	c.mu.Lock()
	c.token = fresh
	c.mu.Unlock()

	return fresh, nil
}

func (c *Client) dispatch(msg Message) {
	c.hmu.RLock()
	subs := make([]subscription, 0, len(c.handlers[msg.Type])+len(c.handlers[AnyMessage]))
	subs = append(subs, c.handlers[msg.Type]...)
	if msg.Type != AnyMessage {
		subs = append(subs, c.handlers[AnyMessage]...)
	}
	c.hmu.RUnlock()

	for _, s := range subs {
		s.h(msg)
	}
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.RealtimeState(int(s))
}

func (c *Client) emitConnect() {
	c.hmu.RLock()
	fns := append([]func(){}, c.onConnect...)
	c.hmu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *Client) emitDisconnect(err error) {
	c.hmu.RLock()
	fns := append([]func(error){}, c.onDisconnect...)
	c.hmu.RUnlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (c *Client) emitError(err error) {
	c.hmu.RLock()
	fns := append([]func(error){}, c.onError...)
	c.hmu.RUnlock()

	for _, fn := range fns {
		fn(err)
	}
}
