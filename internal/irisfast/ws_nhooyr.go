package irisfast

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrWSNotConnected = errors.New("ws not connected")

// MessageCallback receives every decoded event from the stream.
type MessageCallback func(message *Message)

type StateCallback func(state WebSocketState)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// WebSocket is the Iris event stream. It reconnects with backoff after read
// or ping failures, up to maxReconnectAttempts in a row.
type WebSocket struct {
	wsURL  string
	logger *zap.Logger

	conn   *websocket.Conn
	connM  sync.RWMutex
	writeM sync.Mutex

	state  WebSocketState
	stateM sync.RWMutex

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &WebSocket{
		wsURL:                wsURL,
		logger:               logger,
		state:                WSStateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              rootCtx,
		rootCancel:           rootCancel,
	}
}

func (ws *WebSocket) State() WebSocketState {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	if s := ws.State(); s == WSStateConnected || s == WSStateConnecting {
		return nil
	}
	ws.setState(WSStateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := ws.dial(dialCtx)
	if err != nil {
		ws.setState(WSStateFailed)
		ws.scheduleReconnect()
		return err
	}
	ws.attach(conn)
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	// Iris image frames can exceed the 32KiB default.
	conn.SetReadLimit(8 << 20)
	return conn, nil
}

func (ws *WebSocket) attach(conn *websocket.Conn) {
	ws.connM.Lock()
	ws.conn = conn
	ws.connM.Unlock()
	ws.setState(WSStateConnected)

	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
}

func (ws *WebSocket) current() *websocket.Conn {
	ws.connM.RLock()
	defer ws.connM.RUnlock()
	return ws.conn
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var msg Message
		if err := wsjson.Read(ws.rootCtx, conn, &msg); err != nil {
			if ws.isStopping() {
				return
			}
			ws.logger.Warn("ws_read_failed", zap.Error(err))
			ws.drop(conn, "reconnect")
			return
		}

		ws.cbM.RLock()
		callbacks := make([]callbackEntry, len(ws.msgCbs))
		copy(callbacks, ws.msgCbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(&msg)
		}
	}
}

func (ws *WebSocket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			if ws.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if ws.isStopping() {
					return
				}
				ws.logger.Warn("ws_ping_failed", zap.Error(err))
				ws.drop(conn, "ping failure")
				return
			}
		}
	}
}

// drop closes conn if it is still the active one and starts reconnecting.
func (ws *WebSocket) drop(conn *websocket.Conn, reason string) {
	ws.connM.Lock()
	if ws.conn != conn {
		ws.connM.Unlock()
		return
	}
	ws.conn = nil
	ws.connM.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, reason)
	ws.setState(WSStateDisconnected)
	ws.scheduleReconnect()
}

func (ws *WebSocket) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 || ws.isStopping() {
		return
	}
	ws.setState(WSStateReconnecting)

	go func() {
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(ws.reconnectDelay + backoffDuration(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(ws.rootCtx, 10*time.Second)
			conn, err := ws.dial(dialCtx)
			cancel()
			if err != nil {
				ws.logger.Debug("ws_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			ws.logger.Info("ws_reconnected", zap.Int("attempt", attempt))
			ws.attach(conn)
			return
		}
		ws.setState(WSStateFailed)
	}()
}

// WriteJSON sends v as one text frame. Writes are serialized.
func (ws *WebSocket) WriteJSON(ctx context.Context, v any) error {
	conn := ws.current()
	if conn == nil || ws.State() != WSStateConnected {
		return ErrWSNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	return wsjson.Write(ctx, conn, v)
}

func (ws *WebSocket) OnMessage(cb MessageCallback) int {
	if cb == nil {
		return 0
	}
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.msgCbs = append(ws.msgCbs, callbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *WebSocket) RemoveMessageCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.msgCbs {
		if cb.id == id {
			ws.msgCbs = append(ws.msgCbs[:i], ws.msgCbs[i+1:]...)
			return
		}
	}
}

func (ws *WebSocket) OnStateChange(cb StateCallback) int {
	if cb == nil {
		return 0
	}
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.stateCbs = append(ws.stateCbs, stateCallbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *WebSocket) RemoveStateCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.stateCbs {
		if cb.id == id {
			ws.stateCbs = append(ws.stateCbs[:i], ws.stateCbs[i+1:]...)
			return
		}
	}
}

func (ws *WebSocket) setState(state WebSocketState) {
	ws.stateM.Lock()
	changed := ws.state != state
	ws.state = state
	ws.stateM.Unlock()
	if !changed {
		return
	}

	ws.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(ws.stateCbs))
	copy(callbacks, ws.stateCbs)
	ws.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(state)
	}
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })

	ws.connM.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	ws.rootCancel()

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.setState(WSStateDisconnected)
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

// SetHeaderProvider sets headers sent with the handshake.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) {
	ws.headerProvider = h
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
