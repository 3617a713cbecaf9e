package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/appstate"
)

// MessageHello is sent once to each client on connect.
const MessageHello = "hello"

// writeTimeout bounds each websocket write.
const writeTimeout = 5 * time.Second

// Message is one frame on the event stream. Type is "hello" or an
// appstate event type.
type Message struct {
	Type      string            `json:"type"`
	ClientID  string            `json:"client_id,omitempty"`
	State     appstate.Snapshot `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
}

// Hub relays shell events to connected websocket clients.
type Hub struct {
	shell  *appstate.Shell
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub over shell. Call Start before serving clients.
func NewHub(shell *appstate.Shell, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		shell:   shell,
		logger:  logger,
		clients: make(map[string]*websocket.Conn),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the shell and relays events until ctx is done or
// Stop is called.
func (h *Hub) Start(ctx context.Context) {
	events, unsubscribe := h.shell.Subscribe()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.broadcast(Message{Type: string(ev.Type), State: ev.State, Timestamp: ev.Emitted})
			}
		}
	}()
}

// Stop closes every client and waits for the relay to exit.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for id, conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, id)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS handles GET /ws: it upgrades the connection, greets the client
// with the current state and keeps it registered until it disconnects.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = conn
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client", id), zap.Int("clients", count))

	hello := Message{Type: MessageHello, ClientID: id, State: h.shell.Snapshot(), Timestamp: time.Now()}
	if err := h.write(conn, hello); err != nil {
		h.remove(id)
		return
	}

	h.wg.Add(1)
	go h.readLoop(id, conn)
}

// readLoop discards client frames and notices disconnects.
func (h *Hub) readLoop(id string, conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.remove(id)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(h.clients))
	for id, conn := range h.clients {
		targets[id] = conn
	}
	h.mu.RUnlock()

	for id, conn := range targets {
		if err := h.write(conn, msg); err != nil {
			h.logger.Debug("send to client failed", zap.String("client", id), zap.Error(err))
			h.remove(id)
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	conn, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}
