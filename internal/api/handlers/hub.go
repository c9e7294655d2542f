package handlers

import (
	"net/http"
	"sync"
	"time"

	"actionrecorder/backend/internal/codegen"
	"actionrecorder/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscriberSize = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	EventAction = "action"
	EventCode   = "code"
)

// StreamEvent is the frame pushed to websocket subscribers: either one
// recorded action or freshly generated code for the whole log.
type StreamEvent struct {
	Type   string         `json:"type"`
	Action *models.Action `json:"action,omitempty"`
	Code   *codegen.Code  `json:"code,omitempty"`
}

// Hub fans recorded actions out to websocket subscribers.
type Hub struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	actions     func() []models.Action
}

type subscriber struct {
	conn *websocket.Conn
	send chan StreamEvent
	done chan struct{}
	once sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// GenerateFrom makes the hub push regenerated code after every action that
// usually ends a form fill. actions returns the full log.
func (h *Hub) GenerateFrom(actions func() []models.Action) {
	h.mu.Lock()
	h.actions = actions
	h.mu.Unlock()
}

// Publish queues action for every subscriber, followed by a code frame when
// the action triggers generation.
func (h *Hub) Publish(action models.Action) {
	h.broadcast(StreamEvent{Type: EventAction, Action: &action})

	h.mu.RLock()
	actions := h.actions
	h.mu.RUnlock()
	if actions == nil || !codegen.ShouldTriggerGeneration(action) {
		return
	}
	code := codegen.Generate(actions())
	h.broadcast(StreamEvent{Type: EventCode, Code: &code})
}

// broadcast queues event for every subscriber. A subscriber whose buffer is
// full misses the event.
func (h *Hub) broadcast(event StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber", zap.String("type", event.Type), zap.String("remote", sub.conn.RemoteAddr().String()))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	clear(h.subscribers)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Stream upgrades the request and streams actions until the client leaves.
func (h *Hub) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan StreamEvent, subscriberSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(sub)
	h.readPump(sub)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(sub)
	}()

	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients never send data.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
