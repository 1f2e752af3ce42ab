package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"algohub/internal/master/registry"
	"algohub/internal/pkg/logger"
	"algohub/internal/pkg/metrics"
	"algohub/pkg/model"
	"algohub/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusMessage 推送给前端的消息
// type: snapshot (连接建立时的全量) | put | delete
type StatusMessage struct {
	Type       string                   `json:"type"`
	Name       string                   `json:"name,omitempty"`
	Record     *model.AlgorithmRecord   `json:"record,omitempty"`
	Algorithms []*model.AlgorithmRecord `json:"algorithms,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	// 快照发出之前到达的增量先暂存，保证客户端先收到快照
	pending bool
	backlog [][]byte
}

// Hub 把注册中心的变化事件广播给所有 websocket 连接
type Hub struct {
	registry *registry.Registry
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	beforeSnapshot func() // 测试用
}

func NewHub(reg *registry.Registry, m *metrics.Metrics) *Hub {
	return &Hub{
		registry: reg,
		metrics:  m,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Start 同步订阅注册中心事件，转发直到 ctx 结束
func (h *Hub) Start(ctx context.Context) {
	events := h.registry.Watch(ctx)
	go h.relay(events)
}

func (h *Hub) relay(events <-chan store.Event) {
	for ev := range events {
		h.broadcast(StatusMessage{
			Type:      ev.Type.String(),
			Name:      ev.Name,
			Record:    ev.Record,
			Timestamp: time.Now(),
		})
	}
}

// HandleWebSocket 路由: GET /ws/status
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[StatusWS] upgrade error: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer), pending: true}

	// 1. 先加入广播列表，之后的增量进入 backlog
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSConnected()
	logger.Debugf("[StatusWS] client connected, total: %d", total)

	if h.beforeSnapshot != nil {
		h.beforeSnapshot()
	}

	// 2. 全量快照
	records, err := h.registry.List(c.Request.Context(), registry.Query{})
	if err != nil {
		logger.Warnf("[StatusWS] snapshot: %v", err)
	}
	snapshot, err := json.Marshal(StatusMessage{Type: "snapshot", Algorithms: records, Timestamp: time.Now()})
	if err != nil {
		logger.Warnf("[StatusWS] marshal snapshot: %v", err)
	}

	// 3. 先发快照再补发 backlog，backlog 里的增量可能已经包含在快照中
	if !h.flushSnapshot(client, snapshot) {
		h.unregister(client)
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) flushSnapshot(c *wsClient, snapshot []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	msgs := c.backlog
	if snapshot != nil {
		msgs = append([][]byte{snapshot}, msgs...)
	}
	c.pending = false
	c.backlog = nil
	for _, data := range msgs {
		select {
		case c.send <- data:
		default:
			return false
		}
	}
	return true
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 关闭所有连接 (服务退出时)
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.WSDisconnected()
	}
}

func (h *Hub) broadcast(msg StatusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warnf("[StatusWS] marshal error: %v", err)
		return
	}

	var slow []*wsClient
	h.mu.Lock()
	for c := range h.clients {
		if c.pending {
			if len(c.backlog) >= sendBuffer-1 {
				slow = append(slow, c)
				continue
			}
			c.backlog = append(c.backlog, data)
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	// 跟不上的连接直接断开，前端重连后会收到新的快照
	for _, c := range slow {
		logger.Warnf("[StatusWS] client %s too slow, dropping", c.conn.RemoteAddr())
		h.unregister(c)
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debugf("[StatusWS] read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("[StatusWS] write error: %v", err)
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}
