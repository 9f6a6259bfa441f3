package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	queueSize  = 16
	eventTopic = "inspection"
)

// InspectionView проверка в JSON для табло и истории.
type InspectionView struct {
	Type         string         `json:"type,omitempty"`
	ID           string         `json:"id"`
	VIN          string         `json:"vin"`
	Model        string         `json:"model"`
	Verdict      string         `json:"verdict"`
	Counts       map[string]int `json:"counts"`
	CapturedPath string         `json:"captured_path"`
	DetectedPath string         `json:"detected_path"`
	CapturedAt   time.Time      `json:"captured_at"`
	DetectedAt   time.Time      `json:"detected_at"`
}

// NewInspectionView переводит проверку в JSON-представление.
func NewInspectionView(insp *entity.Inspection) InspectionView {
	return InspectionView{
		ID:           insp.ID,
		VIN:          insp.VIN,
		Model:        insp.Model,
		Verdict:      string(insp.Verdict),
		Counts:       insp.Counts,
		CapturedPath: insp.CapturedPath,
		DetectedPath: insp.DetectedPath,
		CapturedAt:   insp.CapturedAt,
		DetectedAt:   insp.DetectedAt,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub рассылает события о проверках подключённым табло.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, queueSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run обслуживает подключения до отмены ctx, затем закрывает всех клиентов.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Infow("display connected", "total", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Infow("display disconnected", "total", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warnw("display write failed", "error", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register добавляет клиента. false, если хаб уже остановлен.
func (h *Hub) Register(client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast ставит сообщение в очередь; при переполнении сообщение теряется.
func (h *Hub) Broadcast(message []byte) error {
	// Остановка проверяется первой: в буфере может оставаться место.
	select {
	case <-h.done:
		return errors.New("hub is stopped")
	default:
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		return errors.New("broadcast queue is full")
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Name имя журнала.
func (h *Hub) Name() string { return "display" }

// Record рассылает завершённую проверку.
func (h *Hub) Record(ctx context.Context, insp *entity.Inspection) error {
	view := NewInspectionView(insp)
	view.Type = eventTopic
	message, err := json.Marshal(view)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return h.Broadcast(message)
}

// ServeHTTP подключает табло по websocket. Входящие сообщения игнорируются.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if !h.Register(conn) {
		conn.Close()
		return
	}
	defer h.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ port.InspectionSink = (*Hub)(nil)
