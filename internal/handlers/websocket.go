package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/models"
)

const (
	MessageGameSettled = "GAME_SETTLED"
	MessagePing        = "PING"
	MessagePong        = "PONG"

	feedBacklog    = 20
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string      `json:"type"`
	GameID string      `json:"game_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// FeedHub fans settled games out to every connected /ws/feed client.
type FeedHub struct {
	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan *Message

	done chan struct{}

	mu     sync.Mutex
	recent []*Message

	log *slog.Logger
}

type feedClient struct {
	conn *websocket.Conn
	send chan *Message
	pong chan struct{}
}

func NewFeedHub(log *slog.Logger) *FeedHub {
	return &FeedHub{
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan *Message, 100),
		done:       make(chan struct{}),
		log:        log.With(slog.String("component", "handlers/feed")),
	}
}

// Run serves the hub until ctx is cancelled.
func (hub *FeedHub) Run(ctx context.Context) {
	clients := make(map[*feedClient]struct{})
	defer close(hub.done)

	for {
		select {
		case <-ctx.Done():
			for client := range clients {
				close(client.send)
			}
			return

		case client := <-hub.register:
			for _, msg := range hub.backlog() {
				client.send <- msg
			}
			clients[client] = struct{}{}
			hub.log.Debug("feed client registered", slog.Int("clients", len(clients)))

		case client := <-hub.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.send)
			}

		case msg := <-hub.broadcast:
			hub.remember(msg)
			for client := range clients {
				select {
				case client.send <- msg:
				default:
					// slow consumer
					delete(clients, client)
					close(client.send)
				}
			}
		}
	}
}

// BroadcastGameSettled queues a settled game for every feed client.
func (hub *FeedHub) BroadcastGameSettled(event *models.SettledEvent) {
	msg := &Message{
		Type:   MessageGameSettled,
		GameID: event.GameID,
		Data:   event,
	}

	select {
	case hub.broadcast <- msg:
	default:
		hub.log.Warn("feed broadcast queue full, dropping event", sl.GameID(event.GameID))
	}
}

// Seed preloads the backlog new clients receive, oldest first.
func (hub *FeedHub) Seed(events []*models.SettledEvent) {
	for i := len(events) - 1; i >= 0; i-- {
		hub.remember(&Message{Type: MessageGameSettled, GameID: events[i].GameID, Data: events[i]})
	}
}

func (hub *FeedHub) remember(msg *Message) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	hub.recent = append(hub.recent, msg)
	if len(hub.recent) > feedBacklog {
		hub.recent = hub.recent[len(hub.recent)-feedBacklog:]
	}
}

func (hub *FeedHub) backlog() []*Message {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	out := make([]*Message, len(hub.recent))
	copy(out, hub.recent)
	return out
}

func (hub *FeedHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("failed to upgrade to websocket", sl.Err(err))
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan *Message, clientSendSize+feedBacklog),
		pong: make(chan struct{}, 1),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go hub.writePump(client)
	hub.readPump(client)
}

func (hub *FeedHub) readPump(client *feedClient) {
	defer func() {
		select {
		case hub.unregister <- client:
		case <-hub.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				hub.log.Debug("websocket closed", sl.Err(err))
			}
			return
		}

		if msg.Type == MessagePing {
			select {
			case client.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (hub *FeedHub) writePump(client *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-client.pong:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			pong := &Message{Type: MessagePong, Data: gin.H{"timestamp": time.Now().Unix()}}
			if err := client.conn.WriteJSON(pong); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
