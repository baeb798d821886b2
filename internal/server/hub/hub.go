// Package hub is the in-process connection registry of the reference chat
// backend: it maps authenticated users to their live WebSocket connections
// and fans frames out to every connection a user holds.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/Alicia-74/libroredsocial/pkg/log"
)

type userFrame struct {
	UserID string
	Data   []byte
}

type Hub struct {
	clients map[string]*Client            // connID -> client
	byUser  map[string]map[string]*Client // userID -> connID -> client

	register   chan *Client
	unregister chan *Client
	deliver    chan *userFrame
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		byUser:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan *userFrame, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str("conn_id", client.ID).Msg("connection registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				if userID := client.UserID(); userID != "" {
					if conns, ok := h.byUser[userID]; ok {
						delete(conns, client.ID)
						if len(conns) == 0 {
							delete(h.byUser, userID)
						}
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().Str("conn_id", client.ID).Msg("connection unregistered")

		case frame := <-h.deliver:
			h.mu.RLock()
			conns := h.byUser[frame.UserID]
			for _, client := range conns {
				select {
				case client.Send <- frame.Data:
				default:
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Bind associates an authenticated connection with its user so SendToUser
// reaches it.
func (h *Hub) Bind(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.setUserID(userID)
	if _, ok := h.byUser[userID]; !ok {
		h.byUser[userID] = make(map[string]*Client)
	}
	h.byUser[userID][client.ID] = client
	log.L().Info().Str("conn_id", client.ID).Str(log.FieldUserID, userID).Msg("connection bound to user")
}

// SendToUser fans a frame out to every live connection of a user. Users with
// no connection are skipped silently; persistence is the store's business.
func (h *Hub) SendToUser(userID string, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	h.deliver <- &userFrame{UserID: userID, Data: data}
	return nil
}

// ConnectionCount returns how many live connections a user holds.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
