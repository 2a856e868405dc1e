package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"campusbus/internal/domain"
)

// Client is one live subscriber. It follows map tiles, whole routes, or both.
type Client struct {
	ID     string
	Send   chan []byte
	tiles  map[string]struct{}
	routes map[string]struct{}
	mu     sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		tiles:  make(map[string]struct{}),
		routes: make(map[string]struct{}),
	}
}

func (c *Client) HasTile(tileID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tiles[tileID]
	return ok
}

func (c *Client) HasRoute(routeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[routeID]
	return ok
}

func (c *Client) GetTiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return keys(c.tiles)
}

func (c *Client) GetRoutes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return keys(c.routes)
}

func (c *Client) add(set map[string]struct{}, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (c *Client) remove(set map[string]struct{}, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(set, id)
	}
}

// ClientGauge receives the number of connected clients
type ClientGauge interface {
	SetWSClients(n int)
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	tileClients  map[string]map[*Client]struct{}
	routeClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []domain.VehicleDelta

	gauge  ClientGauge
	logger *slog.Logger
}

func NewHub(logger *slog.Logger, gauge ClientGauge) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		tileClients:  make(map[string]map[*Client]struct{}),
		routeClients: make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		broadcast:    make(chan []domain.VehicleDelta, 256),
		gauge:        gauge,
		logger:       logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.reportClients(total)
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case deltas := <-h.broadcast:
			h.fanoutDeltas(deltas)
		}
	}
}

func (h *Hub) Subscribe(client *Client, tileIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.add(client.tiles, tileIDs)
	index(h.tileClients, client, tileIDs)
}

func (h *Hub) Unsubscribe(client *Client, tileIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.remove(client.tiles, tileIDs)
	unindex(h.tileClients, client, tileIDs)
}

func (h *Hub) SubscribeRoutes(client *Client, routeIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.add(client.routes, routeIDs)
	index(h.routeClients, client, routeIDs)
}

func (h *Hub) UnsubscribeRoutes(client *Client, routeIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.remove(client.routes, routeIDs)
	unindex(h.routeClients, client, routeIDs)
}

func (h *Hub) Broadcast(deltas []domain.VehicleDelta) {
	if len(deltas) == 0 {
		return
	}
	select {
	case h.broadcast <- deltas:
	default:
		h.logger.Warn("broadcast channel full, dropping deltas", "count", len(deltas))
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type DeltaMessage struct {
	Type    string       `json:"type"`
	Payload DeltaPayload `json:"payload"`
}

type DeltaPayload struct {
	Updates []*domain.Vehicle `json:"updates,omitempty"`
	Removes []string          `json:"removes,omitempty"`
}

// fanoutDeltas sends each client the deltas for its tiles and routes. A
// vehicle matched through both only appears once.
func (h *Hub) fanoutDeltas(deltas []domain.VehicleDelta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientDeltas := make(map[*Client][]domain.VehicleDelta)

	for _, d := range deltas {
		matched := make(map[*Client]struct{})
		for client := range h.tileClients[d.TileID] {
			matched[client] = struct{}{}
		}
		if d.RouteID != "" {
			for client := range h.routeClients[d.RouteID] {
				matched[client] = struct{}{}
			}
		}
		for client := range matched {
			clientDeltas[client] = append(clientDeltas[client], d)
		}
	}

	for client, ds := range clientDeltas {
		data, err := json.Marshal(buildDeltaMessage(ds))
		if err != nil {
			continue
		}

		select {
		case client.Send <- data:
		default:
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func buildDeltaMessage(deltas []domain.VehicleDelta) DeltaMessage {
	var updates []*domain.Vehicle
	var removes []string

	for _, d := range deltas {
		switch d.Type {
		case domain.DeltaUpdate:
			updates = append(updates, d.Vehicle)
		case domain.DeltaRemove:
			removes = append(removes, d.Key)
		}
	}

	return DeltaMessage{
		Type: "delta",
		Payload: DeltaPayload{
			Updates: updates,
			Removes: removes,
		},
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()

	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}

	unindex(h.tileClients, client, client.GetTiles())
	unindex(h.routeClients, client, client.GetRoutes())

	delete(h.clients, client)
	close(client.Send)
	total := len(h.clients)
	h.mu.Unlock()

	h.reportClients(total)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", total)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.tileClients = make(map[string]map[*Client]struct{})
	h.routeClients = make(map[string]map[*Client]struct{})
	h.reportClients(0)
}

func (h *Hub) reportClients(n int) {
	if h.gauge != nil {
		h.gauge.SetWSClients(n)
	}
}

func index(idx map[string]map[*Client]struct{}, client *Client, ids []string) {
	for _, id := range ids {
		if idx[id] == nil {
			idx[id] = make(map[*Client]struct{})
		}
		idx[id][client] = struct{}{}
	}
}

func unindex(idx map[string]map[*Client]struct{}, client *Client, ids []string) {
	for _, id := range ids {
		if idx[id] != nil {
			delete(idx[id], client)
			if len(idx[id]) == 0 {
				delete(idx, id)
			}
		}
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
