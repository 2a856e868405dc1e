package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"campusbus/internal/domain"
	"campusbus/internal/hub"
	"campusbus/internal/store"
)

const maxSubscriptionIDs = 256

type RouteLookup interface {
	GetRoute(id string) (*domain.Route, error)
}

type WSHandler struct {
	hub       *hub.Hub
	store     *store.Store
	routes    RouteLookup
	zoomLevel int
	logger    *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *store.Store, routes RouteLookup, zoomLevel int, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:       h,
		store:     s,
		routes:    routes,
		zoomLevel: zoomLevel,
		logger:    logger.With("handler", "ws"),
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	TileIDs []string `json:"tileIds"`
}

type UnsubscribePayload struct {
	TileIDs []string `json:"tileIds"`
}

type RoutesPayload struct {
	RouteIDs []string `json:"routeIds"`
}

type NearPayload struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type SnapshotMessage struct {
	Type    string          `json:"type"`
	Payload SnapshotPayload `json:"payload"`
}

type SnapshotPayload struct {
	Vehicles []*domain.Vehicle `json:"vehicles"`
	TileIDs  []string          `json:"tileIds,omitempty"`
	RouteIDs []string          `json:"routeIds,omitempty"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 256)

	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		ServerStats.IncWSMessagesIn()

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			h.sendError(client, "invalid message format")
			continue
		}

		h.handleMessage(client, msg)
	}
}

func (h *WSHandler) handleMessage(client *hub.Client, msg WSMessage) {
	switch msg.Type {
	case "subscribe":
		var payload SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(client, "invalid subscribe payload")
			return
		}
		tiles := h.validTiles(payload.TileIDs)
		if len(tiles) == 0 {
			h.sendError(client, "no valid tile ids")
			return
		}
		h.subscribeTiles(client, tiles)

	case "unsubscribe":
		var payload UnsubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if len(payload.TileIDs) > 0 {
			h.hub.Unsubscribe(client, payload.TileIDs)
		}

	case "subscribe_near":
		var payload NearPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil ||
			payload.Lat < -90 || payload.Lat > 90 || payload.Lon < -180 || payload.Lon > 180 {
			h.sendError(client, "invalid subscribe_near payload")
			return
		}
		h.subscribeTiles(client, hub.NearbyTiles(payload.Lat, payload.Lon, h.zoomLevel))

	case "subscribe_bbox":
		var bb domain.BoundingBox
		if err := json.Unmarshal(msg.Payload, &bb); err != nil {
			h.sendError(client, "invalid subscribe_bbox payload")
			return
		}
		tiles := hub.TilesInBBox(bb, h.zoomLevel)
		if len(tiles) == 0 {
			h.sendError(client, "bounding box is empty or too large")
			return
		}
		h.subscribeTiles(client, tiles)

	case "subscribe_route":
		var payload RoutesPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(client, "invalid subscribe_route payload")
			return
		}
		routes := h.knownRoutes(payload.RouteIDs)
		if len(routes) == 0 {
			h.sendError(client, "no known route ids")
			return
		}
		h.hub.SubscribeRoutes(client, routes)
		h.send(client, SnapshotMessage{
			Type: "snapshot",
			Payload: SnapshotPayload{
				Vehicles: h.store.SnapshotForRoutes(routes),
				RouteIDs: routes,
			},
		})

	case "unsubscribe_route":
		var payload RoutesPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if len(payload.RouteIDs) > 0 {
			h.hub.UnsubscribeRoutes(client, payload.RouteIDs)
		}

	case "ping":
		h.send(client, PongMessage{Type: "pong"})

	default:
		h.sendError(client, "unknown message type")
	}
}

func (h *WSHandler) subscribeTiles(client *hub.Client, tiles []string) {
	h.hub.Subscribe(client, tiles)
	h.send(client, SnapshotMessage{
		Type: "snapshot",
		Payload: SnapshotPayload{
			Vehicles: h.store.SnapshotForTiles(tiles),
			TileIDs:  tiles,
		},
	})
}

// validTiles keeps well-formed tile ids at the server zoom level
func (h *WSHandler) validTiles(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(out) == maxSubscriptionIDs {
			break
		}
		zoom, _, _, ok := hub.ParseTileID(id)
		if ok && zoom == h.zoomLevel {
			out = append(out, id)
		}
	}
	return out
}

func (h *WSHandler) knownRoutes(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(out) == maxSubscriptionIDs {
			break
		}
		if _, err := h.routes.GetRoute(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendError(client *hub.Client, message string) {
	h.send(client, ErrorMessage{Type: "error", Message: message})
}

func (h *WSHandler) send(client *hub.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case client.Send <- data:
	default:
		h.logger.Debug("failed to send message, buffer full", "client_id", client.ID)
	}
}
