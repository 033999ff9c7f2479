package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/notifyx/notifyx/internal/application/events"
	"github.com/notifyx/notifyx/internal/domain"
)

// Authorizer resolves whether a tenant may subscribe to a run or
// workflow. Backed by the repositories in the composition root.
type Authorizer interface {
	CanAccessRun(ctx context.Context, tenantID, runID string) bool
	CanAccessWorkflow(ctx context.Context, tenantID, workflowID string) bool
}

// Hub manages WebSocket connections and bridges the run event bus to
// them. Connections are scoped to their authenticated tenant;
// cross-tenant subscriptions are rejected.
type Hub struct {
	bus        *events.Bus
	auth       Authenticator
	authorizer Authorizer
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	logger zerolog.Logger
}

// NewHub creates a Hub instance.
func NewHub(bus *events.Bus, auth Authenticator, authorizer Authorizer, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		auth:       auth,
		authorizer: authorizer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's event loop. Call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().
				Str("client_id", client.id).
				Str("tenant_id", client.principal.TenantID).
				Int("total_clients", total).
				Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.bus.UnsubscribeAll(client.id)
			h.logger.Debug().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client unregistered")
		}
	}
}

// ServeHTTP upgrades the connection after authenticating the handshake.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), principal, h, conn)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// handleCommand processes one client command: subscription changes go
// through the authorizer and then to the event bus.
func (h *Hub) handleCommand(c *Client, cmd Command) {
	ctx := context.Background()
	tenantID := c.principal.TenantID

	respond := func(success bool, message, errMsg string) {
		c.deliver(Envelope{Response: &Response{
			Type:    cmd.Action,
			Success: success,
			Message: message,
			Error:   errMsg,
		}})
	}

	// The delivery handler re-checks tenancy: an event for another
	// tenant never reaches the socket, whatever was subscribed.
	handler := func(event domain.RunEvent) {
		if event.TenantID != tenantID && !c.principal.HasPermission(domain.PermissionCrossTenantRead) {
			return
		}
		e := event
		c.deliver(Envelope{Event: &e})
	}

	switch cmd.Action {
	case CmdSubscribeToRun:
		if cmd.RunID == "" {
			respond(false, "", "run_id is required")
			return
		}
		if h.authorizer != nil && !h.authorizer.CanAccessRun(ctx, tenantID, cmd.RunID) {
			respond(false, "", "run not accessible")
			return
		}
		h.bus.SubscribeRun(c.id, cmd.RunID, handler)
		respond(true, "subscribed to run "+cmd.RunID, "")

	case CmdUnsubscribeFromRun:
		h.bus.UnsubscribeRun(c.id, cmd.RunID)
		respond(true, "unsubscribed from run "+cmd.RunID, "")

	case CmdSubscribeToWorkflow:
		if cmd.WorkflowID == "" {
			respond(false, "", "workflow_id is required")
			return
		}
		if h.authorizer != nil && !h.authorizer.CanAccessWorkflow(ctx, tenantID, cmd.WorkflowID) {
			respond(false, "", "workflow not accessible")
			return
		}
		h.bus.SubscribeWorkflow(c.id, cmd.WorkflowID, handler)
		respond(true, "subscribed to workflow "+cmd.WorkflowID, "")

	case CmdUnsubscribeFromWorkflow:
		h.bus.UnsubscribeWorkflow(c.id, cmd.WorkflowID)
		respond(true, "unsubscribed from workflow "+cmd.WorkflowID, "")

	default:
		respond(false, "", "unknown action "+cmd.Action)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
