// Package signal implements the control channel: the WebSocket hub that authenticates channels, manages the machine
// registry operations, and routes signaling traffic through the Broker.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/auth"
	"github.com/peerdeck/peerdeck-server/internal/config"
	"github.com/peerdeck/peerdeck-server/internal/machine"
	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

// dbTimeout bounds the database work done on behalf of a single inbound frame.
const dbTimeout = 10 * time.Second

// Hub is the control-channel connection registry. It owns the client set, dispatches inbound frames to handlers, and
// runs the heartbeat sweep that expires silent channels and stale machines.
type Hub struct {
	cfg      *config.Config
	auth     *auth.Service
	machines machine.Repository
	broker   *Broker
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates a control-channel hub.
func NewHub(cfg *config.Config, authSvc *auth.Service, machines machine.Repository, broker *Broker, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		auth:     authSvc,
		machines: machines,
		broker:   broker,
		log:      logger.With().Str("component", "signal").Logger(),
		clients:  make(map[*Client]struct{}),
	}
}

// ServeWebSocket initialises a client for an upgraded WebSocket connection and starts its read and write pumps. It
// blocks until the read pump exits, as the contrib websocket handler requires.
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	client := newClient(h, conn, h.log)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.closeWithCode(websocket.CloseGoingAway, "server shutting down")
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump()
	client.readPump()
}

// ClientCount returns the number of live control channels.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// unregister removes a client from the hub and tears down its registry state. A machine channel that is still current
// in the broker transitions its machine offline and fans out the presence change; a channel displaced by
// re-registration does neither, because the machine lives on.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	c.closeSend()
	h.broker.removeWebChannel(c.WebClientID())

	machineID := c.MachineID()
	if machineID == uuid.Nil {
		return
	}
	if !h.broker.UnregisterMachineChannel(machineID.String(), c) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	name := ""
	ownerID := c.UserID()
	if m, err := h.machines.GetByID(ctx, machineID); err == nil {
		name = m.Name
		ownerID = m.UserID
	}
	if err := h.machines.SetOnline(ctx, machineID, false); err != nil {
		h.log.Error().Err(err).Str("machine_id", machineID.String()).Msg("Failed to mark machine offline")
	}
	h.broker.BroadcastPresence(machineID.String(), name, ownerID, false, c)
}

// dispatch routes one inbound frame to its handler. Every message except auth and register_user requires an
// authenticated channel.
func (h *Hub) dispatch(c *Client, f *protocol.Frame) {
	switch f.Type {
	case protocol.TypeAuth:
		h.handleAuth(c, f)
	case protocol.TypeRegisterUser:
		h.handleRegisterUser(c, f)
	case protocol.TypeRegisterMachine:
		if h.requireAuth(c, f) {
			h.handleRegisterMachine(c, f)
		}
	case protocol.TypeHeartbeat:
		// Heartbeats are accepted pre-auth so a channel waiting on user input does not get swept.
		h.handleHeartbeat(c, f)
	case protocol.TypeListMachines:
		if h.requireAuth(c, f) {
			h.handleListMachines(c, f)
		}
	case protocol.TypeDeleteMachine:
		if h.requireAuth(c, f) {
			h.handleDeleteMachine(c, f)
		}
	case protocol.TypeRenameMachine:
		if h.requireAuth(c, f) {
			h.handleRenameMachine(c, f)
		}
	case protocol.TypeConnectToMachine:
		if h.requireAuth(c, f) {
			var p protocol.ConnectPayload
			if h.decode(c, f, &p) {
				ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
				defer cancel()
				h.broker.Connect(ctx, c, f.ID, p)
			}
		}
	case protocol.TypeConnectionAccepted:
		if h.requireAuth(c, f) {
			var p protocol.ConnectionDecisionPayload
			if h.decode(c, f, &p) {
				h.broker.Accept(c, f.ID, p)
			}
		}
	case protocol.TypeConnectionRejected:
		if h.requireAuth(c, f) {
			var p protocol.ConnectionDecisionPayload
			if h.decode(c, f, &p) {
				h.broker.Reject(c, f.ID, p)
			}
		}
	case protocol.TypeRTCOffer:
		if h.requireAuth(c, f) {
			var p protocol.SDPPayload
			if h.decode(c, f, &p) {
				h.broker.RelayOffer(c, f.ID, p)
			}
		}
	case protocol.TypeRTCAnswer:
		if h.requireAuth(c, f) {
			var p protocol.SDPPayload
			if h.decode(c, f, &p) {
				h.broker.RelayAnswer(c, f.ID, p)
			}
		}
	case protocol.TypeRTCICECandidate:
		if h.requireAuth(c, f) {
			var p protocol.ICECandidatePayload
			if h.decode(c, f, &p) {
				h.broker.RelayCandidate(c, p)
			}
		}
	default:
		c.SendError(f.ID, protocol.CodeUnknownMessage, "unknown message type: "+f.Type)
	}
}

// requireAuth rejects frames on unauthenticated channels.
func (h *Hub) requireAuth(c *Client, f *protocol.Frame) bool {
	if c.Authenticated() {
		return true
	}
	c.SendError(f.ID, protocol.CodeNotAuthenticated, "authenticate before sending "+f.Type)
	return false
}

// decode unmarshals the frame payload, answering INVALID_MESSAGE on failure.
func (h *Hub) decode(c *Client, f *protocol.Frame, dst any) bool {
	if len(f.Payload) == 0 {
		c.SendError(f.ID, protocol.CodeInvalidMessage, f.Type+" requires a payload")
		return false
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		c.SendError(f.ID, protocol.CodeInvalidMessage, "malformed "+f.Type+" payload")
		return false
	}
	return true
}

// handleAuth authenticates a channel by bearer token or by credentials. Failures are answered with auth_response
// success=false rather than an error frame, so clients have a single place to look for the outcome.
func (h *Hub) handleAuth(c *Client, f *protocol.Frame) {
	var p protocol.AuthPayload
	if !h.decode(c, f, &p) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if p.Token != "" {
		u, err := h.auth.UserFromToken(ctx, p.Token)
		if err != nil {
			c.Send(protocol.TypeAuthResponse, f.ID, protocol.AuthResponse{Success: false, Error: "invalid token"})
			return
		}
		c.setAuthenticated(u.ID)
		model := u.ToModel()
		c.Send(protocol.TypeAuthResponse, f.ID, protocol.AuthResponse{Success: true, User: &model, Token: p.Token})
		return
	}

	result, err := h.auth.Login(ctx, auth.LoginRequest{Email: p.Email, Password: p.Password})
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Error().Err(err).Msg("Channel login failed")
		}
		c.Send(protocol.TypeAuthResponse, f.ID, protocol.AuthResponse{Success: false, Error: "invalid credentials"})
		return
	}
	c.setAuthenticated(result.User.ID)
	model := result.User.ToModel()
	c.Send(protocol.TypeAuthResponse, f.ID, protocol.AuthResponse{Success: true, User: &model, Token: result.Token})
}

// handleRegisterUser creates an account over the control channel and leaves the channel authenticated as the new
// user, so a fresh install can register and immediately register its machine.
func (h *Hub) handleRegisterUser(c *Client, f *protocol.Frame) {
	var p protocol.RegisterUserPayload
	if !h.decode(c, f, &p) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	result, err := h.auth.Register(ctx, auth.RegisterRequest{Email: p.Email, Username: p.Username, Password: p.Password})
	if err != nil {
		msg := "registration failed"
		if auth.IsValidationError(err) || errors.Is(err, auth.ErrEmailAlreadyTaken) {
			msg = err.Error()
		} else {
			h.log.Error().Err(err).Msg("Channel registration failed")
		}
		c.Send(protocol.TypeRegisterUserResponse, f.ID, protocol.AuthResponse{Success: false, Error: msg})
		return
	}

	c.setAuthenticated(result.User.ID)
	model := result.User.ToModel()
	c.Send(protocol.TypeRegisterUserResponse, f.ID, protocol.AuthResponse{Success: true, User: &model, Token: result.Token})
}

// handleRegisterMachine upserts the machine, publishes its channel to the broker, and fans out machine_online. A
// channel re-registering under a new name keeps its previous broker entry pointing at itself, so the old id is
// unregistered first.
func (h *Hub) handleRegisterMachine(c *Client, f *protocol.Frame) {
	var p protocol.RegisterMachinePayload
	if !h.decode(c, f, &p) {
		return
	}
	if err := machine.ValidateName(p.Name); err != nil {
		c.SendError(f.ID, protocol.CodeRegistrationFailed, err.Error())
		return
	}
	if err := machine.ValidatePlatform(p.Platform); err != nil {
		c.SendError(f.ID, protocol.CodeRegistrationFailed, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	m, err := h.machines.Register(ctx, machine.RegisterParams{
		UserID:       c.UserID(),
		Name:         p.Name,
		Platform:     p.Platform,
		Capabilities: p.Capabilities,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Machine registration failed")
		c.SendError(f.ID, protocol.CodeRegistrationFailed, "could not register machine")
		return
	}

	if prev := c.MachineID(); prev != uuid.Nil && prev != m.ID {
		h.broker.UnregisterMachineChannel(prev.String(), c)
	}
	c.attachMachine(m.ID)
	h.broker.RegisterMachineChannel(m.ID.String(), c)

	h.log.Info().
		Str("machine_id", m.ID.String()).
		Str("name", m.Name).
		Str("platform", m.Platform).
		Msg("Machine registered")

	c.Send(protocol.TypeMachineRegistered, f.ID, protocol.MachineRegistered{MachineID: m.ID.String(), Name: m.Name})
	h.broker.BroadcastPresence(m.ID.String(), m.Name, m.UserID, true, c)
}

// handleHeartbeat refreshes the channel's liveness and, for machine channels, the machine's last_seen.
func (h *Hub) handleHeartbeat(c *Client, f *protocol.Frame) {
	c.touchHeartbeat()

	if machineID := c.MachineID(); machineID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		if err := h.machines.Heartbeat(ctx, machineID); err != nil {
			h.log.Error().Err(err).Str("machine_id", machineID.String()).Msg("Failed to persist heartbeat")
		}
	}

	c.Send(protocol.TypeHeartbeatAck, f.ID, nil)
}

// handleListMachines returns the authenticated user's machines.
func (h *Hub) handleListMachines(c *Client, f *protocol.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	machines, err := h.machines.ListOwned(ctx, c.UserID())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list machines")
		c.SendError(f.ID, protocol.CodeInvalidMessage, "could not list machines")
		return
	}

	infos := make([]protocol.MachineInfo, 0, len(machines))
	for i := range machines {
		infos = append(infos, machines[i].ToInfo(true))
	}
	c.Send(protocol.TypeMachinesList, f.ID, protocol.MachinesList{Machines: infos})
}

// handleDeleteMachine removes a machine owned by the authenticated user. Other channels are not notified.
func (h *Hub) handleDeleteMachine(c *Client, f *protocol.Frame) {
	var p protocol.MachineRefPayload
	if !h.decode(c, f, &p) {
		return
	}
	machineID, err := uuid.Parse(p.MachineID)
	if err != nil {
		c.SendError(f.ID, protocol.CodeInvalidMessage, "machineId must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	deleted, err := h.machines.Delete(ctx, c.UserID(), machineID)
	if err != nil {
		h.log.Error().Err(err).Str("machine_id", p.MachineID).Msg("Failed to delete machine")
		c.Send(protocol.TypeDeleteMachineResponse, f.ID, protocol.MachineMutationResponse{
			Success: false, MachineID: p.MachineID, Error: "could not delete machine",
		})
		return
	}
	if !deleted {
		c.Send(protocol.TypeDeleteMachineResponse, f.ID, protocol.MachineMutationResponse{
			Success: false, MachineID: p.MachineID, Error: "machine not found",
		})
		return
	}

	c.Send(protocol.TypeDeleteMachineResponse, f.ID, protocol.MachineMutationResponse{
		Success: true, MachineID: p.MachineID,
	})
}

// handleRenameMachine renames a machine owned by the authenticated user. Other channels are not notified.
func (h *Hub) handleRenameMachine(c *Client, f *protocol.Frame) {
	var p protocol.RenameMachinePayload
	if !h.decode(c, f, &p) {
		return
	}
	machineID, err := uuid.Parse(p.MachineID)
	if err != nil {
		c.SendError(f.ID, protocol.CodeInvalidMessage, "machineId must be a UUID")
		return
	}
	if err := machine.ValidateName(p.NewName); err != nil {
		c.Send(protocol.TypeRenameMachineResponse, f.ID, protocol.MachineMutationResponse{
			Success: false, MachineID: p.MachineID, Error: err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	renamed, err := h.machines.Rename(ctx, c.UserID(), machineID, p.NewName)
	if err != nil {
		h.log.Error().Err(err).Str("machine_id", p.MachineID).Msg("Failed to rename machine")
		c.Send(protocol.TypeRenameMachineResponse, f.ID, protocol.MachineMutationResponse{
			Success: false, MachineID: p.MachineID, Error: "could not rename machine",
		})
		return
	}
	if !renamed {
		c.Send(protocol.TypeRenameMachineResponse, f.ID, protocol.MachineMutationResponse{
			Success: false, MachineID: p.MachineID, Error: "machine not found",
		})
		return
	}

	c.Send(protocol.TypeRenameMachineResponse, f.ID, protocol.MachineMutationResponse{
		Success: true, MachineID: p.MachineID, Name: p.NewName,
	})
}

// Run drives the periodic heartbeat sweep: channels silent beyond the timeout are closed, and machines whose
// last_seen has gone stale (including rows orphaned by a crashed server) are flipped offline with presence fan-out.
// It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// sweep performs one heartbeat-expiry pass.
func (h *Hub) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-h.cfg.HeartbeatTimeout)

	h.mu.Lock()
	var expired []*Client
	for c := range h.clients {
		if c.lastBeat().Before(cutoff) {
			expired = append(expired, c)
		}
	}
	h.mu.Unlock()

	for _, c := range expired {
		h.log.Info().Str("client", c.stableID()).Msg("Closing channel after missed heartbeats")
		// Closing the connection makes readPump exit, which runs the full unregister path.
		c.closeWithCode(CloseHeartbeatTimeout, "heartbeat timeout")
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	stale, err := h.machines.SweepStale(dbCtx, h.cfg.HeartbeatTimeout)
	if err != nil {
		h.log.Error().Err(err).Msg("Stale machine sweep failed")
		return
	}
	for _, id := range stale {
		m, err := h.machines.GetByID(dbCtx, id)
		if err != nil {
			h.log.Warn().Err(err).Str("machine_id", id.String()).Msg("Swept machine lookup failed, skipping fan-out")
			continue
		}
		h.broker.BroadcastPresence(id.String(), m.Name, m.UserID, false, nil)
	}
}

// Shutdown closes every live channel with a going-away frame. New connections are refused afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
}
