package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/machine"
	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

// webClientName is the display name used for browser originators, which have no registered machine.
const webClientName = "Web Client"

// pendingConnection is the bookkeeping for one in-flight signaling session. The originator's channel is held
// strongly; the target is resolved through the live registry at every step, never cached.
type pendingConnection struct {
	id           string
	fromClientID string // originator's stable id: machine id, or transient web-client id
	fromChannel  *Client
	toMachineID  string
	createdAt    time.Time
	timer        *time.Timer
}

// Broker owns the signaling registries and the pending-connection state machine. It routes connection requests,
// decisions, and SDP/ICE frames between participants. Each table has its own mutex (the web-client counter shares
// the web table's); no lock is ever held across a channel write.
type Broker struct {
	machines       machine.Repository
	connectTimeout time.Duration
	log            zerolog.Logger

	machineMu       sync.Mutex
	machineChannels map[string]*Client // machine id → live channel

	webMu       sync.Mutex
	webChannels map[string]*Client // transient web-client id → live channel
	webCounter  int

	pendingMu sync.Mutex
	pending   map[string]*pendingConnection // connection id → session
}

// NewBroker creates a signaling broker.
func NewBroker(machines machine.Repository, connectTimeout time.Duration, logger zerolog.Logger) *Broker {
	return &Broker{
		machines:        machines,
		connectTimeout:  connectTimeout,
		log:             logger.With().Str("component", "broker").Logger(),
		machineChannels: make(map[string]*Client),
		webChannels:     make(map[string]*Client),
		pending:         make(map[string]*pendingConnection),
	}
}

// RegisterMachineChannel publishes a machine's live channel, replacing any prior entry. A displaced channel stays
// open until its own close fires but stops receiving routed frames.
func (b *Broker) RegisterMachineChannel(machineID string, c *Client) {
	b.machineMu.Lock()
	b.machineChannels[machineID] = c
	b.machineMu.Unlock()
}

// UnregisterMachineChannel removes the machine's entry, but only if it still points at the given channel, so that a
// re-registered machine is not torn down by its predecessor's close handler. It reports whether the entry was removed;
// a false return means the machine lives on through a newer channel and must not be marked offline.
func (b *Broker) UnregisterMachineChannel(machineID string, c *Client) bool {
	b.machineMu.Lock()
	defer b.machineMu.Unlock()
	if current, ok := b.machineChannels[machineID]; ok && current == c {
		delete(b.machineChannels, machineID)
		return true
	}
	return false
}

// machineChannel looks up a machine's live channel.
func (b *Broker) machineChannel(machineID string) (*Client, bool) {
	b.machineMu.Lock()
	defer b.machineMu.Unlock()
	c, ok := b.machineChannels[machineID]
	return c, ok
}

// anyChannel resolves an id through both tables, machines first.
func (b *Broker) anyChannel(id string) (*Client, bool) {
	if c, ok := b.machineChannel(id); ok {
		return c, true
	}
	b.webMu.Lock()
	defer b.webMu.Unlock()
	c, ok := b.webChannels[id]
	return c, ok
}

// mintWebClientID assigns the next transient web-client id and registers the channel under it.
func (b *Broker) mintWebClientID(c *Client) string {
	b.webMu.Lock()
	b.webCounter++
	id := fmt.Sprintf("web-client-%d", b.webCounter)
	b.webChannels[id] = c
	b.webMu.Unlock()
	return id
}

// removeWebChannel deletes a transient web-client entry, if present.
func (b *Broker) removeWebChannel(id string) {
	if id == "" {
		return
	}
	b.webMu.Lock()
	delete(b.webChannels, id)
	b.webMu.Unlock()
}

// Connect handles connect_to_machine: authorization, target liveness, originator identity, pending creation, and the
// request delivery to the target. The caller has already verified the channel is authenticated.
func (b *Broker) Connect(ctx context.Context, sender *Client, reqID string, p protocol.ConnectPayload) {
	targetID, err := uuid.Parse(p.TargetMachineID)
	if err != nil {
		sender.SendError(reqID, protocol.CodeInvalidMessage, "targetMachineId must be a UUID")
		return
	}

	allowed, err := b.machines.CanAccess(ctx, sender.UserID(), targetID)
	if err != nil {
		b.log.Error().Err(err).Msg("Access check failed")
		sender.SendError(reqID, protocol.CodeAccessDenied, "access check failed")
		return
	}
	if !allowed {
		sender.SendError(reqID, protocol.CodeAccessDenied, "you do not have access to this machine")
		return
	}

	target, ok := b.machineChannel(p.TargetMachineID)
	if !ok {
		sender.SendError(reqID, protocol.CodeMachineOffline, "target machine is not connected")
		return
	}

	// Derive the originator's stable id and display name. Machine channels use their machine identity; browser
	// channels get a fresh transient id per initiation.
	var fromID, fromName string
	if mid := sender.MachineID(); mid != uuid.Nil {
		fromID = mid.String()
		fromName = "Unknown"
		if m, err := b.machines.GetByID(ctx, mid); err == nil {
			fromName = m.Name
		}
	} else {
		fromID = b.mintWebClientID(sender)
		sender.setWebClientID(fromID)
		fromName = webClientName
	}

	pending := &pendingConnection{
		id:           uuid.NewString(),
		fromClientID: fromID,
		fromChannel:  sender,
		toMachineID:  p.TargetMachineID,
		createdAt:    time.Now(),
	}
	pending.timer = time.AfterFunc(b.connectTimeout, func() { b.expirePending(pending.id) })

	b.pendingMu.Lock()
	b.pending[pending.id] = pending
	b.pendingMu.Unlock()

	b.log.Debug().
		Str("connection_id", pending.id).
		Str("from", fromID).
		Str("to", p.TargetMachineID).
		Msg("Connection requested")

	target.Send(protocol.TypeConnectionRequest, "", protocol.ConnectionRequest{
		FromMachineID:   fromID,
		FromMachineName: fromName,
		ConnectionID:    pending.id,
	})
}

// expirePending fires when a pending connection outlives the decision window. If the session is still open it is
// deleted, any transient web-client entry is dropped, and the originator is told.
func (b *Broker) expirePending(connectionID string) {
	b.pendingMu.Lock()
	pending, ok := b.pending[connectionID]
	if ok {
		delete(b.pending, connectionID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return
	}

	if pending.fromChannel.MachineID() == uuid.Nil {
		b.removeWebChannel(pending.fromClientID)
	}

	b.log.Debug().Str("connection_id", connectionID).Msg("Pending connection timed out")
	pending.fromChannel.SendError("", protocol.CodeConnectionTimeout, "the machine did not respond")
}

// deletePending removes and returns a pending session, stopping its timer.
func (b *Broker) deletePending(connectionID string) (*pendingConnection, bool) {
	b.pendingMu.Lock()
	pending, ok := b.pending[connectionID]
	if ok {
		delete(b.pending, connectionID)
	}
	b.pendingMu.Unlock()
	if ok {
		pending.timer.Stop()
	}
	return pending, ok
}

// getPending returns a pending session without removing it.
func (b *Broker) getPending(connectionID string) (*pendingConnection, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	pending, ok := b.pending[connectionID]
	return pending, ok
}

// Accept handles connection_accepted from the target machine. The pending entry is retained so that subsequent
// SDP/ICE frames can be validated against it.
func (b *Broker) Accept(sender *Client, reqID string, p protocol.ConnectionDecisionPayload) {
	pending, ok := b.getPending(p.ConnectionID)
	if !ok {
		sender.SendError(reqID, protocol.CodeConnectionNotFound, "no pending connection with this id")
		return
	}
	if sender.MachineID().String() != pending.toMachineID {
		sender.SendError(reqID, protocol.CodeInvalidConnection, "only the target machine may accept")
		return
	}

	pending.fromChannel.Send(protocol.TypeConnectionAccepted, "", protocol.ConnectionAccepted{
		ConnectionID:    pending.id,
		TargetMachineID: pending.toMachineID,
	})
}

// Reject handles connection_rejected from the target machine. A mismatched sender is silently dropped.
func (b *Broker) Reject(sender *Client, reqID string, p protocol.ConnectionDecisionPayload) {
	pending, ok := b.getPending(p.ConnectionID)
	if !ok {
		sender.SendError(reqID, protocol.CodeConnectionNotFound, "no pending connection with this id")
		return
	}
	if sender.MachineID().String() != pending.toMachineID {
		return
	}

	b.deletePending(pending.id)
	if pending.fromChannel.MachineID() == uuid.Nil {
		b.removeWebChannel(pending.fromClientID)
	}

	pending.fromChannel.Send(protocol.TypeConnectionRejected, "", protocol.ConnectionRejected{
		ConnectionID: pending.id,
		Reason:       p.Reason,
	})
}

// isParticipant reports whether the sender belongs to the pending session: the originator (by channel reference or by
// stable id) or the target machine.
func (p *pendingConnection) isParticipant(sender *Client) bool {
	if sender == p.fromChannel || sender.stableID() == p.fromClientID {
		return true
	}
	return sender.MachineID() != uuid.Nil && sender.MachineID().String() == p.toMachineID
}

// RelayOffer forwards rtc_offer to the machine named in the payload. Offers are always directed at a machine, so
// only the machine table is consulted. The outbound targetMachineId is rewritten to the sender's stable id so the
// callee knows where to direct its answer.
func (b *Broker) RelayOffer(sender *Client, reqID string, p protocol.SDPPayload) {
	pending, ok := b.getPending(p.ConnectionID)
	if !ok {
		sender.SendError(reqID, protocol.CodeConnectionNotFound, "no pending connection with this id")
		return
	}
	if !pending.isParticipant(sender) {
		sender.SendError(reqID, protocol.CodeInvalidConnection, "not a participant of this connection")
		return
	}

	target, ok := b.machineChannel(p.TargetMachineID)
	if !ok {
		sender.SendError(reqID, protocol.CodeMachineOffline, "target machine is not connected")
		return
	}

	replyTo := sender.stableID()
	if replyTo == "" {
		replyTo = pending.fromClientID
	}
	target.Send(protocol.TypeRTCOffer, "", protocol.SDPPayload{
		ConnectionID:    p.ConnectionID,
		TargetMachineID: replyTo,
		SDP:             p.SDP,
	})
}

// RelayAnswer forwards rtc_answer to either table, completes the handshake, and tears down the pending session. The
// answerer is always a machine, so the rewritten id falls back to the pending target when the sender is not attached.
func (b *Broker) RelayAnswer(sender *Client, reqID string, p protocol.SDPPayload) {
	pending, ok := b.getPending(p.ConnectionID)
	if !ok {
		sender.SendError(reqID, protocol.CodeConnectionNotFound, "no pending connection with this id")
		return
	}

	target, ok := b.anyChannel(p.TargetMachineID)
	if !ok {
		sender.SendError(reqID, protocol.CodeMachineOffline, "target is not connected")
		return
	}

	replyTo := pending.toMachineID
	if mid := sender.MachineID(); mid != uuid.Nil {
		replyTo = mid.String()
	}
	target.Send(protocol.TypeRTCAnswer, "", protocol.SDPPayload{
		ConnectionID:    p.ConnectionID,
		TargetMachineID: replyTo,
		SDP:             p.SDP,
	})

	b.deletePending(pending.id)
	if pending.fromChannel.MachineID() == uuid.Nil {
		b.removeWebChannel(pending.fromClientID)
	}
	b.log.Debug().Str("connection_id", pending.id).Msg("Handshake complete")
}

// RelayCandidate forwards rtc_ice_candidate best-effort. Candidates can trickle after the pending session is gone,
// so a missing session is not an error and an offline target is silently dropped.
func (b *Broker) RelayCandidate(sender *Client, p protocol.ICECandidatePayload) {
	replyTo := sender.stableID()
	if replyTo == "" {
		if pending, ok := b.getPending(p.ConnectionID); ok {
			replyTo = pending.fromClientID
		}
	}

	target, ok := b.anyChannel(p.TargetMachineID)
	if !ok {
		return
	}

	target.Send(protocol.TypeRTCICECandidate, "", protocol.ICECandidatePayload{
		ConnectionID:    p.ConnectionID,
		TargetMachineID: replyTo,
		Candidate:       p.Candidate,
	})
}

// PendingCount returns the number of in-flight signaling sessions.
func (b *Broker) PendingCount() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// WebChannelCount returns the number of registered transient web-client entries.
func (b *Broker) WebChannelCount() int {
	b.webMu.Lock()
	defer b.webMu.Unlock()
	return len(b.webChannels)
}
