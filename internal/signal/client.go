package signal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound frame. SDP bodies are the largest payloads and
	// stay well under this.
	maxMessageSize = 64 * 1024

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Custom WebSocket close codes. Standard codes (1000, 1001) are defined by RFC 6455; the 4000 range is reserved for
// application use.
const (
	CloseUnknownError     = 4000
	CloseHeartbeatTimeout = 4009
)

// Client represents a single control channel. Each client runs two goroutines (readPump and writePump) and
// communicates with the Hub via its send channel and callback methods.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	// Session state, protected by mu. Fields are written by message handlers and read by the Hub and Broker during
	// dispatch and routing.
	mu            sync.RWMutex
	authenticated bool
	userID        uuid.UUID
	machineID     uuid.UUID // uuid.Nil unless the channel registered a machine
	webClientID   string    // transient id, set when a browser channel initiates a connection
	lastHeartbeat time.Time

	// sendMu serialises enqueue against closeSend. Timer callbacks and presence fan-out can outlive the channel, so
	// sends after close are dropped rather than allowed to hit a closed channel.
	sendMu     sync.Mutex
	sendClosed bool
}

func newClient(hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 64),
		log:           logger,
		lastHeartbeat: time.Now(),
	}
}

// Authenticated returns whether the channel has completed authentication.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// UserID returns the authenticated user id, or uuid.Nil.
func (c *Client) UserID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// MachineID returns the attached machine id, or uuid.Nil for browser channels.
func (c *Client) MachineID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.machineID
}

// WebClientID returns the transient web-client id, or "" when none was minted.
func (c *Client) WebClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webClientID
}

// stableID returns the identity other participants know this channel by: the machine id when attached, otherwise the
// transient web-client id.
func (c *Client) stableID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.machineID != uuid.Nil {
		return c.machineID.String()
	}
	return c.webClientID
}

func (c *Client) setAuthenticated(userID uuid.UUID) {
	c.mu.Lock()
	c.authenticated = true
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) attachMachine(machineID uuid.UUID) {
	c.mu.Lock()
	c.machineID = machineID
	c.mu.Unlock()
}

func (c *Client) setWebClientID(id string) {
	c.mu.Lock()
	c.webClientID = id
	c.mu.Unlock()
}

func (c *Client) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Client) lastBeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// readPump reads frames from the WebSocket connection and hands them to the Hub dispatcher. It runs in its own
// goroutine and is responsible for triggering cleanup when the read loop exits. Inbound frames are processed in
// arrival order; handlers run synchronously so a single channel never pipelines.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Type == "" {
			// Malformed frames are answered, not fatal: the channel stays open.
			c.SendError("", protocol.CodeInvalidMessage, "frame must be a JSON object with a type field")
			continue
		}

		c.hub.dispatch(c, &frame)
	}
}

// writePump writes messages from the send channel to the WebSocket connection. It runs in its own goroutine and
// exits when the send channel is closed, serialising all writes to this peer.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

// Send marshals and enqueues a frame. Failures are logged and swallowed; the peer may be mid-close.
func (c *Client) Send(msgType, id string, payload any) {
	raw, err := protocol.Marshal(msgType, id, payload)
	if err != nil {
		c.log.Error().Err(err).Str("type", msgType).Msg("Failed to marshal outbound frame")
		return
	}
	c.enqueue(raw)
}

// SendError enqueues an error frame carrying the given correlation id and code.
func (c *Client) SendError(id, code, message string) {
	raw, err := protocol.MarshalError(id, code, message)
	if err != nil {
		c.log.Error().Err(err).Str("code", code).Msg("Failed to marshal error frame")
		return
	}
	c.enqueue(raw)
}

// enqueue sends a message to the client's write channel. Messages for a closed channel are dropped: pending-connection
// timers and presence broadcasts may still address a client after it disconnected. If the channel is full, the message
// is dropped and the connection is closed to prevent backpressure from stalling the Hub.
func (c *Client) enqueue(msg []byte) {
	c.sendMu.Lock()
	if c.sendClosed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.send <- msg:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		c.log.Warn().Msg("Client send buffer full, closing connection")
		c.hub.unregister(c)
		_ = c.conn.Close()
	}
}

// closeSend closes the send channel exactly once, terminating writePump. Later enqueues become no-ops.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// closeWithCode sends a WebSocket close frame with the given code and reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
