// Package protocol defines the control-channel wire format: a JSON frame envelope, the message type catalogue, and
// the payload shapes exchanged between clients and the server. Timestamps are ISO-8601 strings.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is the envelope for every control-channel message. The optional ID correlates a request with its response;
// broadcasts carry no ID.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client → server message types.
const (
	TypeAuth               = "auth"
	TypeRegisterUser       = "register_user"
	TypeRegisterMachine    = "register_machine"
	TypeHeartbeat          = "heartbeat"
	TypeListMachines       = "list_machines"
	TypeDeleteMachine      = "delete_machine"
	TypeRenameMachine      = "rename_machine"
	TypeConnectToMachine   = "connect_to_machine"
	TypeConnectionAccepted = "connection_accepted"
	TypeConnectionRejected = "connection_rejected"
	TypeRTCOffer           = "rtc_offer"
	TypeRTCAnswer          = "rtc_answer"
	TypeRTCICECandidate    = "rtc_ice_candidate"
)

// Server → client message types. The signaling types (connection_accepted, connection_rejected, rtc_*) are reused in
// both directions.
const (
	TypeAuthResponse          = "auth_response"
	TypeRegisterUserResponse  = "register_user_response"
	TypeMachineRegistered     = "machine_registered"
	TypeHeartbeatAck          = "heartbeat_ack"
	TypeMachinesList          = "machines_list"
	TypeDeleteMachineResponse = "delete_machine_response"
	TypeRenameMachineResponse = "rename_machine_response"
	TypeConnectionRequest     = "connection_request"
	TypeMachineOnline         = "machine_online"
	TypeMachineOffline        = "machine_offline"
	TypeError                 = "error"
)

// Error codes carried in an error frame.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnknownMessage     = "UNKNOWN_MESSAGE"
	CodeNotAuthenticated   = "NOT_AUTHENTICATED"
	CodeRegistrationFailed = "REGISTRATION_FAILED"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeMachineOffline     = "MACHINE_OFFLINE"
	CodeConnectionNotFound = "CONNECTION_NOT_FOUND"
	CodeInvalidConnection  = "INVALID_CONNECTION"
	CodeConnectionTimeout  = "CONNECTION_TIMEOUT"
)

// User is the client-visible view of an account. It never carries the password digest.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Capabilities describes the tooling available on a machine.
type Capabilities struct {
	HasGit    bool `json:"hasGit"`
	HasNode   bool `json:"hasNode"`
	HasRust   bool `json:"hasRust"`
	HasPython bool `json:"hasPython"`
}

// MachineInfo is the list-view of a registered machine.
type MachineInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Platform     string       `json:"platform"`
	IsOnline     bool         `json:"isOnline"`
	IsOwn        bool         `json:"isOwn"`
	LastSeen     time.Time    `json:"lastSeen"`
	Capabilities Capabilities `json:"capabilities"`
}

// AuthPayload authenticates a channel, either by bearer token or by credentials.
type AuthPayload struct {
	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// AuthResponse answers both the auth and register_user messages.
type AuthResponse struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterUserPayload creates a new account over the control channel.
type RegisterUserPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterMachinePayload upserts a machine owned by the authenticated user.
type RegisterMachinePayload struct {
	Name         string       `json:"name"`
	Platform     string       `json:"platform"`
	Capabilities Capabilities `json:"capabilities"`
}

// MachineRegistered confirms a register_machine request.
type MachineRegistered struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name"`
}

// MachinesList answers list_machines.
type MachinesList struct {
	Machines []MachineInfo `json:"machines"`
}

// MachineRefPayload targets a machine by id (delete_machine).
type MachineRefPayload struct {
	MachineID string `json:"machineId"`
}

// RenameMachinePayload renames a machine owned by the authenticated user.
type RenameMachinePayload struct {
	MachineID string `json:"machineId"`
	NewName   string `json:"newName"`
}

// MachineMutationResponse answers delete_machine and rename_machine.
type MachineMutationResponse struct {
	Success   bool   `json:"success"`
	MachineID string `json:"machineId"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ConnectPayload initiates a signaling session against a registered machine.
type ConnectPayload struct {
	TargetMachineID string `json:"targetMachineId"`
}

// ConnectionRequest is delivered to the target machine when a session is initiated.
type ConnectionRequest struct {
	FromMachineID   string `json:"fromMachineId"`
	FromMachineName string `json:"fromMachineName"`
	ConnectionID    string `json:"connectionId"`
}

// ConnectionDecisionPayload carries the target's accept/reject for a pending connection. Reason is only meaningful on
// rejection.
type ConnectionDecisionPayload struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

// ConnectionAccepted notifies the originator that the target accepted.
type ConnectionAccepted struct {
	ConnectionID    string `json:"connectionId"`
	TargetMachineID string `json:"targetMachineId"`
}

// ConnectionRejected notifies the originator that the target rejected.
type ConnectionRejected struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

// SDPPayload carries an rtc_offer or rtc_answer. On forwarding, TargetMachineID is rewritten to the sender's stable
// id so the receiver knows where to direct its reply.
type SDPPayload struct {
	ConnectionID    string `json:"connectionId"`
	TargetMachineID string `json:"targetMachineId"`
	SDP             string `json:"sdp"`
}

// ICECandidatePayload carries a trickled rtc_ice_candidate. The candidate body is relayed opaquely.
type ICECandidatePayload struct {
	ConnectionID    string          `json:"connectionId"`
	TargetMachineID string          `json:"targetMachineId"`
	Candidate       json.RawMessage `json:"candidate"`
}

// PresenceEvent is broadcast as machine_online or machine_offline to the owner's other live machine channels.
type PresenceEvent struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Marshal builds a serialised frame of the given type, correlation id, and payload. A nil payload produces a frame
// without a payload field.
func Marshal(msgType, id string, payload any) ([]byte, error) {
	f := Frame{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

// MarshalError builds a serialised error frame.
func MarshalError(id, code, message string) ([]byte, error) {
	return Marshal(TypeError, id, ErrorPayload{Code: code, Message: message})
}
