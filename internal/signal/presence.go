package signal

import (
	"github.com/google/uuid"

	"github.com/peerdeck/peerdeck-server/internal/protocol"
)

// BroadcastPresence fans a machine_online or machine_offline event out to the owner's other registered machine
// channels. Browser channels never receive presence events; they poll via list_machines instead. The channel set is
// snapshotted under the lock and the sends happen outside it.
func (b *Broker) BroadcastPresence(machineID, name string, ownerID uuid.UUID, online bool, exclude *Client) {
	b.machineMu.Lock()
	targets := make([]*Client, 0, len(b.machineChannels))
	for _, c := range b.machineChannels {
		if c == exclude || c.UserID() != ownerID {
			continue
		}
		targets = append(targets, c)
	}
	b.machineMu.Unlock()

	msgType := protocol.TypeMachineOnline
	if !online {
		msgType = protocol.TypeMachineOffline
	}
	event := protocol.PresenceEvent{MachineID: machineID, Name: name}
	for _, c := range targets {
		c.Send(msgType, "", event)
	}
}
