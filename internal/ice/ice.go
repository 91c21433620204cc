// Package ice assembles the ICE server list clients use for NAT traversal. The server itself never speaks STUN or
// TURN; it only hands out the endpoints.
package ice

import "github.com/peerdeck/peerdeck-server/internal/config"

// Server is one entry in the iceServers list, matching the RTCIceServer shape browsers expect.
type Server struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Servers builds the ICE server list from configuration. TURN entries are omitted entirely when no credential is
// configured, since an unauthenticated TURN URL is useless to clients.
func Servers(cfg *config.Config) []Server {
	servers := make([]Server, 0, len(cfg.STUNServers)+3)
	for _, url := range cfg.STUNServers {
		servers = append(servers, Server{URLs: url})
	}

	if cfg.TURNCredential == "" {
		return servers
	}
	for _, url := range []string{cfg.TURNURL, cfg.TURNTCPURL, cfg.TURNSURL} {
		if url == "" {
			continue
		}
		servers = append(servers, Server{
			URLs:       url,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}
	return servers
}
