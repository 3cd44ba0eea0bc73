package gateway

import (
	"context"
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // max wait for activity after a ping
}

// DefaultHeartbeatConfig returns the default heartbeat policy.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches a background goroutine that periodically
// pings every connection and evicts the ones that have gone silent.
// The goroutine exits when the server's done channel closes.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections evicts connections without a successful read within
// Interval + Timeout and pings the rest. Surviving connections get
// their presence TTL refreshed, so an entry outlives PresenceTTL only
// if its socket is actually dead. The per-connection write mutex
// serializes the ping with concurrent fan-out writes.
func sweepConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		if now.Sub(c.lastActive()) > deadline {
			log.Printf("gateway: heartbeat timeout conn=%s user=%s last_activity=%s ago",
				c.ID, c.UserID, now.Sub(c.lastActive()).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("gateway: heartbeat ping failed conn=%s: %v", c.ID, err)
			server.RemoveConnection(c)
			continue
		}

		if server.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := server.presence.Touch(ctx, c.ID); err != nil {
				log.Printf("gateway: presence touch failed conn=%s: %v", c.ID, err)
			}
			cancel()
		}
	}
}
