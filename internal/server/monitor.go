package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Monitor probes idle room members with KeepAlive. It never closes a
// connection for being idle.
type Monitor struct {
	building  *chat.Building
	interval  time.Duration
	threshold time.Duration
	log       zerolog.Logger
}

// NewMonitor returns a monitor that sweeps building every interval and
// probes members silent for longer than threshold.
func NewMonitor(building *chat.Building, interval, threshold time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		building:  building,
		interval:  interval,
		threshold: threshold,
		log:       logger.With().Str("component", "monitor").Logger(),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep sends one KeepAlive to every room member idle for longer than the
// threshold at now and returns how many were sent.
func (m *Monitor) Sweep(now time.Time) int {
	sent := 0
	for _, room := range m.building.Rooms() {
		for _, conn := range room.Connections() {
			if conn.IdleFor(now) <= m.threshold {
				continue
			}
			if !conn.Send(protocol.KeepAlive{}) {
				if !conn.Closed() {
					metrics.DroppedConnections.Inc()
					m.log.Warn().Str("conn_id", conn.ID()).Msg("closing connection with full send queue")
					conn.Close()
				}
				continue
			}
			sent++
			metrics.KeepAlivesSent.Inc()
			m.log.Debug().Str("room", room.Name()).Str("user", conn.UserName()).Msg("sent keepalive")
		}
	}
	return sent
}
