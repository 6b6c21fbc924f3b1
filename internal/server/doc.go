// Package server runs the chat service: the TCP accept loop with one worker
// per connection, the liveness monitor, and the admin HTTP surface serving
// health, room snapshots, Prometheus metrics and a WebSocket transport for
// the same line protocol.
//
// Configuration comes from the environment (see NewConfigFromEnv) and every
// component logs through the zerolog logger built by NewLogger.
package server
