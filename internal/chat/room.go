package chat

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Room holds the live membership of one location and its doors. The mutex
// guards both; messages are only queued while it is held, never written.
type Room struct {
	name string
	log  zerolog.Logger

	mu      sync.RWMutex
	doors   []*Room
	members map[string]*Connection
}

func newRoom(name string, logger zerolog.Logger) *Room {
	return &Room{
		name:    name,
		log:     logger.With().Str("component", "room").Str("room", name).Logger(),
		members: make(map[string]*Connection),
	}
}

// Name returns the room's name, unique within its building.
func (r *Room) Name() string {
	return r.name
}

func (r *Room) String() string {
	return r.name
}

// AddDoor links r and other in both directions. Linking a room to itself or
// linking twice does nothing.
func (r *Room) AddDoor(other *Room) {
	if other == nil || other == r {
		return
	}

	// Lock in name order so concurrent AddDoor(a, b) and AddDoor(b, a) cannot deadlock.
	first, second := r, other
	if second.name < first.name {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if slices.Contains(r.doors, other) {
		return
	}
	r.doors = append(r.doors, other)
	other.doors = append(other.doors, r)
}

// Doors returns the names of the adjoining rooms.
func (r *Room) Doors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.doors))
	for _, door := range r.doors {
		names = append(names, door.name)
	}
	return names
}

// FindDoor returns the adjoining room called name, or nil.
func (r *Room) FindDoor(name string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, door := range r.doors {
		if door.name == name {
			return door
		}
	}
	return nil
}

// AddConnection admits c under its user name. A different connection already
// holding that name here is evicted with a Kick. Existing members are told
// about the entrant with EnterRoom, and the entrant gets an EnteredRoom
// snapshot that includes itself. A closed connection is not admitted.
func (r *Room) AddConnection(c *Connection) bool {
	name := c.UserName()

	r.mu.Lock()
	if c.Closed() {
		r.mu.Unlock()
		return false
	}

	var failed []*Connection
	evicted, exists := r.members[name]
	if exists && evicted != c {
		delete(r.members, name)
		failed = append(failed, r.broadcastLocked(protocol.NewLeftRoom(name, ""), nil)...)
	} else {
		evicted = nil
	}

	failed = append(failed, r.broadcastLocked(protocol.EnterRoom{UserName: name}, c)...)
	r.members[name] = c
	users := r.memberNamesLocked()
	// The snapshot is queued before anything else the room sends c.
	if !c.Send(protocol.EnteredRoom{RoomName: r.name, Users: users}) {
		failed = append(failed, c)
	}
	r.mu.Unlock()

	if evicted != nil {
		r.log.Info().Str("user", name).Str("evicted", evicted.String()).Msg("user re-entered room")
		metrics.Kicks.WithLabelValues("reentered").Inc()
		evicted.Kick(fmt.Sprintf("Logged out because you're entering room '%s' again!", r.name))
	}

	r.drop(failed)
	r.log.Debug().Str("user", name).Int("members", len(users)).Msg("connection added")
	return true
}

// RemoveConnection deletes c from the membership and tells the remaining
// members with LeftRoom. toRoom names the destination when c walked through
// a door and is empty otherwise. It reports whether c was a member; removing
// a non-member broadcasts nothing.
func (r *Room) RemoveConnection(c *Connection, toRoom string) bool {
	name := c.UserName()

	r.mu.Lock()
	if current, ok := r.members[name]; !ok || current != c {
		r.mu.Unlock()
		return false
	}
	delete(r.members, name)
	failed := r.broadcastLocked(protocol.NewLeftRoom(name, toRoom), nil)
	r.mu.Unlock()

	r.drop(failed)
	r.log.Debug().Str("user", name).Str("to", toRoom).Msg("connection removed")
	return true
}

// Has reports whether c is a member.
func (r *Room) Has(c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.members[c.UserName()] == c
}

// Len returns the number of members.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

// Members returns the members' user names, sorted.
func (r *Room) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.memberNamesLocked()
}

// Connections returns a snapshot of the member connections.
func (r *Room) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Collect(maps.Values(r.members))
}

// Broadcast queues m for every member.
func (r *Room) Broadcast(m protocol.Message) {
	r.mu.RLock()
	failed := r.broadcastLocked(m, nil)
	r.mu.RUnlock()

	r.drop(failed)
}

// Process handles the room-level messages of a member: Public, ListDoors and Go.
func (r *Room) Process(c *Connection, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Public:
		r.publish(c, m.Text)
	case protocol.ListDoors:
		c.Send(protocol.ListedDoors{Doors: r.Doors()})
	case protocol.Go:
		if c.Move(m.RoomName) {
			metrics.RoomMoves.WithLabelValues("moved").Inc()
			return
		}
		metrics.RoomMoves.WithLabelValues("refused").Inc()
		r.log.Debug().Str("user", c.UserName()).Str("to", m.RoomName).Msg("couldn't move to this room")
	default:
		r.log.Warn().Str("kind", string(msg.Kind())).Msg("didn't expect message")
	}
}

func (r *Room) publish(c *Connection, text string) {
	name := c.UserName()

	r.mu.RLock()
	if r.members[name] != c {
		r.mu.RUnlock()
		r.log.Debug().Str("user", name).Msg("ignoring public message from non-member")
		return
	}
	failed := r.broadcastLocked(protocol.PublicBroadcast{UserName: name, Text: text}, nil)
	r.mu.RUnlock()

	metrics.Broadcasts.Inc()
	r.drop(failed)
}

// broadcastLocked queues m for every member except skip and returns the
// members whose queue rejected it. r.mu must be held.
func (r *Room) broadcastLocked(m protocol.Message, skip *Connection) []*Connection {
	var failed []*Connection
	for _, member := range r.members {
		if member == skip {
			continue
		}
		if !member.Send(m) {
			failed = append(failed, member)
		}
	}
	return failed
}

func (r *Room) memberNamesLocked() []string {
	return slices.Sorted(maps.Keys(r.members))
}

// drop closes members that could not take a message. It must be called
// without r.mu held, since closing removes the connection from its room.
func (r *Room) drop(failed []*Connection) {
	for _, c := range failed {
		if c.Closed() {
			continue
		}
		metrics.DroppedConnections.Inc()
		r.log.Warn().Str("user", c.UserName()).Str("conn", c.String()).Msg("closing connection with full send queue")
		c.Close()
	}
}
