// Package chat implements the room topology and the per-connection protocol
// state machine of the chat service.
//
// A Building owns uniquely named Rooms joined by symmetric doors. Every
// accepted stream becomes a Connection bound to the building's start room; a
// Handler gates its traffic until login and then routes it to the Connection
// and its current Room. Room membership is guarded by one lock per Room, and
// outbound messages are queued per Connection so that no lock is ever held
// across network I/O.
package chat

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNoRooms is returned when a start room is requested from an empty building.
	ErrNoRooms = errors.New("building has no rooms")
	// ErrUnknownRoom is returned when a room name does not exist in the building.
	ErrUnknownRoom = errors.New("unknown room")
)

// ConstructionError reports an attempt to build a room whose name is taken.
type ConstructionError struct {
	Room string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("room %s already part of building", e.Room)
}

// StartRoomSelector picks the name of the room a new connection starts in.
// It is called with the current room names, in creation order, for every
// new connection.
type StartRoomSelector func(rooms []string) string

// RandomStart picks uniformly among rooms.
func RandomStart(rooms []string) string {
	if len(rooms) == 0 {
		return ""
	}
	return rooms[rand.IntN(len(rooms))]
}

// FixedStart always picks the room called name.
func FixedStart(name string) StartRoomSelector {
	return func([]string) string { return name }
}

// Building is the registry of rooms.
type Building struct {
	log         zerolog.Logger
	selectStart StartRoomSelector

	mu    sync.RWMutex
	rooms map[string]*Room
	order []string
}

// NewBuilding creates an empty building. A nil selector means RandomStart.
func NewBuilding(logger zerolog.Logger, selector StartRoomSelector) *Building {
	if selector == nil {
		selector = RandomStart
	}
	return &Building{
		log:         logger.With().Str("component", "building").Logger(),
		selectStart: selector,
		rooms:       make(map[string]*Room),
	}
}

// BuildRoom creates and registers an empty room. It fails with a
// *ConstructionError if the name is already registered, leaving the existing
// room untouched.
func (b *Building) BuildRoom(name string) (*Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.rooms[name]; exists {
		return nil, &ConstructionError{Room: name}
	}

	room := newRoom(name, b.log)
	b.rooms[name] = room
	b.order = append(b.order, name)
	b.log.Debug().Str("room", name).Msg("room built")
	return room, nil
}

// RoomByName returns the room called name.
func (b *Building) RoomByName(name string) (*Room, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	room, ok := b.rooms[name]
	return room, ok
}

// Connect adds a door between the rooms called from and to.
func (b *Building) Connect(from, to string) error {
	a, ok := b.RoomByName(from)
	if !ok {
		return fmt.Errorf("connect %s: %w", from, ErrUnknownRoom)
	}
	c, ok := b.RoomByName(to)
	if !ok {
		return fmt.Errorf("connect %s: %w", to, ErrUnknownRoom)
	}
	a.AddDoor(c)
	return nil
}

// StartRoom runs the selector against the current rooms and returns its pick.
// The selector is not memoized.
func (b *Building) StartRoom() (*Room, error) {
	names := b.RoomNames()
	if len(names) == 0 {
		return nil, ErrNoRooms
	}

	name := b.selectStart(names)
	room, ok := b.RoomByName(name)
	if !ok {
		return nil, fmt.Errorf("start room %q: %w", name, ErrUnknownRoom)
	}
	return room, nil
}

// RoomNames returns the room names in creation order.
func (b *Building) RoomNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Clone(b.order)
}

// Rooms returns the rooms in creation order.
func (b *Building) Rooms() []*Room {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rooms := make([]*Room, 0, len(b.order))
	for _, name := range b.order {
		rooms = append(rooms, b.rooms[name])
	}
	return rooms
}
