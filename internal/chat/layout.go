package chat

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Layout describes a building: its rooms, the doors between them, and an
// optional fixed start room. Without a start room new connections start in a
// random room.
//
//	start: lobby
//	rooms: [lobby, kitchen]
//	doors:
//	  - [lobby, kitchen]
type Layout struct {
	Start string     `yaml:"start"`
	Rooms []string   `yaml:"rooms"`
	Doors [][]string `yaml:"doors"`
}

// DefaultLayout is the demo building used when no layout file is configured.
func DefaultLayout() Layout {
	return Layout{
		Start: "lobby",
		Rooms: []string{"lobby", "kitchen", "balcony", "living_room", "toilet"},
		Doors: [][]string{
			{"lobby", "living_room"},
			{"living_room", "toilet"},
			{"living_room", "kitchen"},
			{"kitchen", "balcony"},
			{"balcony", "living_room"},
		},
	}
}

// LoadLayout reads a YAML layout file.
func LoadLayout(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes a YAML layout.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("parse layout: %w", err)
	}
	return l, nil
}

// Build constructs the building the layout describes.
func (l Layout) Build(logger zerolog.Logger) (*Building, error) {
	var selector StartRoomSelector
	if l.Start != "" {
		selector = FixedStart(l.Start)
	}

	b := NewBuilding(logger, selector)
	for _, name := range l.Rooms {
		if _, err := b.BuildRoom(name); err != nil {
			return nil, err
		}
	}

	for _, door := range l.Doors {
		if len(door) != 2 {
			return nil, fmt.Errorf("door %v: want exactly two rooms", door)
		}
		if err := b.Connect(door[0], door[1]); err != nil {
			return nil, err
		}
	}

	if l.Start != "" {
		if _, ok := b.RoomByName(l.Start); !ok {
			return nil, fmt.Errorf("start room %q: %w", l.Start, ErrUnknownRoom)
		}
	}
	return b, nil
}
