package chat_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

func TestDefaultLayoutBuild(t *testing.T) {
	b, err := chat.DefaultLayout().Build(testhelpers.Logger())
	require.NoError(t, err)

	assert.Equal(t, []string{"lobby", "kitchen", "balcony", "living_room", "toilet"}, b.RoomNames())

	living, ok := b.RoomByName("living_room")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"lobby", "toilet", "kitchen", "balcony"}, living.Doors())

	for range 10 {
		start, err := b.StartRoom()
		require.NoError(t, err)
		assert.Equal(t, "lobby", start.Name())
	}
}

func TestLoadLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "building.yaml")
	data := []byte(`
rooms: [hall, cellar, attic]
doors:
  - [hall, cellar]
  - [hall, attic]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	layout, err := chat.LoadLayout(path)
	require.NoError(t, err)
	assert.Empty(t, layout.Start)

	b, err := layout.Build(testhelpers.Logger())
	require.NoError(t, err)

	hall, ok := b.RoomByName("hall")
	require.True(t, ok)
	assert.Equal(t, []string{"cellar", "attic"}, hall.Doors())

	start, err := b.StartRoom()
	require.NoError(t, err)
	assert.Contains(t, []string{"hall", "cellar", "attic"}, start.Name())
}

func TestLayoutBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		layout chat.Layout
		check  func(t *testing.T, err error)
	}{
		{
			name:   "duplicate room",
			layout: chat.Layout{Rooms: []string{"hall", "hall"}},
			check: func(t *testing.T, err error) {
				var constructionErr *chat.ConstructionError
				assert.ErrorAs(t, err, &constructionErr)
			},
		},
		{
			name:   "door to unknown room",
			layout: chat.Layout{Rooms: []string{"hall"}, Doors: [][]string{{"hall", "attic"}}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, chat.ErrUnknownRoom)
			},
		},
		{
			name:   "door with three ends",
			layout: chat.Layout{Rooms: []string{"a", "b", "c"}, Doors: [][]string{{"a", "b", "c"}}},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "exactly two rooms")
			},
		},
		{
			name:   "unknown start room",
			layout: chat.Layout{Start: "attic", Rooms: []string{"hall"}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, chat.ErrUnknownRoom)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.layout.Build(testhelpers.Logger())
			require.Error(t, err)
			assert.Nil(t, b)
			tt.check(t, err)
		})
	}
}

func TestParseLayoutInvalid(t *testing.T) {
	_, err := chat.ParseLayout([]byte("rooms: {not: [a list"))
	assert.Error(t, err)

	_, err = chat.LoadLayout(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
