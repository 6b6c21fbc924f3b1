package chat_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

const quiet = 100 * time.Millisecond

var users = map[string]string{
	"alice": "wonderland",
	"bob":   "builder",
	"carol": "singer",
}

type session struct {
	conn *chat.Connection
	peer *testhelpers.Peer
	done chan error
}

// newBuilding returns lobby and kitchen joined by a door, starting in lobby.
func newBuilding(t *testing.T) *chat.Building {
	t.Helper()
	b := chat.NewBuilding(testhelpers.Logger(), chat.FixedStart("lobby"))
	_, err := b.BuildRoom("lobby")
	require.NoError(t, err)
	_, err = b.BuildRoom("kitchen")
	require.NoError(t, err)
	require.NoError(t, b.Connect("lobby", "kitchen"))
	return b
}

func connect(t *testing.T, b *chat.Building, opts chat.ConnectionOptions) *session {
	t.Helper()
	stream, peer := testhelpers.Pipe(t)
	room, err := b.StartRoom()
	require.NoError(t, err)

	opts.Logger = testhelpers.Logger()
	conn := chat.NewConnection(stream, room, opts)
	handler := chat.NewHandler(conn, testhelpers.Credentials(users), testhelpers.Logger())

	s := &session{conn: conn, peer: peer, done: make(chan error, 1)}
	go func() { s.done <- handler.Serve(context.Background()) }()

	t.Cleanup(func() {
		peer.Close()
		conn.Close()
		conn.Wait()
	})
	return s
}

// login logs in and returns the EnteredRoom snapshot.
func (s *session) login(t *testing.T, name string) protocol.EnteredRoom {
	t.Helper()
	s.peer.Send(t, protocol.Login{UserName: name, Password: users[name]})
	testhelpers.Expect[protocol.LoginOK](t, s.peer)
	return testhelpers.Expect[protocol.EnteredRoom](t, s.peer)
}

// sync waits until every message sent so far has been processed.
func (s *session) sync(t *testing.T) {
	t.Helper()
	s.peer.Send(t, protocol.ListDoors{})
	testhelpers.Expect[protocol.ListedDoors](t, s.peer)
}

func (s *session) waitServe(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("handler did not stop")
		return nil
	}
}

func TestLoginWrongThenRetry(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})

	alice.peer.Send(t, protocol.Login{UserName: "alice", Password: "nope"})
	testhelpers.Expect[protocol.LoginWrong](t, alice.peer)
	assert.False(t, alice.conn.Authorized())

	alice.peer.Send(t, protocol.Login{UserName: "mallory", Password: "wonderland"})
	testhelpers.Expect[protocol.LoginWrong](t, alice.peer)

	alice.peer.Send(t, protocol.Login{UserName: "", Password: ""})
	testhelpers.Expect[protocol.LoginWrong](t, alice.peer)

	entered := alice.login(t, "alice")
	assert.Equal(t, protocol.EnteredRoom{RoomName: "lobby", Users: []string{"alice"}}, entered)
	assert.True(t, alice.conn.Authorized())
	assert.Equal(t, "alice", alice.conn.UserName())

	lobby, _ := b.RoomByName("lobby")
	assert.True(t, lobby.Has(alice.conn))
}

func TestUnauthenticatedTrafficIsKicked(t *testing.T) {
	kinds := []protocol.Message{
		protocol.Public{Text: "hi"},
		protocol.Alive{},
		protocol.ListDoors{},
		protocol.Go{RoomName: "kitchen"},
		protocol.Logout{},
	}

	for _, msg := range kinds {
		t.Run(string(msg.Kind()), func(t *testing.T) {
			b := newBuilding(t)
			s := connect(t, b, chat.ConnectionOptions{})

			s.peer.Send(t, msg)
			kick := testhelpers.Expect[protocol.Kick](t, s.peer)
			assert.Equal(t, fmt.Sprintf("Unauthorized connections aren't allowed to send '%s'!", msg.Kind()), kick.Text)
			s.peer.ExpectClosed(t)

			assert.NoError(t, s.waitServe(t))
			assert.True(t, s.conn.Closed())

			lobby, _ := b.RoomByName("lobby")
			assert.Zero(t, lobby.Len())
		})
	}
}

func TestWalkthroughLobbyToKitchen(t *testing.T) {
	b := newBuilding(t)

	alice := connect(t, b, chat.ConnectionOptions{})
	entered := alice.login(t, "alice")
	assert.Equal(t, "lobby", entered.RoomName)

	alice.peer.Send(t, protocol.ListDoors{})
	assert.Equal(t, protocol.ListedDoors{Doors: []string{"kitchen"}}, testhelpers.Expect[protocol.ListedDoors](t, alice.peer))

	bob := connect(t, b, chat.ConnectionOptions{})
	entered = bob.login(t, "bob")
	assert.Equal(t, protocol.EnteredRoom{RoomName: "lobby", Users: []string{"alice", "bob"}}, entered)
	assert.Equal(t, protocol.EnterRoom{UserName: "bob"}, testhelpers.Expect[protocol.EnterRoom](t, alice.peer))

	alice.peer.Send(t, protocol.Go{RoomName: "kitchen"})
	assert.Equal(t, protocol.NewLeftRoom("alice", "kitchen"), testhelpers.Expect[protocol.LeftRoom](t, bob.peer))
	assert.Equal(t, protocol.EnteredRoom{RoomName: "kitchen", Users: []string{"alice"}}, testhelpers.Expect[protocol.EnteredRoom](t, alice.peer))

	assert.Equal(t, "kitchen", alice.conn.Room().Name())
	lobby, _ := b.RoomByName("lobby")
	kitchen, _ := b.RoomByName("kitchen")
	assert.Equal(t, []string{"bob"}, lobby.Members())
	assert.Equal(t, []string{"alice"}, kitchen.Members())

	alice.peer.Send(t, protocol.ListDoors{})
	assert.Equal(t, []string{"lobby"}, testhelpers.Expect[protocol.ListedDoors](t, alice.peer).Doors)
}

func TestPublicReachesEveryMemberIncludingSender(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)

	carol := connect(t, b, chat.ConnectionOptions{})
	carol.login(t, "carol")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)
	testhelpers.Expect[protocol.EnterRoom](t, bob.peer)
	carol.peer.Send(t, protocol.Go{RoomName: "kitchen"})
	testhelpers.Expect[protocol.EnteredRoom](t, carol.peer)
	testhelpers.Expect[protocol.LeftRoom](t, alice.peer)
	testhelpers.Expect[protocol.LeftRoom](t, bob.peer)

	alice.peer.Send(t, protocol.Public{Text: "hello"})
	want := protocol.PublicBroadcast{UserName: "alice", Text: "hello"}
	assert.Equal(t, want, testhelpers.Expect[protocol.PublicBroadcast](t, alice.peer))
	assert.Equal(t, want, testhelpers.Expect[protocol.PublicBroadcast](t, bob.peer))
	carol.peer.ExpectNothing(t, quiet)
}

func TestGoWithoutDoorChangesNothing(t *testing.T) {
	b := chat.NewBuilding(testhelpers.Logger(), chat.FixedStart("lobby"))
	_, _ = b.BuildRoom("lobby")
	_, _ = b.BuildRoom("kitchen")
	_, _ = b.BuildRoom("attic")
	require.NoError(t, b.Connect("lobby", "kitchen"))

	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)

	for _, target := range []string{"attic", "nowhere", "lobby"} {
		alice.peer.Send(t, protocol.Go{RoomName: target})
	}
	alice.sync(t)

	assert.Equal(t, "lobby", alice.conn.Room().Name())
	bob.peer.ExpectNothing(t, quiet)
	alice.peer.ExpectNothing(t, quiet)

	lobby, _ := b.RoomByName("lobby")
	assert.Equal(t, []string{"alice", "bob"}, lobby.Members())
}

func TestDuplicateLoginEvictsPriorConnection(t *testing.T) {
	b := newBuilding(t)
	first := connect(t, b, chat.ConnectionOptions{})
	first.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, first.peer)

	second := connect(t, b, chat.ConnectionOptions{})
	second.peer.Send(t, protocol.Login{UserName: "alice", Password: users["alice"]})
	testhelpers.Expect[protocol.LoginOK](t, second.peer)
	entered := testhelpers.Expect[protocol.EnteredRoom](t, second.peer)
	assert.Equal(t, []string{"alice", "bob"}, entered.Users)

	kick := testhelpers.Expect[protocol.Kick](t, first.peer)
	assert.Equal(t, "Logged out because you're entering room 'lobby' again!", kick.Text)
	first.peer.ExpectClosed(t)
	assert.NoError(t, first.waitServe(t))
	assert.True(t, first.conn.Closed())

	assert.Equal(t, protocol.NewLeftRoom("alice", ""), testhelpers.Expect[protocol.LeftRoom](t, bob.peer))
	assert.Equal(t, protocol.EnterRoom{UserName: "alice"}, testhelpers.Expect[protocol.EnterRoom](t, bob.peer))

	lobby, _ := b.RoomByName("lobby")
	assert.Equal(t, 2, lobby.Len())
	assert.True(t, lobby.Has(second.conn))
	assert.False(t, lobby.Has(first.conn))

	second.sync(t)
	bob.peer.ExpectNothing(t, quiet)
}

func TestDuplicateLoginAcrossRoomsKeepsBoth(t *testing.T) {
	b := newBuilding(t)
	first := connect(t, b, chat.ConnectionOptions{})
	first.login(t, "alice")
	first.peer.Send(t, protocol.Go{RoomName: "kitchen"})
	testhelpers.Expect[protocol.EnteredRoom](t, first.peer)

	second := connect(t, b, chat.ConnectionOptions{})
	second.login(t, "alice")
	first.peer.ExpectNothing(t, quiet)

	// Walking into the room where the other alice stands evicts that one.
	second.peer.Send(t, protocol.Go{RoomName: "kitchen"})
	testhelpers.Expect[protocol.EnteredRoom](t, second.peer)
	testhelpers.Expect[protocol.Kick](t, first.peer)
	first.peer.ExpectClosed(t)

	kitchen, _ := b.RoomByName("kitchen")
	assert.Equal(t, []string{"alice"}, kitchen.Members())
	assert.True(t, kitchen.Has(second.conn))
}

func TestLogout(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)

	alice.peer.Send(t, protocol.Logout{})
	testhelpers.Expect[protocol.LoggedOut](t, alice.peer)
	alice.peer.ExpectClosed(t)
	assert.NoError(t, alice.waitServe(t))

	assert.Equal(t, protocol.NewLeftRoom("alice", ""), testhelpers.Expect[protocol.LeftRoom](t, bob.peer))
	bob.peer.ExpectNothing(t, quiet)

	lobby, _ := b.RoomByName("lobby")
	assert.Equal(t, []string{"bob"}, lobby.Members())
}

func TestDisconnectRemovesFromRoom(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)

	alice.peer.Close()
	assert.NoError(t, alice.waitServe(t))

	assert.Equal(t, protocol.NewLeftRoom("alice", ""), testhelpers.Expect[protocol.LeftRoom](t, bob.peer))
	lobby, _ := b.RoomByName("lobby")
	assert.Equal(t, []string{"bob"}, lobby.Members())

	// A second close must not remove or announce anything again.
	alice.conn.Close()
	bob.peer.ExpectNothing(t, quiet)
}

func TestConcurrentCloseRemovesOnce(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alice.conn.Kick("bye")
		}()
	}
	wg.Wait()

	alice.peer.ExpectClosed(t)
	testhelpers.Expect[protocol.LeftRoom](t, bob.peer)
	bob.peer.ExpectNothing(t, quiet)
	assert.NoError(t, alice.waitServe(t))
}

func TestMalformedLineKicksAndCloses(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "hello"},
		{"unknown kind", `{"type":"Whisper","text":"psst"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilding(t)
			alice := connect(t, b, chat.ConnectionOptions{})
			alice.login(t, "alice")

			alice.peer.SendRaw(t, tt.line)
			testhelpers.Expect[protocol.Kick](t, alice.peer)
			alice.peer.ExpectClosed(t)

			err := alice.waitServe(t)
			var decodeErr *protocol.DecodeError
			assert.ErrorAs(t, err, &decodeErr)

			lobby, _ := b.RoomByName("lobby")
			assert.Zero(t, lobby.Len())
		})
	}
}

func TestOversizedLineCloses(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{MaxMessageSize: 100})
	alice.login(t, "alice")

	// The server stops reading mid-line, so the write cannot finish until the
	// stream is closed.
	go func() { _ = alice.peer.TrySendRaw(`{"type":"Public","text":"` + strings.Repeat("x", 200) + `"}`) }()
	testhelpers.Expect[protocol.Kick](t, alice.peer)
	alice.peer.ExpectClosed(t)
	assert.ErrorIs(t, alice.waitServe(t), protocol.ErrLineTooLong)
}

func TestUnexpectedAuthenticatedKindIsIgnored(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")

	alice.peer.Send(t, protocol.LoginOK{})
	alice.peer.Send(t, protocol.EnterRoom{UserName: "ghost"})
	alice.peer.Send(t, protocol.KeepAlive{})
	alice.sync(t)

	assert.False(t, alice.conn.Closed())
	lobby, _ := b.RoomByName("lobby")
	assert.Equal(t, []string{"alice"}, lobby.Members())
}

func TestAnyMessageRefreshesLiveness(t *testing.T) {
	clock := testhelpers.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{Now: clock.Now})
	assert.WithinDuration(t, clock.Now(), alice.conn.LastAlive(), 0)

	clock.Advance(30 * time.Second)
	alice.login(t, "alice")
	assert.WithinDuration(t, clock.Now(), alice.conn.LastAlive(), 0)

	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, alice.conn.IdleFor(clock.Now()))

	alice.peer.Send(t, protocol.Alive{})
	alice.sync(t)
	assert.WithinDuration(t, clock.Now(), alice.conn.LastAlive(), 0)
	assert.Zero(t, alice.conn.IdleFor(clock.Now()))
}

func TestReloginUnderNewName(t *testing.T) {
	b := newBuilding(t)
	alice := connect(t, b, chat.ConnectionOptions{})
	alice.login(t, "alice")
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")
	testhelpers.Expect[protocol.EnterRoom](t, alice.peer)

	alice.peer.Send(t, protocol.Login{UserName: "carol", Password: users["carol"]})
	testhelpers.Expect[protocol.LoginOK](t, alice.peer)
	entered := testhelpers.Expect[protocol.EnteredRoom](t, alice.peer)
	assert.Equal(t, []string{"bob", "carol"}, entered.Users)

	assert.Equal(t, protocol.NewLeftRoom("alice", ""), testhelpers.Expect[protocol.LeftRoom](t, bob.peer))
	assert.Equal(t, protocol.EnterRoom{UserName: "carol"}, testhelpers.Expect[protocol.EnterRoom](t, bob.peer))
}

func TestConcurrentMovesKeepMembershipConsistent(t *testing.T) {
	b := newBuilding(t)
	names := []string{"alice", "bob", "carol"}
	sessions := make([]*session, len(names))
	for i, name := range names {
		sessions[i] = connect(t, b, chat.ConnectionOptions{})
		sessions[i].login(t, name)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for _, s := range sessions {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = s.peer.Next(10 * time.Millisecond)
				}
			}
		}()
	}

	var writers sync.WaitGroup
	errs := make(chan error, len(sessions))
	for _, s := range sessions {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for range 20 {
				target := "kitchen"
				if s.conn.Room().Name() == "kitchen" {
					target = "lobby"
				}
				if err := s.peer.TrySend(protocol.Go{RoomName: target}); err != nil {
					errs <- err
					return
				}
				if err := s.peer.TrySend(protocol.Public{Text: "moving"}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, s := range sessions {
		require.NoError(t, s.peer.TrySend(protocol.ListDoors{}))
		for {
			m, err := s.peer.Next(testhelpers.DefaultTimeout)
			require.NoError(t, err)
			if _, ok := m.(protocol.ListedDoors); ok {
				break
			}
		}
	}

	lobby, _ := b.RoomByName("lobby")
	kitchen, _ := b.RoomByName("kitchen")
	assert.Equal(t, len(names), lobby.Len()+kitchen.Len())
	for _, s := range sessions {
		room := s.conn.Room()
		assert.True(t, room.Has(s.conn), "%s must be a member of %s", s.conn.UserName(), room.Name())
		assert.False(t, s.conn.Closed())
	}
}

func TestEnteredRoomPrecedesConcurrentTraffic(t *testing.T) {
	b := newBuilding(t)
	bob := connect(t, b, chat.ConnectionOptions{})
	bob.login(t, "bob")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := bob.peer.Next(10 * time.Millisecond); err != nil && bob.conn.Closed() {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if bob.peer.TrySend(protocol.Public{Text: "hi"}) != nil {
				return
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	for i := range 30 {
		name := []string{"alice", "carol"}[i%2]
		entrant := connect(t, b, chat.ConnectionOptions{})
		entrant.peer.Send(t, protocol.Login{UserName: name, Password: users[name]})
		testhelpers.Expect[protocol.LoginOK](t, entrant.peer)
		entered := testhelpers.Expect[protocol.EnteredRoom](t, entrant.peer)
		assert.Contains(t, entered.Users, name)
		entrant.peer.Close()
		entrant.conn.Wait()
	}

	close(stop)
	wg.Wait()
	assert.False(t, bob.conn.Closed())
}
