// Package protocol defines the chat message variants exchanged between client
// and server, and their newline-delimited JSON wire encoding.
package protocol

import (
	"fmt"
	"strings"
)

// Kind is the wire discriminator carried in every envelope's "type" field.
type Kind string

// Every message kind known to the protocol.
const (
	KindLogin           Kind = "Login"
	KindLoginOK         Kind = "LoginOK"
	KindLoginWrong      Kind = "LoginWrong"
	KindKeepAlive       Kind = "KeepAlive"
	KindAlive           Kind = "Alive"
	KindLogout          Kind = "Logout"
	KindLoggedOut       Kind = "LoggedOut"
	KindKick            Kind = "Kick"
	KindPublic          Kind = "Public"
	KindPublicBroadcast Kind = "PublicBroadcast"
	KindEnterRoom       Kind = "EnterRoom"
	KindEnteredRoom     Kind = "EnteredRoom"
	KindLeftRoom        Kind = "LeftRoom"
	KindGo              Kind = "Go"
	KindListDoors       Kind = "ListDoors"
	KindListedDoors     Kind = "ListedDoors"
)

// Message is implemented by every protocol variant. The set is closed: only
// the types in this package satisfy it.
type Message interface {
	Kind() Kind
	message()
}

// Login asks the server to authenticate the connection. C->S.
type Login struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// LoginOK grants access. S->C.
type LoginOK struct{}

// LoginWrong denies access; the client may retry. S->C.
type LoginWrong struct{}

// KeepAlive probes an idle client, which should answer with Alive. S->C.
type KeepAlive struct{}

// Alive answers a KeepAlive. C->S.
type Alive struct{}

// Logout asks the server to disconnect this user. C->S.
type Logout struct{}

// LoggedOut confirms a Logout right before the server closes the stream. S->C.
type LoggedOut struct{}

// Kick tells the client why the server is closing its connection. S->C.
type Kick struct {
	Text string `json:"text"`
}

// Public is a message for everybody in the sender's room. C->S.
type Public struct {
	Text string `json:"text"`
}

// PublicBroadcast relays a Public message to the room members. S->C.
type PublicBroadcast struct {
	UserName string `json:"userName"`
	Text     string `json:"text"`
}

// EnterRoom tells room members that UserName has just entered. S->C.
type EnterRoom struct {
	UserName string `json:"userName"`
}

// EnteredRoom tells the entrant which room it is in and who is there,
// the entrant included. S->C.
type EnteredRoom struct {
	RoomName string   `json:"roomName"`
	Users    []string `json:"users"`
}

// LeftRoom tells the remaining members that UserName left. ToRoom is set when
// the user went through a door and nil when it disconnected. S->C.
type LeftRoom struct {
	UserName string  `json:"userName"`
	ToRoom   *string `json:"toRoom"`
}

// Go asks to move through a door into RoomName. C->S.
type Go struct {
	RoomName string `json:"roomName"`
}

// ListDoors asks for the rooms adjoining the current one. C->S.
type ListDoors struct{}

// ListedDoors answers ListDoors. S->C.
type ListedDoors struct {
	Doors []string `json:"doors"`
}

func (Login) Kind() Kind           { return KindLogin }
func (LoginOK) Kind() Kind         { return KindLoginOK }
func (LoginWrong) Kind() Kind      { return KindLoginWrong }
func (KeepAlive) Kind() Kind       { return KindKeepAlive }
func (Alive) Kind() Kind           { return KindAlive }
func (Logout) Kind() Kind          { return KindLogout }
func (LoggedOut) Kind() Kind       { return KindLoggedOut }
func (Kick) Kind() Kind            { return KindKick }
func (Public) Kind() Kind          { return KindPublic }
func (PublicBroadcast) Kind() Kind { return KindPublicBroadcast }
func (EnterRoom) Kind() Kind       { return KindEnterRoom }
func (EnteredRoom) Kind() Kind     { return KindEnteredRoom }
func (LeftRoom) Kind() Kind        { return KindLeftRoom }
func (Go) Kind() Kind              { return KindGo }
func (ListDoors) Kind() Kind       { return KindListDoors }
func (ListedDoors) Kind() Kind     { return KindListedDoors }

func (Login) message()           {}
func (LoginOK) message()         {}
func (LoginWrong) message()      {}
func (KeepAlive) message()       {}
func (Alive) message()           {}
func (Logout) message()          {}
func (LoggedOut) message()       {}
func (Kick) message()            {}
func (Public) message()          {}
func (PublicBroadcast) message() {}
func (EnterRoom) message()       {}
func (EnteredRoom) message()     {}
func (LeftRoom) message()        {}
func (Go) message()              {}
func (ListDoors) message()       {}
func (ListedDoors) message()     {}

// NewLeftRoom builds a LeftRoom notice. An empty toRoom means the user left
// the building rather than walking through a door.
func NewLeftRoom(userName, toRoom string) LeftRoom {
	if toRoom == "" {
		return LeftRoom{UserName: userName}
	}
	return LeftRoom{UserName: userName, ToRoom: &toRoom}
}

func (m Kick) String() string {
	return "Kicked: " + m.Text
}

func (m PublicBroadcast) String() string {
	return fmt.Sprintf("%s: %s", m.UserName, m.Text)
}

func (m EnterRoom) String() string {
	return m.UserName + " enters the room."
}

func (m EnteredRoom) String() string {
	return fmt.Sprintf("You're in the %s, together with %s.", m.RoomName, strings.Join(m.Users, ", "))
}

func (m LeftRoom) String() string {
	if m.ToRoom == nil {
		return m.UserName + " has just left the room."
	}
	return fmt.Sprintf("%s has just left the room, and went to the %s.", m.UserName, *m.ToRoom)
}

func (m ListedDoors) String() string {
	return fmt.Sprintf("doors = { %s }", strings.Join(m.Doors, ", "))
}
