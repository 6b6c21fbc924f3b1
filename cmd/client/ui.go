package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jroimartin/gocui"

	"github.com/Tyrowin/roomchat/internal/client"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// chatUI is the full-screen client: a message log, a status line with the
// current room, and an input line.
type chatUI struct {
	gui    *gocui.Gui
	client *client.Client

	msgView    string
	statusView string
	inputView  string
	helpView   string
	showHelp   bool
	room       string
}

func runUI(ctx context.Context, c *client.Client) error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()

	ui := &chatUI{
		gui:        g,
		client:     c,
		msgView:    "messages",
		statusView: "status",
		inputView:  "input",
		helpView:   "help",
	}
	g.SetManagerFunc(ui.layout)

	if err := ui.keybindings(); err != nil {
		return err
	}

	go ui.listen(ctx)

	if err := g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (ui *chatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	msgHeight := maxY - 6

	if v, err := g.SetView(ui.msgView, 0, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(ui.statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		ui.renderStatus(v)
	}

	if v, err := g.SetView(ui.inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true

		if _, err := g.SetCurrentView(ui.inputView); err != nil {
			return err
		}
	}

	if !ui.showHelp {
		if err := g.DeleteView(ui.helpView); err != nil && err != gocui.ErrUnknownView {
			return err
		}
		return nil
	}
	if v, err := g.SetView(ui.helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Help"
		fmt.Fprintln(v, client.Help())
		fmt.Fprintln(v, "\nKeybindings:\nCtrl-C  - Quit\nCtrl-H  - Toggle help\nEnter   - Send")
	}
	return nil
}

func (ui *chatUI) renderStatus(v *gocui.View) {
	v.Clear()
	room := ui.room
	if room == "" {
		room = "?"
	}
	fmt.Fprintf(v, "%s | Room: %s | Ctrl-H: Help", ui.client.UserName(), room)
}

func (ui *chatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			ui.showHelp = !ui.showHelp
			return nil
		}); err != nil {
		return err
	}

	return ui.gui.SetKeybinding(ui.inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *chatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	_ = v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	if err := client.Dispatch(ui.client, input); err != nil {
		ui.appendLine("Caught: " + err.Error())
	}
	return nil
}

// listen feeds server messages into the message view until the session ends.
func (ui *chatUI) listen(ctx context.Context) {
	err := ui.client.Listen(ctx, func(m protocol.Message) {
		switch m := m.(type) {
		case protocol.EnteredRoom:
			ui.setRoom(m.RoomName)
		case protocol.LoggedOut:
			ui.appendLine("Bye.")
			return
		}
		ui.appendLine(client.Render(m))
	})
	if err != nil && ctx.Err() == nil {
		ui.appendLine("Connection lost: " + err.Error())
		return
	}
	ui.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
}

func (ui *chatUI) appendLine(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(ui.msgView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, line)
		return nil
	})
}

func (ui *chatUI) setRoom(name string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		ui.room = name
		v, err := g.View(ui.statusView)
		if err != nil {
			return err
		}
		ui.renderStatus(v)
		return nil
	})
}
