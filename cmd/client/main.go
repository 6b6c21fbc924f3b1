// Command chat-client connects to a chat server.
//
//	chat-client [-ui] host port user pass
//
// Each input line is either "/command arg1,arg2" or text said to the room.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/client"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

const usage = "[USAGE]: chat-client [-ui] host port user pass"

func main() {
	useUI := false
	var args []string
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-ui":
			useUI = true
		default:
			args = append(args, arg)
		}
	}
	if len(args) != 4 {
		fmt.Println(usage)
		os.Exit(2)
	}
	host, port, user, pass := args[0], args[1], args[2], args[3]

	logger := newLogger(useUI)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, net.JoinHostPort(host, port), logger)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	ok, err := c.Login(user, pass)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("Login failed!")
		os.Exit(1)
	}

	if useUI {
		err = runUI(ctx, c)
	} else {
		err = runPlain(ctx, c)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(quiet bool) zerolog.Logger {
	if quiet {
		return zerolog.Nop()
	}
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func runPlain(ctx context.Context, c *client.Client) error {
	fmt.Println("Logged in.")

	listened := make(chan error, 1)
	go func() {
		listened <- c.Listen(ctx, func(m protocol.Message) {
			if _, ok := m.(protocol.LoggedOut); ok {
				fmt.Println("Bye.")
				return
			}
			fmt.Println(client.Render(m))
		})
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := client.Dispatch(c, scanner.Text()); err != nil {
				fmt.Fprintf(os.Stderr, "Caught: %v\n", err)
			}
		}
	}()

	err := <-listened
	if ctx.Err() != nil {
		return nil
	}
	return err
}
