package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/conversation"
	"github.com/MrWong99/voxlink/internal/fsm"
)

// turnTimeout bounds a single typed turn.
const turnTimeout = 30 * time.Second

// assistant is the part of [conversation.Client] the console drives.
type assistant interface {
	SendText(ctx context.Context, text string) error
	StartListening(ctx context.Context) error
	StopListening() error
	Interrupt()
	AddContext(text string) error
	Disable() error
	Enable() error
	State() fsm.State
}

// console reads commands and free text from a line-oriented input.
type console struct {
	client assistant

	mu  sync.Mutex
	out io.Writer
}

func newConsole(client assistant, out io.Writer) *console {
	return &console{client: client, out: out}
}

const helpText = `commands:
  <text>            send a text turn
  /listen           start streaming the microphone
  /stop             stop streaming and commit the turn
  /interrupt        cut off the current reply
  /context <text>   add background context without a reply
  /mute             disable voice input and output
  /unmute           enable voice input and output
  /state            print the conversation state
  /quit             exit`

// run processes lines until input ends, /quit is entered or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.handle(ctx, line) {
				return
			}
		}
	}
}

// handle executes one input line and reports whether the console should
// exit.
func (c *console) handle(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		tctx, cancel := context.WithTimeout(ctx, turnTimeout)
		defer cancel()
		c.report(c.client.SendText(tctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		c.println(helpText)
	case "/listen":
		c.report(c.client.StartListening(ctx))
	case "/stop":
		c.report(c.client.StopListening())
	case "/interrupt":
		c.client.Interrupt()
	case "/context":
		if arg == "" {
			c.println("usage: /context <text>")
			return false
		}
		c.report(c.client.AddContext(arg))
	case "/mute":
		c.report(c.client.Disable())
	case "/unmute":
		c.report(c.client.Enable())
	case "/state":
		c.println("state: " + string(c.client.State()))
	default:
		c.println("unknown command " + cmd + ", try /help")
	}
	return false
}

func (c *console) printReply(r conversation.Reply) {
	c.println(fmt.Sprintf("assistant (%s): %s", r.Source, r.Text))
}

func (c *console) printError(err error) {
	c.println("error: " + err.Error())
}

func (c *console) report(err error) {
	if err != nil {
		slog.Debug("console: command failed", "err", err)
		c.printError(err)
	}
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}
