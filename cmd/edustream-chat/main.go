// Command edustream-chat is a terminal client for the eduStream chat
// backend. It connects lazily on the first message, streams the
// assistant reply over WebSocket and renders completed replies as
// markdown.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/tangmingchang/edustream/internal/client"
)

var (
	userLabel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Render("you")
	botLabel    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")).Render("edustream")
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8000/ws/chat", "chat WebSocket endpoint")
	conversationID := flag.String("conversation", "", "conversation id to resume")
	raw := flag.Bool("raw", false, "stream replies as plain text instead of rendering markdown")
	flag.Parse()

	if err := run(*serverURL, *conversationID, *raw); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(serverURL, conversationID string, raw bool) error {
	endpoint, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if conversationID != "" {
		q := endpoint.Query()
		q.Set("conversation_id", conversationID)
		endpoint.RawQuery = q.Encode()
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	ui := &console{renderer: renderer, raw: raw, done: make(chan struct{}, 1)}

	session := client.NewSession(client.Options{
		URL:      endpoint.String(),
		OnUpdate: ui.onUpdate,
		OnNotice: ui.onNotice,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	defer session.Close()

	fmt.Println(faintStyle.Render("eduStream chat. Ctrl-D to quit."))
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s> ", userLabel)
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}
		ui.drain()
		if err := session.Send(context.Background(), text); err != nil {
			fmt.Println(noticeStyle.Render("send failed: " + err.Error()))
			continue
		}
		ui.wait()
	}
}

// console renders session callbacks to the terminal. Callbacks arrive on
// the session's event goroutine; the main loop blocks on done between
// sending a message and printing the next prompt, so the two never write
// concurrently.
type console struct {
	renderer *glamour.TermRenderer
	raw      bool
	done     chan struct{}

	sessionShown bool
	producing    bool
	printed      int // bytes of the streaming reply already echoed in raw mode
}

func (c *console) onUpdate(conv client.Conversation) {
	if !c.sessionShown && conv.ID != "" {
		c.sessionShown = true
		fmt.Println(faintStyle.Render("conversation " + conv.ID))
	}

	if conv.Producing() {
		if !c.producing {
			c.producing = true
			c.printed = 0
			if c.raw {
				fmt.Printf("%s> ", botLabel)
			}
		}
		if c.raw && len(conv.Messages) > 0 {
			content := conv.Messages[len(conv.Messages)-1].Content
			fmt.Print(content[c.printed:])
			c.printed = len(content)
		}
		return
	}

	if c.producing {
		c.producing = false
		c.finishTurn(conv)
		c.signal()
	}
}

// finishTurn prints whatever of the completed reply has not been shown.
func (c *console) finishTurn(conv client.Conversation) {
	if len(conv.Messages) == 0 {
		return
	}
	last := conv.Messages[len(conv.Messages)-1]
	if c.raw {
		fmt.Print(last.Content[c.printed:])
		fmt.Println()
	} else {
		rendered, err := c.renderer.Render(last.Content)
		if err != nil {
			rendered = last.Content + "\n"
		}
		fmt.Printf("%s>\n%s", botLabel, rendered)
	}
	if last.Failed {
		fmt.Println(noticeStyle.Render("(reply interrupted)"))
	}
}

func (c *console) onNotice(text string) {
	fmt.Println(noticeStyle.Render(text))
	c.signal()
}

func (c *console) signal() {
	select {
	case c.done <- struct{}{}:
	default:
	}
}

// wait blocks until the in-flight turn terminates.
func (c *console) wait() {
	<-c.done
}

// drain discards a leftover completion signal from a previous turn that
// terminated through both the stream and a notice.
func (c *console) drain() {
	select {
	case <-c.done:
	default:
	}
}
