package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// TerminalChannel prints notifications as colored one-liners.
type TerminalChannel struct {
	out io.Writer
	mu  sync.Mutex
}

// NewTerminalChannel creates a TerminalChannel writing to out, or stderr
// when out is nil.
func NewTerminalChannel(out io.Writer) *TerminalChannel {
	if out == nil {
		out = os.Stderr
	}
	return &TerminalChannel{out: out}
}

// Name returns the name of the channel.
func (t *TerminalChannel) Name() string { return "terminal" }

// IsEnabled returns whether the channel is enabled.
func (t *TerminalChannel) IsEnabled() bool { return true }

// Send prints the notification.
func (t *TerminalChannel) Send(_ context.Context, n Notification) error {
	var c *color.Color
	var icon string
	switch n.Type {
	case NotificationSuccess:
		c, icon = color.New(color.FgGreen), "✓"
	case NotificationWarning:
		c, icon = color.New(color.FgYellow), "!"
	case NotificationError:
		c, icon = color.New(color.FgRed, color.Bold), "✗"
	default:
		c, icon = color.New(color.FgCyan), "ℹ"
	}

	line := fmt.Sprintf("%s %s %s", n.Timestamp.Format("15:04:05"), icon, n.Title)
	if n.Message != "" {
		line += ": " + n.Message
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := c.Fprintln(t.out, line)
	return err
}
