package link

import (
	"context"
	"fmt"

	"github.com/roman-kulish/drone-dagger/internal/command"
)

// CommandLink sends one JSON command per line over TCP
type CommandLink struct {
	conn
}

// NewCommandLink creates a command link to address. Call Connect before Send.
func NewCommandLink(address string, options ...Option) *CommandLink {
	var l CommandLink
	l.init(address, options)

	return &l
}

// Send writes cmd to the link
func (l *CommandLink) Send(ctx context.Context, cmd command.Command) error {
	p, err := cmd.Encode()
	if err != nil {
		return err
	}

	nc, err := l.current(ctx)
	if err != nil {
		return err
	}

	if _, err = nc.Write(p); err != nil {
		return fmt.Errorf("writing command: %w", Classify(err))
	}

	return nil
}
