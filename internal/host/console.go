package host

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Console is the system identity. It holds every permission and writes its
// messages to the log and, when set, to an output stream.
type Console struct {
	logger zerolog.Logger

	mu  sync.Mutex
	out io.Writer
}

func newConsole(logger zerolog.Logger, out io.Writer) *Console {
	return &Console{logger: logger, out: out}
}

// Name is empty: the console has no player name.
func (c *Console) Name() string { return "" }

// ID is empty: the console has no player id.
func (c *Console) ID() string { return "" }

func (c *Console) HasPermission(string) bool { return true }

func (c *Console) SendMessage(text string) {
	c.logger.Info().Msg(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		fmt.Fprintln(c.out, text)
	}
}

// SetOutput redirects console messages to w in addition to the log.
func (c *Console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = w
}
