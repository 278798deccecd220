package actions

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ourisland/litemacro/internal/invocation"
	"github.com/ourisland/litemacro/internal/platform"
)

// RunAs selects the identity a command runs as.
type RunAs string

const (
	RunAsConsole RunAs = "console"
	RunAsPlayer  RunAs = "player"
)

// Command dispatches a command line to the host.
type Command struct {
	noDelay
	Template string
	RunAs    RunAs
}

func newCommand(opts Options, _ *Env) (Action, error) {
	cmd, err := opts.String("cmd", "")
	if err != nil {
		return nil, err
	}
	runAs, err := opts.String("run_as", string(RunAsConsole))
	if err != nil {
		return nil, err
	}

	mode := RunAsConsole
	if strings.EqualFold(strings.TrimSpace(runAs), string(RunAsPlayer)) {
		mode = RunAsPlayer
	}
	return &Command{Template: cmd, RunAs: mode}, nil
}

func (c *Command) Kind() string { return KindCommand }

// Execute runs as the invoker only when asked to and the invoker is a
// session; everything else runs as the console.
func (c *Command) Execute(ctx *invocation.Context) error {
	line := strings.TrimSpace(ctx.Substitute(c.Template))
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return ErrEmptyCommand
	}

	p := ctx.Platform()
	source := p.Console()
	if c.RunAs == RunAsPlayer {
		if session, ok := platform.AsSession(ctx.Invoker()); ok {
			source = session
		}
	}
	p.DispatchCommand(source, line)
	return nil
}

// Message sends text to the invoker.
type Message struct {
	noDelay
	Template string
}

func newMessage(opts Options, _ *Env) (Action, error) {
	text, err := opts.String("text", "")
	if err != nil {
		return nil, err
	}
	return &Message{Template: text}, nil
}

func (m *Message) Kind() string { return KindMessage }

func (m *Message) Execute(ctx *invocation.Context) error {
	invoker := ctx.Invoker()
	if invoker == nil {
		return ErrNoInvoker
	}
	invoker.SendMessage(ctx.Substitute(m.Template))
	return nil
}

// Delay does nothing and asks the sequencer to wait.
type Delay struct {
	Duration time.Duration
}

// maxDelayMillis is the longest delay a time.Duration can hold.
const maxDelayMillis = math.MaxInt64 / int64(time.Millisecond)

func newDelay(opts Options, _ *Env) (Action, error) {
	millis := opts.Int("millis", 0)
	if millis < 0 {
		millis = 0
	}
	if millis > maxDelayMillis {
		millis = maxDelayMillis
	}
	return &Delay{Duration: time.Duration(millis) * time.Millisecond}, nil
}

func (d *Delay) Kind() string { return KindDelay }

func (d *Delay) Execute(*invocation.Context) error { return nil }

func (d *Delay) Delay() time.Duration { return d.Duration }

func (d *Delay) String() string { return fmt.Sprintf("delay(%s)", d.Duration) }
