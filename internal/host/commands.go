package host

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ourisland/litemacro/internal/platform"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownCommand indicates no handler matched the command name.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrPermissionDenied indicates the source lacks the command permission.
	ErrPermissionDenied = errors.New("permission denied")
)

// Message keys used by the command manager and built-in commands.
const (
	msgNoPerms          = "litemacro.main.no_perms"
	msgUsage            = "litemacro.main.usage"
	msgUnknown          = "litemacro.command.unknown"
	msgSayFormat        = "litemacro.command.say.format"
	msgServerUsage      = "litemacro.command.server.usage"
	msgServerCurrent    = "litemacro.command.server.current"
	msgServerNeedPlayer = "litemacro.command.server.need_player"
	msgTransferResult   = "litemacro.action.transfer.result"
	msgTransferMissing  = "litemacro.action.transfer.server_not_found"
)

// Handler runs a command. args excludes the command name.
type Handler func(source platform.Invoker, args []string) error

// Command is a registered command.
type Command struct {
	Name       string
	Aliases    []string
	Permission string
	Usage      string
	Handler    Handler
}

// Resolver finds handlers for names that are not registered commands.
// The macro layer installs one so that every macro name and alias works as
// a command without re-registering on reload.
type Resolver func(name string) (Handler, bool)

// Commands is the command manager.
type Commands struct {
	logger   zerolog.Logger
	messages func() Messages

	mu       sync.RWMutex
	commands map[string]*Command
	fallback Resolver
}

func newCommands(logger zerolog.Logger, messages func() Messages) *Commands {
	return &Commands{
		logger:   logger,
		messages: messages,
		commands: make(map[string]*Command),
	}
}

// Register adds a command under its name and aliases. Names already taken
// by another command are an error.
func (c *Commands) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	registered := cmd
	registered.Name = name
	keys := []string{name}
	for _, alias := range cmd.Aliases {
		if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
			keys = append(keys, alias)
		}
	}
	for _, key := range keys {
		if _, exists := c.commands[key]; exists {
			return fmt.Errorf("command %q already registered", key)
		}
	}
	for _, key := range keys {
		c.commands[key] = &registered
	}
	return nil
}

// SetFallback installs the resolver consulted for unregistered names.
func (c *Commands) SetFallback(r Resolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = r
}

// Names returns registered command names (not aliases), sorted.
func (c *Commands) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, cmd := range c.commands {
		if !seen[cmd.Name] {
			seen[cmd.Name] = true
			names = append(names, cmd.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Execute parses and runs one command line as source and waits for the
// handler to return. A leading "/" is ignored.
func (c *Commands) Execute(source platform.Invoker, line string) error {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	c.mu.RLock()
	cmd, ok := c.commands[name]
	fallback := c.fallback
	c.mu.RUnlock()

	if ok {
		if cmd.Permission != "" && !source.HasPermission(cmd.Permission) {
			source.SendMessage(c.messages().T(msgNoPerms, cmd.Permission))
			return ErrPermissionDenied
		}
		return c.run(source, name, cmd.Handler, args)
	}

	if fallback != nil {
		if handler, found := fallback(name); found {
			return c.run(source, name, handler, args)
		}
	}

	source.SendMessage(c.messages().T(msgUnknown, name))
	return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func (c *Commands) run(source platform.Invoker, name string, handler Handler, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("command", name).Msg("command handler panicked")
			err = fmt.Errorf("command %s panicked: %v", name, r)
		}
	}()

	c.logger.Debug().Str("source", displayName(source)).Str("command", name).Strs("args", args).Msg("executing command")
	if err := handler(source, args); err != nil {
		c.logger.Warn().Err(err).Str("command", name).Msg("command failed")
		return err
	}
	return nil
}

func displayName(inv platform.Invoker) string {
	if inv == nil || inv.Name() == "" {
		return "CONSOLE"
	}
	return inv.Name()
}

func (h *Host) registerBuiltins() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(h.commands.Register(Command{
		Name:    "say",
		Aliases: []string{"broadcast"},
		Usage:   "say <message>",
		Handler: func(source platform.Invoker, args []string) error {
			if len(args) == 0 {
				source.SendMessage(h.Messages().T(msgUsage, "say <message>"))
				return nil
			}
			h.Broadcast(h.Messages().Plain(msgSayFormat, strings.Join(args, " ")))
			return nil
		},
	}))

	must(h.commands.Register(Command{
		Name:  "server",
		Usage: "server [name]",
		Handler: func(source platform.Invoker, args []string) error {
			messages := h.Messages()
			session, ok := platform.AsSession(source)
			if !ok {
				source.SendMessage(messages.T(msgServerNeedPlayer))
				return nil
			}
			if len(args) == 0 {
				source.SendMessage(messages.T(msgServerCurrent, session.CurrentBackend()))
				return nil
			}
			if len(args) > 1 {
				source.SendMessage(messages.T(msgServerUsage))
				return nil
			}

			backend, ok := h.ResolveBackend(args[0])
			if !ok {
				source.SendMessage(messages.T(msgTransferMissing, args[0]))
				return nil
			}
			result := <-h.RequestMove(session, backend)
			if result.Err != nil {
				return result.Err
			}
			source.SendMessage(messages.T(msgTransferResult, result.Status))
			return nil
		},
	}))
}
