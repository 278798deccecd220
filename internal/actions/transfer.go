package actions

import (
	"strings"

	"github.com/ourisland/litemacro/internal/invocation"
	"github.com/ourisland/litemacro/internal/platform"
)

// Message keys used by Transfer.
const (
	msgTransferNeedPlayer      = "litemacro.action.transfer.need_player"
	msgTransferServerNotFound  = "litemacro.action.transfer.server_not_found"
	msgTransferFailedToConnect = "litemacro.action.transfer.failed_to_connect"
	msgTransferFailed          = "litemacro.action.transfer.failed"
)

// Transfer moves the invoking session to another backend.
type Transfer struct {
	noDelay
	Target  string
	Message string

	env *Env
}

func newTransfer(opts Options, env *Env) (Action, error) {
	target, err := opts.String("target", "")
	if err != nil {
		return nil, err
	}
	message, err := opts.String("message", "")
	if err != nil {
		return nil, err
	}
	return &Transfer{Target: target, Message: message, env: env}, nil
}

func (t *Transfer) Kind() string { return KindTransfer }

// Execute validates the request synchronously and waits for the move on a
// separate goroutine. Failures are reported to the invoker as messages.
func (t *Transfer) Execute(ctx *invocation.Context) error {
	invoker := ctx.Invoker()
	if invoker == nil {
		return ErrNoInvoker
	}

	session, ok := platform.AsSession(invoker)
	if !ok {
		invoker.SendMessage(t.env.Messages.T(msgTransferNeedPlayer))
		return nil
	}

	target := strings.TrimSpace(ctx.Substitute(t.Target))
	backend, ok := ctx.Platform().ResolveBackend(target)
	if !ok {
		invoker.SendMessage(t.env.Messages.T(msgTransferServerNotFound, target))
		return nil
	}

	if text := ctx.Substitute(t.Message); strings.TrimSpace(text) != "" {
		session.SendMessage(t.env.Messages.Prefix(text))
	}

	results := ctx.Platform().RequestMove(session, backend)
	go t.await(invoker, target, results)
	return nil
}

func (t *Transfer) await(invoker platform.Invoker, target string, results <-chan platform.MoveResult) {
	result, ok := <-results
	if !ok {
		result = platform.MoveResult{Err: errMoveAbandoned}
	}

	switch {
	case result.Err != nil:
		invoker.SendMessage(t.env.Messages.T(msgTransferFailedToConnect, result.Err.Error()))
	case result.Status != platform.MoveSuccess:
		invoker.SendMessage(t.env.Messages.T(msgTransferFailed, result.Status))
	}

	if t.env.OnTransfer != nil {
		t.env.OnTransfer(invoker, target, result)
	}
}
