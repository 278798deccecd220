package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/ourisland/litemacro/internal/platform"
)

// ErrSessionNotManaged indicates a move was requested for a session this host
// did not create.
var ErrSessionNotManaged = errors.New("session is not managed by this host")

// Backend is a named TCP destination.
type Backend struct {
	name    string
	address string
}

func (b *Backend) Name() string    { return b.name }
func (b *Backend) Address() string { return b.address }

// Backends is the fixed set of transfer destinations.
type Backends struct {
	byName map[string]*Backend
	order  []string
}

// NewBackends builds the table from name -> address pairs. Names are
// matched case-insensitively.
func NewBackends(addresses map[string]string) *Backends {
	b := &Backends{byName: make(map[string]*Backend, len(addresses))}
	for name, addr := range addresses {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		b.byName[key] = &Backend{name: key, address: strings.TrimSpace(addr)}
		b.order = append(b.order, key)
	}
	sort.Strings(b.order)
	return b
}

// Lookup finds a backend by name.
func (b *Backends) Lookup(name string) (*Backend, bool) {
	backend, ok := b.byName[strings.ToLower(strings.TrimSpace(name))]
	return backend, ok
}

// Names returns backend names, sorted.
func (b *Backends) Names() []string {
	return append([]string(nil), b.order...)
}

// First returns the first backend by name, or nil when none are configured.
func (b *Backends) First() *Backend {
	if len(b.order) == 0 {
		return nil
	}
	return b.byName[b.order[0]]
}

// Dialer opens the probe connection for a move.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

func (h *Host) probe(ctx context.Context, backend platform.Backend) platform.MoveStatus {
	if backend.Address() == "" {
		// Addressless backends are local and always reachable.
		return platform.MoveSuccess
	}

	ctx, cancel := context.WithTimeout(ctx, h.moveTimeout)
	defer cancel()

	conn, err := h.dial(ctx, "tcp", backend.Address())
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return platform.MoveConnectionTimeout
		}
		h.logger.Debug().Err(err).Str("backend", backend.Name()).Msg("backend probe failed")
		return platform.MoveConnectionFailed
	}
	_ = conn.Close()
	return platform.MoveSuccess
}

// RequestMove probes the backend and moves the session there when it
// answers. The returned channel yields exactly one result.
func (h *Host) RequestMove(session platform.Session, backend platform.Backend) <-chan platform.MoveResult {
	results := make(chan platform.MoveResult, 1)

	go func() {
		defer close(results)

		managed, ok := session.(*Session)
		if !ok {
			results <- platform.MoveResult{Err: ErrSessionNotManaged}
			return
		}
		if !managed.Connected() {
			results <- platform.MoveResult{Err: fmt.Errorf("%w: %s", ErrSessionNotFound, managed.Name())}
			return
		}
		if strings.EqualFold(managed.CurrentBackend(), backend.Name()) {
			results <- platform.MoveResult{Status: platform.MoveAlreadyConnected}
			return
		}

		started := time.Now()
		status := h.probe(h.ctx, backend)
		if status == platform.MoveSuccess {
			from := managed.setBackend(backend.Name())
			h.logger.Info().
				Str("session", managed.Name()).
				Str("from", from).
				Str("to", backend.Name()).
				Dur("took", time.Since(started)).
				Msg("session moved")
			if h.observer.OnMove != nil {
				h.observer.OnMove(managed, from, backend.Name())
			}
		}
		results <- platform.MoveResult{Status: status}
	}()

	return results
}
