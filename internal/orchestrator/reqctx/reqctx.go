// Package reqctx implements the per-request owner of a tool handler
// snapshot, enforcing turn and wall-clock budgets for one user request.
package reqctx

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/orchestrator/tools"
)

// Config bounds a RequestContext's lifetime and behavior.
type Config struct {
	MaxTurns   uint32
	Timeout    time.Duration
	PreloadAll bool
}

// DefaultConfig returns the defaults spec.md §4.C names.
func DefaultConfig() Config {
	return Config{MaxTurns: 75, Timeout: 300 * time.Second, PreloadAll: true}
}

// Context owns a snapshot of tool handlers and definitions for the
// duration of one user request. Go has no deterministic destructor, so
// callers MUST `defer ctx.Close()` to replicate the source's Drop-based
// handler release.
type Context struct {
	RequestID string

	startedAt time.Time
	config    Config
	handlers  map[string]tools.Handler
	defs      map[string]tools.Definition
	turnCount atomic.Uint32
	vars      sync.Map

	// lazyRegistry is non-nil only when Config.PreloadAll is false, in
	// which case handlers are looked up from it on each call instead of
	// being materialized at construction time.
	lazyRegistry *tools.Registry

	closeOnce sync.Once
}

// New creates a RequestContext, snapshotting the registry's current
// catalog. If cfg.PreloadAll is true (the default), every handler is
// materialized immediately; otherwise each ExecuteTool call looks its
// handler up in the live registry.
func New(requestID string, cfg Config, registry *tools.Registry) (*Context, error) {
	defs := registry.List()
	c := &Context{
		RequestID: requestID,
		startedAt: time.Now(),
		config:    cfg,
		handlers:  make(map[string]tools.Handler, len(defs)),
		defs:      make(map[string]tools.Definition, len(defs)),
	}
	for _, d := range defs {
		c.defs[d.Name] = d
		if cfg.PreloadAll {
			h, ok := registry.Get(d.Name)
			if !ok {
				return nil, errs.Newf(errs.KindInternal, "registry returned definition %q with no handler", d.Name)
			}
			c.handlers[d.Name] = h
		}
	}
	if !cfg.PreloadAll {
		c.lazyRegistry = registry
	}
	return c, nil
}

// IncrementTurn atomically advances the turn counter. Returns a
// *errs.TurnLimitError if the new count exceeds MaxTurns.
func (c *Context) IncrementTurn() error {
	n := c.turnCount.Add(1)
	if n > c.config.MaxTurns {
		return &errs.TurnLimitError{Current: n, Max: c.config.MaxTurns}
	}
	return nil
}

// RemainingTurns reports MaxTurns minus the current count, saturating at
// zero.
func (c *Context) RemainingTurns() uint32 {
	used := c.turnCount.Load()
	if used >= c.config.MaxTurns {
		return 0
	}
	return c.config.MaxTurns - used
}

// IsTimedOut reports whether the request's wall-clock budget has elapsed.
func (c *Context) IsTimedOut() bool {
	return time.Since(c.startedAt) > c.config.Timeout
}

// ExecuteTool increments the turn counter, checks the timeout, locates the
// handler, and executes it against input.
func (c *Context) ExecuteTool(ctx context.Context, name string, input json.RawMessage) (*tools.Result, error) {
	if err := c.IncrementTurn(); err != nil {
		return nil, err
	}
	if c.IsTimedOut() {
		return nil, errs.New(errs.KindTimeout, "request timeout exceeded")
	}
	handler, ok := c.handlers[name]
	if !ok && c.lazyRegistry != nil {
		handler, ok = c.lazyRegistry.Get(name)
	}
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "tool not found: %s", name)
	}
	return handler.Execute(ctx, input)
}

// Definitions returns the request's tool catalog snapshot.
func (c *Context) Definitions() []tools.Definition {
	out := make([]tools.Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	return out
}

// SetVar stores a request-scoped variable.
func (c *Context) SetVar(key string, value any) { c.vars.Store(key, value) }

// GetVar retrieves a request-scoped variable.
func (c *Context) GetVar(key string) (any, bool) { return c.vars.Load(key) }

// Close releases the context's handler snapshot. Safe to call multiple
// times; subsequent calls are no-ops.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.handlers = nil
		c.defs = nil
	})
}
