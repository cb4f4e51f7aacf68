// Package rpc implements the typed procedure catalog described in the
// RPC/event-stream framework: a single registry of queries, mutations, and
// subscriptions dispatched identically whether the caller is in-process
// (internal/rpc/transport/inprocess), over HTTP
// (internal/rpc/transport/httptransport), over Server-Sent Events
// (internal/rpc/transport/ssetransport), or over WebSocket
// (internal/rpc/transport/wstransport).
//
// A Procedure's fully-qualified dotted path (e.g. "session.updateTitle") is
// its dispatch key. The catalog is built once at startup by Build and is
// immutable afterward; every transport holds the same *Catalog and the same
// *Context, so a procedure behaves identically no matter which transport
// carried the call.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/auth"
	"github.com/tandem-dev/tandem/internal/bashmgr"
	"github.com/tandem-dev/tandem/internal/broker"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/internal/session"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Kind is the procedure's calling convention.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// Context is bound once per server process and injected into every
// resolver. Resolvers never reach for process-global state; everything
// they need to read or write arrives through this struct.
type Context struct {
	Storage   *storage.Storage
	Sessions  *session.Service
	Bash      *bashmgr.Manager
	Broker    *broker.Broker
	Providers *provider.Registry
	Auth      *auth.Store
	Directory string

	// AppConfig is the live, in-memory application config (sanitized of
	// secrets only when leaving via config.load; on every config.save the
	// stored secrets are carried over from the previous AppConfig and any
	// secret values the client sent are ignored).
	mu        sync.RWMutex
	AppConfig *types.Config
}

// ConfigSnapshot returns the current config under the read lock.
func (rc *Context) ConfigSnapshot() *types.Config {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.AppConfig
}

// SetConfig replaces the live config under the write lock.
func (rc *Context) SetConfig(cfg *types.Config) {
	rc.mu.Lock()
	rc.AppConfig = cfg
	rc.mu.Unlock()
}

// Update is one item produced by a subscription resolver: the broker event
// that triggered it, already in the shape the procedure wants the client to
// see. Payload is left as raw JSON so transports can forward it verbatim
// instead of round-tripping through Go values.
type Update struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Cursor  broker.Cursor   `json:"cursor"`
	Payload json.RawMessage `json:"payload"`
}

// Resolver is a one-shot query/mutation implementation.
type Resolver func(ctx context.Context, rc *Context, input json.RawMessage) (any, error)

// SubscriptionResolver returns a lazy sequence of Updates. The returned
// cancel func must be called exactly once when the caller is done.
type SubscriptionResolver func(ctx context.Context, rc *Context, input json.RawMessage) (<-chan Update, func(), error)

// Procedure is one entry in the catalog. A procedure may carry both a
// Resolve and a Subscribe function, letting a client choose fetch-once or
// subscribe on the same path.
type Procedure struct {
	Path       string
	Kind       Kind
	Resolve    Resolver
	Subscribe  SubscriptionResolver
	Optimistic *OptimisticSpec
}

// Catalog is the immutable, path-keyed procedure registry.
type Catalog struct {
	procs map[string]*Procedure
	// order preserves registration order for introspection
	// (admin.getAPIInventory).
	order []string
}

// NewCatalog returns an empty catalog ready for registration. Callers
// normally use Build, which registers the full procedure set.
func NewCatalog() *Catalog {
	return &Catalog{procs: make(map[string]*Procedure)}
}

// Register adds a procedure. Registering the same path twice panics: the
// path→resolver table is fixed once the catalog finishes booting and never
// mutates afterward.
func (c *Catalog) Register(p *Procedure) {
	if _, exists := c.procs[p.Path]; exists {
		panic(fmt.Sprintf("rpc: procedure %q already registered", p.Path))
	}
	c.procs[p.Path] = p
	c.order = append(c.order, p.Path)
}

// Lookup returns the procedure at path, or (nil, false).
func (c *Catalog) Lookup(path string) (*Procedure, bool) {
	p, ok := c.procs[path]
	return p, ok
}

// Paths returns every registered path in registration order.
func (c *Catalog) Paths() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Dispatch resolves and invokes a query or mutation. It is the single
// entry point every transport funnels through.
func (c *Catalog) Dispatch(ctx context.Context, rc *Context, path string, kind Kind, input json.RawMessage) (any, error) {
	p, ok := c.Lookup(path)
	if !ok {
		return nil, apperror.NotFound("no procedure registered at %q", path)
	}
	if kind != "" && p.Kind != kind {
		return nil, apperror.Validation("procedure %q is a %s, not a %s", path, p.Kind, kind)
	}
	if p.Resolve == nil {
		return nil, apperror.Validation("procedure %q has no one-shot resolver", path)
	}
	return p.Resolve(ctx, rc, input)
}

// DispatchSubscribe resolves and invokes a subscription procedure.
func (c *Catalog) DispatchSubscribe(ctx context.Context, rc *Context, path string, input json.RawMessage) (<-chan Update, func(), error) {
	p, ok := c.Lookup(path)
	if !ok {
		return nil, nil, apperror.NotFound("no procedure registered at %q", path)
	}
	if p.Subscribe == nil {
		return nil, nil, apperror.Validation("procedure %q has no subscription resolver", path)
	}
	return p.Subscribe(ctx, rc, input)
}

// decode unmarshals input into v, wrapping any failure as a validation
// error. A nil/empty input decodes to the zero value of v.
func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return apperror.Wrap(apperror.KindValidation, "invalid input", err)
	}
	return nil
}
