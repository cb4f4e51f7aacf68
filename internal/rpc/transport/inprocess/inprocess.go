// Package inprocess dispatches procedure calls directly against a
// rpc.Catalog with no network round trip. The input is JSON-encoded once
// so resolvers decode it exactly as they would a remote request; calls run
// against the same Context the server's transports use, and Transport
// satisfies the Caller interface that internal/rpc/client drives.
package inprocess

import (
	"context"
	"encoding/json"

	"github.com/tandem-dev/tandem/internal/rpc"
)

// Transport dispatches straight into a bound catalog and context.
type Transport struct {
	catalog *rpc.Catalog
	ctx     *rpc.Context
}

// New binds a transport to a catalog built by rpc.Build.
func New(catalog *rpc.Catalog, rc *rpc.Context) *Transport {
	return &Transport{catalog: catalog, ctx: rc}
}

// Call runs a query or mutation and returns its raw result.
func (t *Transport) Call(ctx context.Context, path string, kind rpc.Kind, input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	return t.catalog.Dispatch(ctx, t.ctx, path, kind, raw)
}

// Subscribe opens a subscription and returns its update channel and a
// cancel func. The channel closes when ctx is canceled or cancel is called.
func (t *Transport) Subscribe(ctx context.Context, path string, input any) (<-chan rpc.Update, func(), error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, nil, err
	}
	return t.catalog.DispatchSubscribe(ctx, t.ctx, path, raw)
}
