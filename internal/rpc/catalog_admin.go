package rpc

import (
	"context"
	"encoding/json"
	"runtime"
	"runtime/debug"

	"github.com/tandem-dev/tandem/internal/apperror"
)

// registerAdminProcedures adds the admin.* group: operational endpoints
// that don't belong to any single domain object.
func registerAdminProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "admin.deleteAllSessions",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			sessions, err := rc.Sessions.List(ctx, "")
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "list sessions", err)
			}
			deleted := 0
			for _, s := range sessions {
				if err := rc.Sessions.Delete(ctx, s.ID); err == nil {
					deleted++
				}
			}
			return map[string]int{"deleted": deleted}, nil
		},
	})

	c.Register(&Procedure{
		Path: "admin.getSystemStats",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			sessions, _ := rc.Sessions.List(ctx, "")
			return map[string]any{
				"goroutines":   runtime.NumGoroutine(),
				"heapAllocMB":  mem.HeapAlloc / (1 << 20),
				"sessionCount": len(sessions),
				"bashActive":   activeBashID(rc),
			}, nil
		},
	})

	c.Register(&Procedure{
		Path: "admin.getHealth",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			return map[string]string{"status": "ok"}, nil
		},
	})

	c.Register(&Procedure{
		Path: "admin.forceGC",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			debug.FreeOSMemory()
			return map[string]bool{"ok": true}, nil
		},
	})

	c.Register(&Procedure{
		Path: "admin.getAPIInventory",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			paths := c.Paths()
			inventory := make([]map[string]string, 0, len(paths))
			for _, p := range paths {
				proc, _ := c.Lookup(p)
				inventory = append(inventory, map[string]string{"path": p, "kind": string(proc.Kind)})
			}
			return inventory, nil
		},
	})

	c.Register(&Procedure{
		Path: "admin.getAPIDocs",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			return map[string]string{
				"description": "Dotted-path procedure catalog; see admin.getAPIInventory for the live list of registered paths.",
			}, nil
		},
	})
}

func activeBashID(rc *Context) string {
	if rc.Bash == nil {
		return ""
	}
	id, ok := rc.Bash.GetActiveBashId()
	if !ok {
		return ""
	}
	return id
}
