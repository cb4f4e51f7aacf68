package rpc

import (
	"testing"

	"github.com/tandem-dev/tandem/internal/auth"
	"github.com/tandem-dev/tandem/internal/bashmgr"
	"github.com/tandem-dev/tandem/internal/broker"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/internal/session"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/internal/tool"
	"github.com/tandem-dev/tandem/pkg/types"
)

// newTestCatalog builds a fully-wired catalog and context against temp
// storage, the same shape internal/server.New assembles at startup.
func newTestCatalog(t *testing.T) (*Catalog, *Context) {
	t.Helper()

	store := storage.New(t.TempDir())
	evBroker := broker.New(store)
	t.Cleanup(broker.BridgeFromEventBus(evBroker))
	bashMgr := bashmgr.New(t.TempDir(), evBroker)
	authStore := auth.NewStore(t.TempDir() + "/auth.json")
	providerReg := provider.NewRegistry(&types.Config{})
	toolReg := tool.NewRegistry(t.TempDir(), store)
	sessionService := session.NewServiceWithProcessor(store, providerReg, toolReg, nil, "", "")

	return Build(Deps{
		Storage:   store,
		Sessions:  sessionService,
		Bash:      bashMgr,
		Broker:    evBroker,
		Providers: providerReg,
		Auth:      authStore,
		Directory: t.TempDir(),
		AppConfig: &types.Config{Model: "anthropic/claude-sonnet-4"},
	})
}
