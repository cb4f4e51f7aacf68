package rpc

import (
	"github.com/tandem-dev/tandem/internal/auth"
	"github.com/tandem-dev/tandem/internal/bashmgr"
	"github.com/tandem-dev/tandem/internal/broker"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/internal/session"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Deps collects the collaborators Build wires into the new Context. Every
// field mirrors a constructor argument internal/server.New already takes,
// so a process can stand up both the REST surface and this catalog from
// the same set of instances.
type Deps struct {
	Storage   *storage.Storage
	Sessions  *session.Service
	Bash      *bashmgr.Manager
	Broker    *broker.Broker
	Providers *provider.Registry
	Auth      *auth.Store
	Directory string
	AppConfig *types.Config
}

// Build registers the full procedure set against a fresh catalog and
// returns it along with the bound Context every transport dispatches
// through.
func Build(deps Deps) (*Catalog, *Context) {
	c := NewCatalog()
	rc := &Context{
		Storage:   deps.Storage,
		Sessions:  deps.Sessions,
		Bash:      deps.Bash,
		Broker:    deps.Broker,
		Providers: deps.Providers,
		Auth:      deps.Auth,
		Directory: deps.Directory,
		AppConfig: deps.AppConfig,
	}

	registerSessionProcedures(c)
	registerMessageProcedures(c)
	registerTodoProcedures(c)
	registerBashProcedures(c)
	registerEventProcedures(c)
	registerConfigProcedures(c)
	registerFileProcedures(c)
	registerAdminProcedures(c)

	return c, rc
}
