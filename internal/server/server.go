// Package server provides the HTTP server for the Tandem API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tandem-dev/tandem/internal/auth"
	"github.com/tandem-dev/tandem/internal/bashmgr"
	"github.com/tandem-dev/tandem/internal/broker"
	"github.com/tandem-dev/tandem/internal/command"
	"github.com/tandem-dev/tandem/internal/config"
	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/internal/mcp"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/internal/rpc"
	"github.com/tandem-dev/tandem/internal/rpc/transport/httptransport"
	"github.com/tandem-dev/tandem/internal/rpc/transport/ssetransport"
	"github.com/tandem-dev/tandem/internal/rpc/transport/wstransport"
	"github.com/tandem-dev/tandem/internal/session"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/internal/tool"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Directory    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		Directory:    "",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config           *Config
	router           *chi.Mux
	httpSrv          *http.Server
	appConfig        *types.Config
	storage          *storage.Storage
	sessionService   *session.Service
	providerReg      *provider.Registry
	toolReg          *tool.Registry
	bus              *event.Bus
	mcpClient        *mcp.Client
	commandExecutor  *command.Executor
	broker           *broker.Broker
	bashManager      *bashmgr.Manager
	authStore        *auth.Store
	rpcCatalog       *rpc.Catalog
	rpcContext       *rpc.Context
	cfgWatcher       *config.Watcher
}

// New creates a new Server instance.
func New(cfg *Config, appConfig *types.Config, store *storage.Storage, providerReg *provider.Registry, toolReg *tool.Registry) *Server {
	r := chi.NewRouter()

	// Parse default provider and model from config
	// Format: "provider/model" (e.g., "ark/ep-xxx" or "anthropic/claude-sonnet-4-20250514")
	var defaultProviderID, defaultModelID string
	if appConfig != nil && appConfig.Model != "" {
		parts := strings.SplitN(appConfig.Model, "/", 2)
		if len(parts) == 2 {
			defaultProviderID = parts[0]
			defaultModelID = parts[1]
		}
	}

	// Create MCP client
	mcpClient := mcp.NewClient()

	// Create command executor
	cmdExecutor := command.NewExecutor(cfg.Directory, appConfig)

	// Event broker (persistent, cursor-addressable channel log) and bash
	// process manager (single active slot + background pool).
	evBroker := broker.New(store)
	broker.BridgeFromEventBus(evBroker)
	bashMgr := bashmgr.New(cfg.Directory, evBroker)
	authStore := auth.NewStore(config.GetPaths().AuthPath())

	sessionService := session.NewServiceWithProcessor(store, providerReg, toolReg, nil, defaultProviderID, defaultModelID)
	sessionService.SetCommandExecutor(cmdExecutor)
	sessionService.SetShellRunner(newShellRunnerAdapter(bashMgr))
	toolReg.AttachProcessManager(bashMgr)
	toolReg.RegisterAskTool(sessionService.GetAskQueue())

	rpcCatalog, rpcContext := rpc.Build(rpc.Deps{
		Storage:   store,
		Sessions:  sessionService,
		Bash:      bashMgr,
		Broker:    evBroker,
		Providers: providerReg,
		Auth:      authStore,
		Directory: cfg.Directory,
		AppConfig: appConfig,
	})

	s := &Server{
		config:           cfg,
		router:           r,
		appConfig:        appConfig,
		storage:          store,
		sessionService:   sessionService,
		providerReg:      providerReg,
		toolReg:          toolReg,
		bus:              event.NewBus(),
		mcpClient:        mcpClient,
		commandExecutor:  cmdExecutor,
		broker:           evBroker,
		bashManager:      bashMgr,
		authStore:        authStore,
		rpcCatalog:       rpcCatalog,
		rpcContext:       rpcContext,
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupRPCRoutes()

	// On-disk config edits surface as a notification only; subscribers
	// re-fetch through config.load, which strips secrets.
	if watcher, err := config.Watch(cfg.Directory, func(*types.Config) {
		_, _ = evBroker.Publish(context.Background(), "config:file", "config-changed", map[string]any{
			"changedAt": time.Now().UnixMilli(),
		})
	}); err == nil {
		s.cfgWatcher = watcher
	}

	return s
}

// setupRPCRoutes mounts the typed procedure catalog alongside the existing
// REST surface: one-shot queries and mutations over plain HTTP POST,
// subscriptions over both SSE (for browser EventSource clients) and a
// single multiplexed WebSocket.
func (s *Server) setupRPCRoutes() {
	httptransport.Mount(s.router, "/rpc", s.rpcCatalog, s.rpcContext)
	ssetransport.Mount(s.router, "/rpc/stream", s.rpcCatalog, s.rpcContext)
	wstransport.Mount(s.router, "/rpc/ws", s.rpcCatalog, s.rpcContext)
}

// InitializeMCP initializes MCP servers from configuration.
func (s *Server) InitializeMCP(ctx context.Context) error {
	if s.appConfig == nil || s.appConfig.MCP == nil {
		return nil
	}

	for name, cfg := range s.appConfig.MCP {
		enabled := cfg.Enabled == nil || *cfg.Enabled
		mcpCfg := &mcp.Config{
			Enabled:     enabled,
			Type:        mcp.TransportType(cfg.Type),
			URL:         cfg.URL,
			Headers:     cfg.Headers,
			Command:     cfg.Command,
			Environment: cfg.Environment,
			Timeout:     cfg.Timeout,
		}
		if err := s.mcpClient.AddServer(ctx, name, mcpCfg); err != nil {
			// Skip a server that fails to start; the others still load
			continue
		}
	}

	return nil
}

// CloseMCP closes all MCP server connections.
func (s *Server) CloseMCP() error {
	if s.mcpClient != nil {
		return s.mcpClient.Close()
	}
	return nil
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Logging
	s.router.Use(middleware.Logger)

	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Real IP
	s.router.Use(middleware.RealIP)

	// CORS
	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Instance context
	s.router.Use(s.instanceContext)
}

// instanceContext middleware injects directory into context.
func (s *Server) instanceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get directory from query or use default
		dir := r.URL.Query().Get("directory")
		if dir == "" {
			dir = s.config.Directory
		}

		ctx := context.WithValue(r.Context(), contextKeyDirectory, dir)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfgWatcher != nil {
		_ = s.cfgWatcher.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MCPClient returns the server's MCP client.
func (s *Server) MCPClient() *mcp.Client {
	return s.mcpClient
}

// ToolRegistry returns the server's tool registry.
func (s *Server) ToolRegistry() *tool.Registry {
	return s.toolReg
}

// Context keys
type contextKey string

const (
	contextKeyDirectory contextKey = "directory"
)

// getDirectory returns the directory from context.
func getDirectory(ctx context.Context) string {
	if dir, ok := ctx.Value(contextKeyDirectory).(string); ok {
		return dir
	}
	return ""
}
