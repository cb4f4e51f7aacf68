// Package server provides the HTTP server implementation for the Tandem API.
//
// The server hosts two surfaces over one chi router. The REST endpoints
// cover session lifecycle, messaging, configuration, files, and search. The
// typed procedure catalog (internal/rpc) is mounted alongside it, exposing
// the same service layer as queries, mutations, and subscriptions over
// plain HTTP POST, SSE, and a multiplexed WebSocket.
//
// # Core Components
//
//   - HTTP Server: Chi-based router with middleware for CORS, logging, and recovery
//   - Session Management: AI conversation sessions driven by the streaming processor
//   - Event Broker: persistent, cursor-addressable channel log with live fan-out
//   - Bash Manager: single active slot plus background process pool
//   - Provider Integration: Anthropic, OpenAI-compatible, and ARK adapters
//   - Tool Registry: extensible tool system for AI capabilities
//   - MCP Integration: Model Context Protocol support for external tools
//
// # API Endpoints
//
//   - /session/*: session lifecycle management and messaging
//   - /file/*, /find/*: file system operations, Git status, and search
//   - /config/*, /provider/*, /auth/*: configuration and provider credentials
//   - /event, /global/event: real-time event streaming via SSE
//   - /events/*: broker channel subscription, info, and cleanup
//   - /bash/*: shell process lifecycle (execute, kill, demote, promote)
//   - /mcp/*: Model Context Protocol server management
//   - /rpc, /rpc/stream, /rpc/ws: the typed procedure catalog
//
// # Event System
//
// Side-effecting handlers publish through the in-process bus, which the
// broker bridge persists onto named channels. SSE clients either take the
// legacy per-session feed (/event) or subscribe to a broker channel with a
// cursor for gapless replay-then-live delivery.
//
// # Usage Example
//
//	config := server.DefaultConfig()
//	config.Port = 8080
//	config.Directory = "/path/to/project"
//
//	srv := server.New(config, appConfig, storage, providerRegistry, toolRegistry)
//
//	// Initialize MCP servers
//	if err := srv.InitializeMCP(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.CloseMCP()
//
//	// Start server
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//
// The implementation favors composition over inheritance; each major
// component (sessions, tools, providers, broker, bash manager) is
// constructed once in New and threaded into handlers as a field.
package server
