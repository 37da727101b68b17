// Package mcptools bridges Model Context Protocol servers into an
// agentrt.ToolResolver, so tools discovered on a remote MCP server are
// invocable by an agent exactly like a locally registered Tool.
package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hearthside-labs/agentrt"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// Server tracks one connected MCP server and the tool names it contributed
// to a ToolResolver.
type Server struct {
	name      string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Status reports one connected server's health for diagnostics.
type Status struct {
	Name      string
	Connected bool
	ToolCount int
	Error     string
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Name: s.name, Connected: s.connected.Load(), ToolCount: len(s.toolNames), Error: s.lastErr}
}

// Connect dials cfg's MCP server, performs the initialize handshake, lists
// its tools, and registers a bridging agentrt.Tool into resolver for each
// one found. Registration goes through ToolResolver.Register, so a
// discovered tool whose name is already registered replaces the existing
// tool; collisions are not detected. ctx bounds only the connect, handshake
// and listing calls: the returned Server's health loop keeps running, with
// exponential-backoff reconnect attempts, until Close is called.
func Connect(ctx context.Context, cfg ServerConfig, resolver *agentrt.ToolResolver, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	client, err := createClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("mcptools: create client: %w", err)
	}

	if cfg.Transport != TransportStdio {
		if err := client.Start(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("mcptools: start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "agentrt", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return nil, fmt.Errorf("mcptools: initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("mcptools: list tools: %w", err)
	}

	srv := &Server{name: cfg.Name, client: client}
	srv.connected.Store(true)

	var names []string
	for _, t := range listed.Tools {
		bridged := bridgeTool(cfg.Name, t, client, cfg.ToolPrefix, &srv.connected)
		resolver.Register(bridged)
		names = append(names, bridged.Name)
	}
	srv.toolNames = names

	hctx, hcancel := context.WithCancel(context.Background())
	srv.cancel = hcancel
	go srv.healthLoop(hctx, log)

	log.Info("mcptools: server connected", "server", cfg.Name, "tools", len(names))
	return srv, nil
}

// Close stops the health loop and closes the underlying client connection.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.client.Close()
}

// ToolNames returns the names this server registered into the resolver.
func (s *Server) ToolNames() []string {
	return append([]string{}, s.toolNames...)
}

func createClient(cfg ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case TransportStdio, "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}

// bridgeTool wraps one MCP-discovered tool as an agentrt.Tool whose Execute
// proxies to client.CallTool. A disconnected server (per the connected
// flag the health loop maintains) fails fast with an error result instead
// of hanging on a dead transport.
func bridgeTool(serverName string, t mcpgo.Tool, client *mcpclient.Client, prefix string, connected *atomic.Bool) agentrt.Tool {
	name := t.Name
	if prefix != "" {
		name = prefix + t.Name
	}

	schema := agentrt.ToolSchema{
		Name:        name,
		Description: t.Description,
		InputSchema: schemaToMap(t.InputSchema),
	}

	return agentrt.Tool{
		Name:        name,
		Description: t.Description,
		Schema:      schema,
		Execute: func(ctx context.Context, args map[string]any, callCtx agentrt.ToolCallContext, toolCallId string) (agentrt.ToolResultMsg, error) {
			if !connected.Load() {
				return agentrt.ToolResultMsg{Text: fmt.Sprintf("mcp server %q unreachable", serverName), IsError: true}, nil
			}

			req := mcpgo.CallToolRequest{}
			req.Params.Name = t.Name
			req.Params.Arguments = args

			res, err := client.CallTool(ctx, req)
			if err != nil {
				return agentrt.ToolResultMsg{}, fmt.Errorf("mcp call %s: %w", t.Name, err)
			}

			var sb strings.Builder
			for _, c := range res.Content {
				if tc, ok := c.(mcpgo.TextContent); ok {
					sb.WriteString(tc.Text)
				}
			}
			return agentrt.ToolResultMsg{Text: sb.String(), IsError: res.IsError}, nil
		},
	}
}

func schemaToMap(s mcpgo.ToolInputSchema) map[string]any {
	out := map[string]any{"type": s.Type}
	if len(s.Properties) > 0 {
		out["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (s *Server) healthLoop(ctx context.Context, log *slog.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.Ping(ctx); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "method not found") {
					s.markHealthy()
					continue
				}
				s.connected.Store(false)
				s.mu.Lock()
				s.lastErr = err.Error()
				s.mu.Unlock()
				log.Warn("mcptools: server health check failed", "server", s.name, "error", err)
				s.tryReconnect(ctx, log)
			} else {
				s.markHealthy()
			}
		}
	}
}

func (s *Server) markHealthy() {
	s.connected.Store(true)
	s.mu.Lock()
	s.reconnAttempts = 0
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Server) tryReconnect(ctx context.Context, log *slog.Logger) {
	s.mu.Lock()
	if s.reconnAttempts >= maxReconnectAttempts {
		s.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		s.mu.Unlock()
		log.Error("mcptools: reconnect exhausted", "server", s.name)
		return
	}
	s.reconnAttempts++
	attempt := s.reconnAttempts
	s.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := s.client.Ping(ctx); err == nil {
		s.markHealthy()
		log.Info("mcptools: server reconnected", "server", s.name)
	}
}
