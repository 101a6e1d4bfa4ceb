// Package tools provides the tool registry and built-in tools.
package tools

import (
	"context"
	"net/http"
	"sort"

	"github.com/openclaw/sidekick/internal/config"
)

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the LLM.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolDefinition is the LLM-facing tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry holds all registered tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with the built-in tools for cfg.
func NewRegistry(cfg config.ToolsConfig) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.registerBuiltins(cfg)
	return r
}

// NewEmptyRegistry creates a registry with no tools.
func NewEmptyRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// registerBuiltins registers all built-in tools.
func (r *Registry) registerBuiltins(cfg config.ToolsConfig) {
	client := &http.Client{Timeout: cfg.Timeout()}
	r.Register(&readFileTool{sandbox: cfg.SandboxDir})
	r.Register(&writeFileTool{sandbox: cfg.SandboxDir})
	r.Register(&listFilesTool{sandbox: cfg.SandboxDir})
	r.Register(&searchTool{apiKey: cfg.SerperAPIKey(), endpoint: serperEndpoint, client: client})
	r.Register(&wikipediaTool{endpoint: wikipediaEndpoint, client: client})
	r.Register(&pushTool{server: cfg.NtfyServer, topic: cfg.NtfyTopic, client: client})
	r.Register(&pythonTool{bin: cfg.PythonBin, timeout: cfg.Timeout()})
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Definitions returns LLM-facing definitions for all tools, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
