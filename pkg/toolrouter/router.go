package toolrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reverie-labs/reverie/internal/observability"
	"github.com/reverie-labs/reverie/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Output is the structured result of one tool execution.
type Output struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Handler executes a local tool.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition declares a local tool.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Adapter exposes tools hosted outside the process, e.g. an MCP server.
type Adapter interface {
	ListTools(ctx context.Context) ([]provider.ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*Output, error)
}

// Router resolves a tool name to its local handler or external adapter.
type Router struct {
	logger zerolog.Logger

	mu           sync.RWMutex
	local        map[string]*Definition
	schemas      map[string]*gojsonschema.Schema
	adapterTools map[string]Adapter
	adapterSpecs []provider.ToolSpec
}

// Config holds router configuration.
type Config struct {
	Logger zerolog.Logger
}

// New creates an empty router.
func New(cfg Config) *Router {
	observability.EnsureRegistered()

	return &Router{
		logger:       cfg.Logger,
		local:        make(map[string]*Definition),
		schemas:      make(map[string]*gojsonschema.Schema),
		adapterTools: make(map[string]Adapter),
	}
}

// Register adds a local tool. The input schema is compiled eagerly so
// a malformed schema fails at startup, not at call time.
func (r *Router) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.local[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	if def.InputSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", def.Name, err)
		}
		r.schemas[def.Name] = schema
	}

	r.local[def.Name] = &def
	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// AddAdapter lists the adapter's tools and routes their names to it.
// Names already taken by local tools are skipped.
func (r *Router) AddAdapter(ctx context.Context, a Adapter) error {
	specs, err := a.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list adapter tools: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, spec := range specs {
		if _, exists := r.local[spec.Name]; exists {
			r.logger.Warn().Str("tool", spec.Name).Msg("Adapter tool shadowed by local tool, skipping")
			continue
		}
		if _, exists := r.adapterTools[spec.Name]; exists {
			r.logger.Warn().Str("tool", spec.Name).Msg("Adapter tool name collision, skipping")
			continue
		}
		r.adapterTools[spec.Name] = a
		r.adapterSpecs = append(r.adapterSpecs, spec)
	}

	return nil
}

// Tools returns the specs of every routable tool.
func (r *Router) Tools(ctx context.Context) []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]provider.ToolSpec, 0, len(r.local)+len(r.adapterSpecs))
	for _, def := range r.local {
		specs = append(specs, provider.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	specs = append(specs, r.adapterSpecs...)
	return specs
}

// Execute runs the named tool. Failures are reported in the Output so
// the caller's loop can continue.
func (r *Router) Execute(ctx context.Context, name string, args map[string]any) Output {
	start := time.Now()

	out := r.execute(ctx, name, args)

	status := "ok"
	if out.IsError {
		status = "error"
	}
	observability.RecordToolExecution(name, status, time.Since(start))

	r.logger.Debug().
		Str("tool", name).
		Bool("is_error", out.IsError).
		Dur("duration", time.Since(start)).
		Msg("Tool executed")

	return out
}

func (r *Router) execute(ctx context.Context, name string, args map[string]any) Output {
	r.mu.RLock()
	def, isLocal := r.local[name]
	schema := r.schemas[name]
	adapter, isAdapter := r.adapterTools[name]
	r.mu.RUnlock()

	if !isLocal && !isAdapter {
		return Output{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}
	}

	if args == nil {
		args = map[string]any{}
	}

	if isLocal {
		if schema != nil {
			result, err := schema.Validate(gojsonschema.NewGoLoader(args))
			if err != nil {
				return Output{Content: fmt.Sprintf("argument validation failed: %v", err), IsError: true}
			}
			if !result.Valid() {
				return Output{Content: fmt.Sprintf("invalid arguments for %s: %v", name, result.Errors()), IsError: true}
			}
		}

		content, err := def.Handler(ctx, args)
		if err != nil {
			return Output{Content: err.Error(), IsError: true}
		}
		return Output{Content: content}
	}

	out, err := adapter.CallTool(ctx, name, args)
	if err != nil {
		return Output{Content: err.Error(), IsError: true}
	}
	return *out
}
