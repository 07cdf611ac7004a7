package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
)

// Source identifies which subsystem owns a tool. The set of first-party
// sources is closed; anything else routes to an external tool server.
type Source int

const (
	SourceFile Source = iota
	SourceSearch
	SourceWeb
	SourceTodo
	SourceReport
	SourceExternal
)

// String returns the namespace prefix for the source.
func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceSearch:
		return "search"
	case SourceWeb:
		return "web"
	case SourceTodo:
		return "todo"
	case SourceReport:
		return "report"
	default:
		return "external"
	}
}

// SplitToolName breaks a qualified tool name into its source and bare name.
// Unknown namespaces map to SourceExternal so new tool servers need no code
// change here.
func SplitToolName(name string) (Source, string, string, error) {
	idx := strings.Index(name, "__")
	if idx <= 0 || idx+2 >= len(name) {
		return SourceExternal, "", "", fmt.Errorf("malformed tool name %q, want <source>__<tool>", name)
	}
	namespace := name[:idx]
	bare := name[idx+2:]

	switch namespace {
	case "file":
		return SourceFile, namespace, bare, nil
	case "search":
		return SourceSearch, namespace, bare, nil
	case "web":
		return SourceWeb, namespace, bare, nil
	case "todo":
		return SourceTodo, namespace, bare, nil
	case "report":
		return SourceReport, namespace, bare, nil
	default:
		return SourceExternal, namespace, bare, nil
	}
}

// Handler executes a first-party tool. The returned string is handed to the
// model verbatim as the tool result content.
type Handler func(ctx context.Context, input map[string]interface{}) (string, error)

// ToolDefinition describes a first-party tool and its handler.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     Handler

	schema *gojsonschema.Schema
}

// ToolServer is the surface the registry needs from an external tool
// server. *ToolServerClient satisfies it.
type ToolServer interface {
	ListTools(ctx context.Context) ([]agent.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
}

// Registry holds first-party tool definitions and registered external tool
// servers, and builds the catalog offered to the model.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	servers map[string]*serverEntry
	log     zerolog.Logger
}

type serverEntry struct {
	server  ToolServer
	allowed map[string]bool
	catalog []agent.ToolDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		servers: make(map[string]*serverEntry),
		log:     logger,
	}
}

// Register adds a first-party tool. The name must carry one of the
// first-party namespaces and the input schema must compile.
func (r *Registry) Register(def ToolDefinition) error {
	source, _, _, err := SplitToolName(def.Name)
	if err != nil {
		return err
	}
	if source == SourceExternal {
		return fmt.Errorf("tool %q does not belong to a first-party source", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	if def.InputSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return fmt.Errorf("tool %q has an invalid input schema: %w", def.Name, err)
		}
		def.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	r.tools[def.Name] = &def

	r.log.Debug().Str("tool", def.Name).Msg("Registered tool")
	return nil
}

// MustRegister registers a tool and panics on error. Meant for wiring up
// the built-in tool set at startup, where a bad definition is a bug.
func (r *Registry) MustRegister(def ToolDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// RegisterServer connects an external tool server under a namespace. The
// server's tools are listed once, filtered against the allowlist, and
// frozen into the catalog. An empty allowlist admits nothing.
func (r *Registry) RegisterServer(ctx context.Context, namespace string, server ToolServer, allowlist []string) error {
	if namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if source, _, _, err := SplitToolName(namespace + "__x"); err != nil {
		return err
	} else if source != SourceExternal {
		return fmt.Errorf("namespace %q collides with a first-party source", namespace)
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}

	tools, err := server.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools for %q: %w", namespace, err)
	}

	catalog := make([]agent.ToolDescriptor, 0, len(tools))
	skipped := 0
	for _, tool := range tools {
		if !allowed[tool.Name] {
			skipped++
			continue
		}
		catalog = append(catalog, agent.ToolDescriptor{
			Name:        namespace + "__" + tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[namespace]; exists {
		return fmt.Errorf("namespace %q is already registered", namespace)
	}
	r.servers[namespace] = &serverEntry{
		server:  server,
		allowed: allowed,
		catalog: catalog,
	}

	r.log.Info().
		Str("namespace", namespace).
		Int("admitted", len(catalog)).
		Int("filtered", skipped).
		Msg("Registered tool server")
	return nil
}

// Lookup returns the first-party definition for a qualified name.
func (r *Registry) Lookup(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Server returns the tool server registered under a namespace.
func (r *Registry) Server(namespace string) (ToolServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[namespace]
	if !ok {
		return nil, false
	}
	return entry.server, true
}

// Allowed reports whether a bare tool name passed the namespace allowlist.
func (r *Registry) Allowed(namespace, bare string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[namespace]
	return ok && entry.allowed[bare]
}

// Validate checks a first-party call's input against the tool's schema.
// Tools without a schema accept anything.
func (r *Registry) Validate(name string, input map[string]interface{}) error {
	def, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if def.schema == nil {
		return nil
	}

	if input == nil {
		input = map[string]interface{}{}
	}
	result, err := def.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid input for %s: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}

// Catalog returns every callable tool, first-party first, each group
// sorted by name.
func (r *Registry) Catalog() []agent.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catalog := make([]agent.ToolDescriptor, 0, len(r.tools))
	for _, def := range r.tools {
		catalog = append(catalog, agent.ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Name < catalog[j].Name })

	namespaces := make([]string, 0, len(r.servers))
	for ns := range r.servers {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		catalog = append(catalog, r.servers[ns].catalog...)
	}

	return catalog
}
