package toolexec

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/prasetya/mika/internal/observability"
	"github.com/prasetya/mika/internal/tracing"
	"github.com/prasetya/mika/pkg/message"
	"github.com/prasetya/mika/pkg/provider"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxParallel = 4
	maxOutputBytes     = 10 * 1024
)

// ToolPolicy defines which tools may execute. Deny entries override
// allow entries; "*" matches every tool.
type ToolPolicy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// IsToolAllowed checks if a tool is allowed by the policy. A nil policy
// allows everything.
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// ToolParameter defines a parameter for a tool.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolHandler executes a tool. The ctx carries the per-call timeout and
// loop cancellation; handlers must honor it. Params have already been
// validated against the tool's schema.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (string, error)

// ToolDefinition defines a tool's metadata and handler. Timeout
// overrides the dispatcher default when positive.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	Timeout     time.Duration   `json:"-"`
}

// Dispatcher manages tool registration and execution. Execute and
// DispatchAll never return an error to the caller; every failure mode
// becomes an is_error result so the loop can feed it back to the model.
type Dispatcher struct {
	tools       map[string]*ToolDefinition
	schemas     map[string]*gojsonschema.Schema
	specs       map[string]map[string]interface{}
	policy      *ToolPolicy
	maxParallel int
	mu          sync.RWMutex
}

// New creates a Dispatcher with the default fan-out bound.
func New() *Dispatcher {
	return &Dispatcher{
		tools:       make(map[string]*ToolDefinition),
		schemas:     make(map[string]*gojsonschema.Schema),
		specs:       make(map[string]map[string]interface{}),
		maxParallel: defaultMaxParallel,
	}
}

// SetPolicy installs a tool policy checked on every execution.
func (d *Dispatcher) SetPolicy(policy *ToolPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = policy
}

// SetMaxParallel bounds concurrent executions in DispatchAll.
func (d *Dispatcher) SetMaxParallel(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > 0 {
		d.maxParallel = n
	}
}

// Register validates a tool definition, compiles its schema, and adds it
// to the registry.
func (d *Dispatcher) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tools[def.Name] = &def
	d.schemas[def.Name] = schema
	d.specs[def.Name] = schemaMap

	log.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.tools, name)
	delete(d.schemas, name)
	delete(d.specs, name)
}

// ListTools returns registered tool names, sorted.
func (d *Dispatcher) ListTools() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the provider-facing descriptions of all registered
// tools, sorted by name.
func (d *Dispatcher) Specs() []provider.ToolSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specs := make([]provider.ToolSpec, 0, len(d.tools))
	for name, def := range d.tools {
		specs = append(specs, provider.ToolSpec{
			Name:        name,
			Description: def.Description,
			Parameters:  d.specs[name],
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs one tool call to completion. Unknown tools, malformed or
// invalid arguments, handler errors, panics, and timeouts all produce an
// is_error result; the handler never observes input that failed
// validation.
func (d *Dispatcher) Execute(ctx context.Context, call message.ToolCallBlock) message.ToolResultBlock {
	startTime := time.Now()

	fail := func(format string, args ...interface{}) message.ToolResultBlock {
		observability.RecordToolExecution(call.Name, false, time.Since(startTime))
		return message.ToolResultBlock{
			CallID:  call.ID,
			Output:  fmt.Sprintf(format, args...),
			IsError: true,
		}
	}

	if call.ArgsInvalid {
		log.Warn().Str("tool", call.Name).Str("call_id", call.ID).Msg("Tool call arguments were not valid JSON")
		return fail("tool %s: arguments were not valid JSON", call.Name)
	}

	d.mu.RLock()
	tool := d.tools[call.Name]
	schema := d.schemas[call.Name]
	policy := d.policy
	d.mu.RUnlock()

	if !policy.IsToolAllowed(call.Name) {
		log.Warn().Str("tool", call.Name).Msg("Tool execution blocked by policy")
		observability.RecordSecurityAudit(ctx, "policy_block:"+call.Name, tracing.GetSessionID(ctx), "blocked", nil)
		return fail("tool %s is not allowed by policy", call.Name)
	}

	if tool == nil {
		log.Error().Str("tool", call.Name).Msg("Tool not found")
		return fail("tool not found: %s", call.Name)
	}

	params := call.ArgumentsMap()
	if err := validateParams(schema, params); err != nil {
		log.Error().Str("tool", call.Name).Err(err).Msg("Parameter validation failed")
		return fail("tool %s: %v", call.Name, err)
	}

	timeout := defaultTimeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("Executing tool")

	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		output, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- output
		}
	}()

	select {
	case output := <-resultChan:
		duration := time.Since(startTime)
		output, truncated := truncateOutput(output)

		log.Debug().
			Str("tool", call.Name).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		observability.RecordToolExecution(call.Name, true, duration)
		observability.RecordToolAudit(ctx, call.Name, tracing.GetSessionID(ctx), "success", nil)

		return message.ToolResultBlock{CallID: call.ID, Output: output}

	case err := <-errChan:
		duration := time.Since(startTime)
		log.Error().
			Str("tool", call.Name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		observability.RecordToolAudit(ctx, call.Name, tracing.GetSessionID(ctx), "failure", nil)

		return fail("%v", err)

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			log.Warn().Str("tool", call.Name).Msg("Tool execution cancelled")
			return fail("tool %s: cancelled", call.Name)
		}
		log.Error().
			Str("tool", call.Name).
			Dur("timeout", timeout).
			Msg("Tool execution timeout")

		return fail("tool %s: timeout after %v", call.Name, timeout)
	}
}

// DispatchAll executes a batch of calls with bounded fan-out and returns
// results in request order regardless of completion order.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []message.ToolCallBlock) []message.ToolResultBlock {
	if len(calls) == 0 {
		return nil
	}

	d.mu.RLock()
	maxParallel := d.maxParallel
	d.mu.RUnlock()

	results := make([]message.ToolResultBlock, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call message.ToolCallBlock) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}

	return nil
}

func buildSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// validateParams checks params against the compiled schema, reporting
// the first violation.
func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("invalid arguments: %s", result.Errors()[0].String())
	}
	return nil
}

func truncateOutput(output string) (string, bool) {
	if len(output) <= maxOutputBytes {
		return output, false
	}

	log.Warn().
		Int("original", len(output)).
		Int("truncated", maxOutputBytes).
		Msg("Output truncated")

	return output[:maxOutputBytes] + "\n... [output truncated]", true
}
