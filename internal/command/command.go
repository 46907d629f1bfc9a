// Package command maps named commands such as "project:create" or
// "agenda:next" to handlers. The CLI run command, the HTTP run endpoint and
// the MCP server all dispatch through one Registry.
package command

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
)

// Handler runs a command with decoded arguments.
type Handler func(ctx context.Context, args Args) (any, error)

// Command is a registered command.
type Command struct {
	Name    string  `json:"name"`
	Summary string  `json:"summary"`
	Handler Handler `json:"-"`
}

// Group is the prefix before the colon, e.g. "agenda".
func (c Command) Group() string {
	g, _, _ := strings.Cut(c.Name, ":")
	return g
}

// Result is the envelope every command returns.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Registry holds commands by name.
type Registry struct {
	cmds map[string]Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cmds: map[string]Command{}}
}

// Register adds c, replacing any command with the same name.
func (r *Registry) Register(c Command) {
	r.cmds[c.Name] = c
}

// Lookup returns the command called name.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.cmds[name]
	return c, ok
}

// Commands lists every command sorted by name.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names lists every command name sorted.
func (r *Registry) Names() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}

// Exec runs name and returns its data or error.
func (r *Registry) Exec(ctx context.Context, name string, args Args) (any, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, apperr.NotFound("command", name)
	}
	start := time.Now()
	data, err := c.Handler(ctx, args)
	if err != nil {
		zap.L().Debug("command: failed", zap.String("command", name), zap.Error(err))
		return nil, err
	}
	zap.L().Debug("command: done", zap.String("command", name), zap.Duration("elapsed", time.Since(start)))
	return data, nil
}

// Run is Exec wrapped in a Result envelope.
func (r *Registry) Run(ctx context.Context, name string, args Args) Result {
	if _, ok := r.Lookup(name); !ok {
		return Result{Error: "Unknown command: " + name}
	}
	data, err := r.Exec(ctx, name, args)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Data: data}
}
