// ABOUTME: Tool descriptors, handler contract, and the immutable registry
// ABOUTME: The registry is built once at startup and never mutated after

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/finwell/loan-gateway/internal/letter"
	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/underwriting"
	"github.com/finwell/loan-gateway/internal/workflow"
)

// ErrUnknownTool is returned when a tool name has no registration.
var ErrUnknownTool = errors.New("unknown tool")

// Env bundles the shared dependencies handlers run against.
type Env struct {
	Store    store.Store
	Files    *store.FileStore
	Policy   underwriting.Policy
	Renderer *letter.Renderer
	Logger   *slog.Logger
}

// Upload is file content attached to an invocation, used by the salary slip
// tool. Non-upload tools receive a nil Upload.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Invocation is one resolved tool call. Customer is always set; App is the
// customer's active application, nil when none exists and the tool is
// read-only.
type Invocation struct {
	CallerID string
	Customer *store.Customer
	App      *store.Application
	Input    json.RawMessage
	Upload   *Upload
}

// Result is what a handler produces. Staged entities are committed together
// with the state transition by the dispatcher; a result with nothing staged
// causes no transition.
type Result struct {
	Output   json.RawMessage
	Outcome  workflow.Outcome
	Decision *store.Decision
	Document *store.Document
	Letter   *store.Letter
}

// Handler executes one tool against the environment.
type Handler func(ctx context.Context, env *Env, inv *Invocation) (*Result, error)

// Descriptor describes one registered tool.
type Descriptor struct {
	Kind        workflow.ToolKind
	Name        string
	Description string
	InputSchema *Schema
	// CreatesApplication marks tools that open a draft application for a
	// customer with no active one.
	CreatesApplication bool
	Handler            Handler
}

// ReadOnly reports whether the tool runs without the per-application lock.
func (d *Descriptor) ReadOnly() bool {
	return d.Kind.ReadOnly()
}

// Registry is the immutable tool table.
type Registry struct {
	ordered []*Descriptor
	byName  map[string]*Descriptor
}

// NewRegistry builds a registry from descriptors, preserving order for List.
func NewRegistry(descs ...*Descriptor) *Registry {
	r := &Registry{byName: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if _, dup := r.byName[d.Name]; dup {
			panic("duplicate tool registration: " + d.Name)
		}
		r.ordered = append(r.ordered, d)
		r.byName[d.Name] = d
	}
	return r
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	return r.ordered
}

// Resolve looks up a tool by its boundary name.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownTool
	}
	return d, nil
}
