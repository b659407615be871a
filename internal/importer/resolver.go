package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

// Logger is satisfied by *log.Logger from charmbracelet/log.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

func loggerOrNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

// DependencyError reports that an object needed by another one could not be
// created. It aborts the run.
type DependencyError struct {
	Kind tagmanager.Kind
	Name string
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("create dependency %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

type Ref struct {
	Kind tagmanager.Kind
	Name string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %q", r.Kind, r.Name)
}

// CycleError reports objects that depend on each other. Chain starts and
// ends with the same reference.
type CycleError struct {
	Chain []Ref
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, ref := range e.Chain {
		parts[i] = ref.String()
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// Resolver turns name references into remote IDs, creating local-only
// objects on demand. It is bound to one registry and one run and is not safe
// for concurrent use.
type Resolver struct {
	client        tagmanager.Client
	workspacePath string
	registry      *Registry
	logger        Logger

	inProgress map[Ref]bool
	stack      []Ref
	created    int
	onCreate   func(kind tagmanager.Kind, name string)
}

func NewResolver(client tagmanager.Client, workspacePath string, registry *Registry, logger Logger) *Resolver {
	return &Resolver{
		client:        client,
		workspacePath: workspacePath,
		registry:      registry,
		logger:        loggerOrNop(logger),
		inProgress:    map[Ref]bool{},
	}
}

// Created returns how many objects Ensure has created so far.
func (r *Resolver) Created() int {
	return r.created
}

// ResolveReference returns the remote ID for value when value names a known
// object of kind. Empty values and unknown values (usually IDs already) are
// returned unchanged.
func (r *Resolver) ResolveReference(ctx context.Context, kind tagmanager.Kind, value any) (any, error) {
	name := tagmanager.StringValue(value)
	if name == "" {
		return value, nil
	}
	if !r.registry.Known(kind, name) {
		return value, nil
	}
	if _, ok := r.registry.Remote(kind, name); !ok {
		r.logger.Infof(" -> auto-creating dependency %s %q", kind, name)
	}
	id, err := r.Ensure(ctx, kind, name)
	if err != nil {
		var depErr *DependencyError
		var cycleErr *CycleError
		if errors.As(err, &depErr) || errors.As(err, &cycleErr) {
			return nil, err
		}
		return nil, &DependencyError{Kind: kind, Name: name, Err: err}
	}
	return id, nil
}

// Ensure returns the remote ID of the object called name, creating it and
// its own dependencies first when it only exists locally. A name found
// nowhere is returned as is.
func (r *Resolver) Ensure(ctx context.Context, kind tagmanager.Kind, name string) (string, error) {
	if remote, ok := r.registry.Remote(kind, name); ok {
		return remote.ID(kind), nil
	}
	local, ok := r.registry.Local(kind, name)
	if !ok {
		r.logger.Warnf("%s %q not found locally or remotely; passing the name through", kind, name)
		return name, nil
	}

	ref := Ref{Kind: kind, Name: name}
	if r.inProgress[ref] {
		chain := append(append([]Ref(nil), r.stack...), ref)
		return "", &CycleError{Chain: chain}
	}
	r.inProgress[ref] = true
	r.stack = append(r.stack, ref)
	defer func() {
		delete(r.inProgress, ref)
		r.stack = r.stack[:len(r.stack)-1]
	}()

	body := local.Clone()
	if err := r.ResolveBody(ctx, kind, body); err != nil {
		return "", err
	}
	created, err := r.client.Create(ctx, kind, r.workspacePath, Normalize(body))
	if err != nil {
		return "", fmt.Errorf("create %s %q: %w", kind, name, err)
	}
	r.registry.SetRemote(kind, name, created)
	local.Merge(created)
	r.created++
	if r.onCreate != nil {
		r.onCreate(kind, name)
	}
	return created.ID(kind), nil
}

// ResolveBody rewrites the reference fields of obj in place. Only tags carry
// modeled references: trigger ID lists and setup/teardown tag names.
func (r *Resolver) ResolveBody(ctx context.Context, kind tagmanager.Kind, obj tagmanager.Object) error {
	if kind != tagmanager.KindTag {
		return nil
	}
	for _, field := range []string{"firingTriggerId", "blockingTriggerId"} {
		ids, ok := obj[field].([]any)
		if !ok {
			continue
		}
		for i, id := range ids {
			resolved, err := r.ResolveReference(ctx, tagmanager.KindTrigger, id)
			if err != nil {
				return err
			}
			ids[i] = resolved
		}
	}
	for _, field := range []string{"setupTag", "teardownTag"} {
		if err := r.resolveSequence(ctx, obj[field]); err != nil {
			return err
		}
	}
	return nil
}

// resolveSequence handles setupTag/teardownTag, which may hold one object or
// a list of them.
func (r *Resolver) resolveSequence(ctx context.Context, value any) error {
	switch v := value.(type) {
	case map[string]any:
		return r.resolveSequenceTag(ctx, v)
	case tagmanager.Object:
		return r.resolveSequenceTag(ctx, v)
	case []any:
		for _, item := range v {
			if err := r.resolveSequence(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolveSequenceTag(ctx context.Context, seq map[string]any) error {
	tagName, ok := seq["tagName"]
	if !ok {
		return nil
	}
	resolved, err := r.ResolveReference(ctx, tagmanager.KindTag, tagName)
	if err != nil {
		return err
	}
	seq["tagName"] = resolved
	return nil
}
