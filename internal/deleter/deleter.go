// Package deleter removes objects from a remote workspace by name and drops
// them from the local snapshot so the next import does not recreate them.
package deleter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/gtmsync/internal/snapshot"
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Options struct {
	Client        tagmanager.Client
	WorkspacePath string
	// Store is optional; when set, removed objects are also dropped from it.
	Store  snapshot.Store
	Logger Logger
}

type Summary struct {
	Removed []string
	Missing []string
	// Pruned counts local snapshot entries dropped.
	Pruned int
}

// Delete deletes the named objects of kind. Names with no remote object are
// reported in Summary.Missing and make the returned error wrap
// tagmanager.ErrNotFound; the remaining names are still processed.
func Delete(ctx context.Context, opts Options, kind tagmanager.Kind, names []string) (Summary, error) {
	if err := opts.validate(names); err != nil {
		return Summary{}, err
	}
	if !kind.Valid() {
		return Summary{}, fmt.Errorf("unknown kind %q", kind)
	}
	workspacePath := strings.Trim(opts.WorkspacePath, "/")

	remote, err := opts.Client.List(ctx, kind, workspacePath)
	if err != nil {
		return Summary{}, fmt.Errorf("list %s: %w", kind.Collection(), err)
	}
	byName := map[string][]tagmanager.Object{}
	for _, obj := range remote {
		byName[obj.Name()] = append(byName[obj.Name()], obj)
	}

	var summary Summary
	for _, name := range names {
		objects := byName[name]
		if len(objects) == 0 {
			warnf(opts.Logger, "%s %q not found remotely", kind, name)
			summary.Missing = append(summary.Missing, name)
			continue
		}
		for _, obj := range objects {
			infof(opts.Logger, " - deleting %s %q", kind, name)
			if err := opts.Client.Delete(ctx, obj.Path()); err != nil {
				if errors.Is(err, tagmanager.ErrNotFound) {
					warnf(opts.Logger, "%s %q was already deleted", kind, name)
					continue
				}
				return summary, fmt.Errorf("delete %s %q: %w", kind, name, err)
			}
		}
		summary.Removed = append(summary.Removed, name)
	}

	pruned, err := prune(ctx, opts.Store, kind.Collection(), "name", names)
	summary.Pruned = pruned
	if err != nil {
		return summary, err
	}
	return summary, summary.err(kind.Collection())
}

// RevertBuiltIns disables the given built-in variable types.
func RevertBuiltIns(ctx context.Context, opts Options, types []string) (Summary, error) {
	if err := opts.validate(types); err != nil {
		return Summary{}, err
	}
	workspacePath := strings.Trim(opts.WorkspacePath, "/")

	enabled, err := opts.Client.ListBuiltInVariables(ctx, workspacePath)
	if err != nil {
		return Summary{}, fmt.Errorf("list %s: %w", tagmanager.BuiltInVariablesCollection, err)
	}
	isEnabled := map[string]bool{}
	for _, obj := range enabled {
		isEnabled[obj.String("type")] = true
	}

	var summary Summary
	for _, builtInType := range types {
		if !isEnabled[builtInType] {
			warnf(opts.Logger, "built-in variable %q is not enabled", builtInType)
			summary.Missing = append(summary.Missing, builtInType)
			continue
		}
		infof(opts.Logger, " - reverting built-in variable %q", builtInType)
		if err := opts.Client.RevertBuiltInVariable(ctx, workspacePath, builtInType); err != nil {
			if errors.Is(err, tagmanager.ErrNotFound) {
				summary.Missing = append(summary.Missing, builtInType)
				continue
			}
			return summary, fmt.Errorf("revert built-in variable %q: %w", builtInType, err)
		}
		summary.Removed = append(summary.Removed, builtInType)
	}

	pruned, err := prune(ctx, opts.Store, tagmanager.BuiltInVariablesCollection, "type", types)
	summary.Pruned = pruned
	if err != nil {
		return summary, err
	}
	return summary, summary.err(tagmanager.BuiltInVariablesCollection)
}

func (o Options) validate(targets []string) error {
	if o.Client == nil {
		return fmt.Errorf("client is required")
	}
	if strings.Trim(o.WorkspacePath, "/ ") == "" {
		return fmt.Errorf("workspace path is required")
	}
	if len(targets) == 0 {
		return fmt.Errorf("nothing to delete")
	}
	return nil
}

func (s Summary) err(collection string) error {
	if len(s.Missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s %s", tagmanager.ErrNotFound, collection, strings.Join(quoteAll(s.Missing), ", "))
}

// prune drops every object of collection whose field matches one of values
// and saves the collection when something changed.
func prune(ctx context.Context, store snapshot.Store, collection, field string, values []string) (int, error) {
	if store == nil {
		return 0, nil
	}
	objects, ok, err := store.Load(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", collection, err)
	}
	if !ok {
		return 0, nil
	}
	drop := make(map[string]bool, len(values))
	for _, value := range values {
		drop[value] = true
	}
	kept := make([]tagmanager.Object, 0, len(objects))
	for _, obj := range objects {
		if drop[obj.String(field)] {
			continue
		}
		kept = append(kept, obj)
	}
	pruned := len(objects) - len(kept)
	if pruned == 0 {
		return 0, nil
	}
	if err := store.Save(ctx, collection, kept); err != nil {
		return 0, fmt.Errorf("save %s: %w", collection, err)
	}
	return pruned, nil
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = fmt.Sprintf("%q", value)
	}
	return out
}

func infof(logger Logger, format string, args ...any) {
	if logger != nil {
		logger.Infof(format, args...)
	}
}

func warnf(logger Logger, format string, args ...any) {
	if logger != nil {
		logger.Warnf(format, args...)
	}
}
