// Package exporter copies a remote workspace into a snapshot store.
package exporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/gtmsync/internal/snapshot"
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

type Logger interface {
	Infof(format string, args ...any)
}

type Options struct {
	Client        tagmanager.Client
	Store         snapshot.Store
	WorkspacePath string
	Logger        Logger
}

// Summary holds the number of objects saved per collection.
type Summary struct {
	Counts map[string]int
}

func (s Summary) Total() int {
	total := 0
	for _, count := range s.Counts {
		total += count
	}
	return total
}

type exportStep struct {
	collection string
	list       func(ctx context.Context) ([]tagmanager.Object, error)
}

// Export lists tags, triggers, variables and built-in variables, saving each
// collection as soon as it is fetched. The first failure stops the export.
func Export(ctx context.Context, opts Options) (Summary, error) {
	summary := Summary{Counts: map[string]int{}}
	if opts.Client == nil {
		return summary, fmt.Errorf("client is required")
	}
	if opts.Store == nil {
		return summary, fmt.Errorf("store is required")
	}
	workspacePath := strings.Trim(strings.TrimSpace(opts.WorkspacePath), "/")
	if workspacePath == "" {
		return summary, fmt.Errorf("workspace path is required")
	}

	var steps []exportStep
	for _, kind := range []tagmanager.Kind{tagmanager.KindTag, tagmanager.KindTrigger, tagmanager.KindVariable} {
		steps = append(steps, exportStep{collection: kind.Collection(), list: func(ctx context.Context) ([]tagmanager.Object, error) {
			return opts.Client.List(ctx, kind, workspacePath)
		}})
	}
	steps = append(steps, exportStep{collection: tagmanager.BuiltInVariablesCollection, list: func(ctx context.Context) ([]tagmanager.Object, error) {
		return opts.Client.ListBuiltInVariables(ctx, workspacePath)
	}})

	for _, step := range steps {
		infof(opts.Logger, "fetching %s", strings.ReplaceAll(step.collection, "_", " "))
		objects, err := step.list(ctx)
		if err != nil {
			return summary, fmt.Errorf("list %s: %w", step.collection, err)
		}
		if err := opts.Store.Save(ctx, step.collection, objects); err != nil {
			return summary, fmt.Errorf("save %s: %w", step.collection, err)
		}
		summary.Counts[step.collection] = len(objects)
		infof(opts.Logger, "exported %d %s", len(objects), strings.ReplaceAll(step.collection, "_", " "))
	}
	return summary, nil
}

func infof(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Infof(format, args...)
}
