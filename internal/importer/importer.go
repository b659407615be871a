// Package importer reconciles locally stored configuration objects against a
// remote workspace. Objects reference each other by name; the importer turns
// names into remote IDs, creates missing dependencies first and skips objects
// whose content already matches the remote copy.
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/gtmsync/internal/snapshot"
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

type Options struct {
	Client        tagmanager.Client
	Store         snapshot.Store
	WorkspacePath string
	Logger        Logger
}

type Importer struct {
	client        tagmanager.Client
	store         snapshot.Store
	workspacePath string
	logger        Logger
}

type Failure struct {
	Kind tagmanager.Kind
	Name string
	Op   string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s %q: %v", f.Op, f.Kind, f.Name, f.Err)
}

// PartialFailureError is returned by Result.Err when some objects could not
// be written while the run itself completed.
type PartialFailureError struct {
	Failures []Failure
}

func (e *PartialFailureError) Error() string {
	if len(e.Failures) == 1 {
		return "1 object failed: " + e.Failures[0].Error()
	}
	parts := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		parts[i] = failure.Error()
	}
	return fmt.Sprintf("%d objects failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

type Result struct {
	Created         int
	Updated         int
	Unchanged       int
	AutoCreated     int
	BuiltInsEnabled int
	Failures        []Failure
}

// Writes is the number of remote create and update calls that succeeded.
func (r Result) Writes() int {
	return r.Created + r.Updated + r.AutoCreated + r.BuiltInsEnabled
}

// clearCreateFailure forgets a failed create once the object has been
// created as a dependency later in the run.
func (r *Result) clearCreateFailure(kind tagmanager.Kind, name string) {
	kept := r.Failures[:0]
	for _, failure := range r.Failures {
		if failure.Kind == kind && failure.Name == name && failure.Op == "create" {
			continue
		}
		kept = append(kept, failure)
	}
	r.Failures = kept
}

func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &PartialFailureError{Failures: append([]Failure(nil), r.Failures...)}
}

func New(opts Options) (*Importer, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	workspacePath := strings.Trim(strings.TrimSpace(opts.WorkspacePath), "/")
	if workspacePath == "" {
		return nil, fmt.Errorf("workspace path is required")
	}
	return &Importer{
		client:        opts.Client,
		store:         opts.Store,
		workspacePath: workspacePath,
		logger:        loggerOrNop(opts.Logger),
	}, nil
}

// Run performs one reconciliation. A non-nil error means the run was aborted;
// per-object failures are reported in the Result instead. Collections
// finished before an abort have already been saved.
func (im *Importer) Run(ctx context.Context) (Result, error) {
	var result Result

	local := make(map[tagmanager.Kind][]tagmanager.Object, len(tagmanager.Kinds))
	for _, kind := range tagmanager.Kinds {
		objects, ok, err := im.store.Load(ctx, kind.Collection())
		if err != nil {
			return result, fmt.Errorf("load %s: %w", kind.Collection(), err)
		}
		if !ok {
			im.logger.Infof("%s not found; skipping", kind.Collection())
		}
		local[kind] = objects
	}
	localBuiltIns, _, err := im.store.Load(ctx, tagmanager.BuiltInVariablesCollection)
	if err != nil {
		return result, fmt.Errorf("load %s: %w", tagmanager.BuiltInVariablesCollection, err)
	}

	im.logger.Infof("fetching existing items in workspace %s", im.workspacePath)
	remote := make(map[tagmanager.Kind][]tagmanager.Object, len(tagmanager.Kinds))
	for _, kind := range tagmanager.Kinds {
		objects, err := im.client.List(ctx, kind, im.workspacePath)
		if err != nil {
			return result, fmt.Errorf("list %s: %w", kind.Collection(), err)
		}
		remote[kind] = objects
	}
	remoteBuiltIns, err := im.client.ListBuiltInVariables(ctx, im.workspacePath)
	if err != nil {
		return result, fmt.Errorf("list %s: %w", tagmanager.BuiltInVariablesCollection, err)
	}

	registry := NewRegistry(local, remote, remoteBuiltIns, im.logger)
	resolver := NewResolver(im.client, im.workspacePath, registry, im.logger)
	dirty := map[tagmanager.Kind]bool{}
	resolver.onCreate = func(kind tagmanager.Kind, name string) {
		dirty[kind] = true
		result.clearCreateFailure(kind, name)
	}

	result.BuiltInsEnabled = im.enableBuiltIns(ctx, registry, localBuiltIns)

	finish := func(err error) (Result, error) {
		result.AutoCreated = resolver.Created() - result.Created
		return result, err
	}

	var processed []tagmanager.Kind
	for _, kind := range tagmanager.Kinds {
		if len(registry.Ordered(kind)) == 0 {
			continue
		}
		im.logger.Infof("processing %s", kind.Collection())
		runErr := im.reconcileKind(ctx, kind, registry, resolver, &result)

		// Earlier collections change when this pass had to create one of
		// their objects as a dependency.
		processed = append(processed, kind)
		for _, done := range processed {
			if done != kind && !dirty[done] {
				continue
			}
			if err := im.store.Save(ctx, done.Collection(), registry.Ordered(done)); err != nil {
				if runErr != nil {
					return finish(fmt.Errorf("%w (saving %s also failed: %v)", runErr, done.Collection(), err))
				}
				return finish(fmt.Errorf("save %s: %w", done.Collection(), err))
			}
			delete(dirty, done)
		}
		if runErr != nil {
			return finish(runErr)
		}
	}
	return finish(nil)
}

func (im *Importer) enableBuiltIns(ctx context.Context, registry *Registry, localBuiltIns []tagmanager.Object) int {
	var missing []string
	seen := map[string]bool{}
	for _, obj := range localBuiltIns {
		builtInType := obj.String("type")
		if builtInType == "" || seen[builtInType] || registry.BuiltInEnabled(builtInType) {
			continue
		}
		seen[builtInType] = true
		missing = append(missing, builtInType)
	}
	if len(missing) == 0 {
		return 0
	}
	im.logger.Infof("enabling %d built-in variables", len(missing))
	created, err := im.client.CreateBuiltInVariables(ctx, im.workspacePath, missing)
	if err != nil {
		im.logger.Warnf("enable built-in variables: %v", err)
		return 0
	}
	for _, obj := range created {
		registry.AddBuiltIn(obj)
	}
	return len(missing)
}

// reconcileKind returns an error only when the run must stop.
func (im *Importer) reconcileKind(ctx context.Context, kind tagmanager.Kind, registry *Registry, resolver *Resolver, result *Result) error {
	for _, name := range registry.Names(kind) {
		if err := ctx.Err(); err != nil {
			return err
		}
		local, _ := registry.Local(kind, name)

		body := local.Clone()
		if err := resolver.ResolveBody(ctx, kind, body); err != nil {
			return fmt.Errorf("resolve references of %s %q: %w", kind, name, err)
		}

		remote, exists := registry.Remote(kind, name)
		switch {
		case exists && Equal(body, remote):
			im.logger.Infof(" - skipping %s %q (content matches)", kind, name)
			local.Merge(remote)
			result.Unchanged++
		case exists:
			im.logger.Infof(" - updating %s %q", kind, name)
			im.logger.Debugf("%s %q changes (-remote +local):\n%s", kind, name, Diff(remote, body))
			updated, err := im.client.Update(ctx, kind, remote.Path(), Normalize(body))
			if err != nil {
				im.logger.Errorf("update %s %q failed: %v", kind, name, err)
				result.Failures = append(result.Failures, Failure{Kind: kind, Name: name, Op: "update", Err: err})
				continue
			}
			registry.SetRemote(kind, name, updated)
			local.Merge(updated)
			result.Updated++
		default:
			im.logger.Infof(" - creating %s %q", kind, name)
			if _, err := resolver.Ensure(ctx, kind, name); err != nil {
				im.logger.Errorf("create %s %q failed: %v", kind, name, err)
				result.Failures = append(result.Failures, Failure{Kind: kind, Name: name, Op: "create", Err: err})
				continue
			}
			result.Created++
		}
	}
	return nil
}

