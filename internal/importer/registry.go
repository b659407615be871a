package importer

import (
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

// Registry indexes local and remote objects by kind and name for one run.
// Local entries share their maps with the ordered sequences, so merging
// remote metadata into a registered record is visible when the sequence is
// persisted.
type Registry struct {
	local    map[tagmanager.Kind]map[string]tagmanager.Object
	remote   map[tagmanager.Kind]map[string]tagmanager.Object
	names    map[tagmanager.Kind][]string
	ordered  map[tagmanager.Kind][]tagmanager.Object
	builtIns map[string]tagmanager.Object
}

// NewRegistry builds both indexes. When a name repeats within a kind the
// last object wins; names keep their first-occurrence position. Objects
// without a name stay in the ordered sequence but are not indexed.
func NewRegistry(local, remote map[tagmanager.Kind][]tagmanager.Object, builtIns []tagmanager.Object, logger Logger) *Registry {
	logger = loggerOrNop(logger)
	r := &Registry{
		local:    make(map[tagmanager.Kind]map[string]tagmanager.Object, len(tagmanager.Kinds)),
		remote:   make(map[tagmanager.Kind]map[string]tagmanager.Object, len(tagmanager.Kinds)),
		names:    make(map[tagmanager.Kind][]string, len(tagmanager.Kinds)),
		ordered:  make(map[tagmanager.Kind][]tagmanager.Object, len(tagmanager.Kinds)),
		builtIns: make(map[string]tagmanager.Object, len(builtIns)),
	}
	for _, kind := range tagmanager.Kinds {
		r.ordered[kind] = local[kind]
		r.local[kind] = map[string]tagmanager.Object{}
		for _, obj := range local[kind] {
			name := obj.Name()
			if name == "" {
				continue
			}
			if _, seen := r.local[kind][name]; seen {
				logger.Warnf("duplicate local %s %q; the last definition wins", kind, name)
			} else {
				r.names[kind] = append(r.names[kind], name)
			}
			r.local[kind][name] = obj
		}

		r.remote[kind] = map[string]tagmanager.Object{}
		for _, obj := range remote[kind] {
			name := obj.Name()
			if name == "" {
				continue
			}
			if _, seen := r.remote[kind][name]; seen {
				logger.Warnf("duplicate remote %s %q; the last one wins", kind, name)
			}
			r.remote[kind][name] = obj
		}
	}
	for _, obj := range builtIns {
		if builtInType := obj.String("type"); builtInType != "" {
			r.builtIns[builtInType] = obj
		}
	}
	return r
}

func (r *Registry) Local(kind tagmanager.Kind, name string) (tagmanager.Object, bool) {
	obj, ok := r.local[kind][name]
	return obj, ok
}

func (r *Registry) Remote(kind tagmanager.Kind, name string) (tagmanager.Object, bool) {
	obj, ok := r.remote[kind][name]
	return obj, ok
}

// Known reports whether name is registered locally or remotely for kind.
func (r *Registry) Known(kind tagmanager.Kind, name string) bool {
	if _, ok := r.remote[kind][name]; ok {
		return true
	}
	_, ok := r.local[kind][name]
	return ok
}

func (r *Registry) SetRemote(kind tagmanager.Kind, name string, obj tagmanager.Object) {
	if r.remote[kind] == nil {
		r.remote[kind] = map[string]tagmanager.Object{}
	}
	r.remote[kind][name] = obj
}

// Names returns the distinct local names of kind in first-occurrence order.
func (r *Registry) Names(kind tagmanager.Kind) []string {
	return r.names[kind]
}

// Ordered returns the local sequence of kind as it was loaded.
func (r *Registry) Ordered(kind tagmanager.Kind) []tagmanager.Object {
	return r.ordered[kind]
}

func (r *Registry) BuiltInEnabled(builtInType string) bool {
	_, ok := r.builtIns[builtInType]
	return ok
}

func (r *Registry) AddBuiltIn(obj tagmanager.Object) {
	if builtInType := obj.String("type"); builtInType != "" {
		r.builtIns[builtInType] = obj
	}
}
