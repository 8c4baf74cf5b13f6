package definition

import (
	"sort"
	"sync"

	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/problem"
)

// Registry holds the known resource definitions, keyed by group and plural. It is safe for
// concurrent use and is passed explicitly to whatever needs to resolve references.
type Registry struct {
	conv *naming.Convention

	mu          sync.RWMutex
	definitions map[string]*ResourceDefinition
}

func NewRegistry(conv *naming.Convention) *Registry {
	return &Registry{
		conv:        conv,
		definitions: make(map[string]*ResourceDefinition),
	}
}

// Convention returns the naming convention definitions are validated with
func (r *Registry) Convention() *naming.Convention {
	return r.conv
}

// Register validates def and adds it, replacing any definition with the same group and plural
func (r *Registry) Register(def *ResourceDefinition) error {
	if errs := def.Validate(r.conv); len(errs) > 0 {
		return errs.ToAggregate()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Key()] = def.DeepCopy()
	return nil
}

// Unregister removes the definition for group and plural and reports whether it existed
func (r *Registry) Unregister(group, plural string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := GroupPluralKey(group, plural)
	_, ok := r.definitions[key]
	delete(r.definitions, key)
	return ok
}

func (r *Registry) Lookup(group, plural string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[GroupPluralKey(group, plural)]
	return def, ok
}

func (r *Registry) LookupKind(group, kind string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.definitions {
		if def.Group == group && def.Names.Kind == kind {
			return def, true
		}
	}
	return nil, false
}

// Resolve returns the definition and served version a reference points at
func (r *Registry) Resolve(ref Reference) (*ResourceDefinition, *Version, error) {
	def, ok := r.Lookup(ref.Group, ref.Plural)
	if !ok {
		return nil, nil, problem.Newf(problem.DefinitionNotFound, "no definition for %s", GroupPluralKey(ref.Group, ref.Plural))
	}
	version, err := def.ServedVersion(ref.Version)
	if err != nil {
		return nil, nil, err
	}
	return def, version, nil
}

// List returns all definitions ordered by group and plural
func (r *Registry) List() []*ResourceDefinition {
	r.mu.RLock()
	out := make([]*ResourceDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Names.Plural < out[j].Names.Plural
	})
	return out
}
