package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var ErrCapabilityNotFound = errors.New("capability not found")

// Registry is the source-of-truth collaborator consumed by the router.
type Registry interface {
	Get(id string) (*Capability, bool)
}

// InMemoryRegistry is a thread-safe registry keyed by capability id, with
// semver-aware resolution across registered versions of the same name.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*Capability
	byName map[string][]*Capability
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byID:   make(map[string]*Capability),
		byName: make(map[string][]*Capability),
	}
}

// Register installs a capability. The version must parse as semver; the id
// must be unique. Re-registering an id overwrites the previous entry.
func (r *InMemoryRegistry) Register(c *Capability) error {
	if c == nil {
		return errors.New("nil capability")
	}
	if c.ID == "" || c.Name == "" {
		return errors.New("capability id and name are required")
	}
	if _, err := semver.NewVersion(c.Version); err != nil {
		return fmt.Errorf("capability %s: invalid version %q: %w", c.ID, c.Version, err)
	}
	if c.Privacy == "" {
		c.Privacy = PrivacyPublic
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[c.ID]; ok {
		r.removeFromNameIndex(old)
	}
	r.byID[c.ID] = c
	r.byName[c.Name] = append(r.byName[c.Name], c)
	return nil
}

// Unregister removes a capability, e.g. on revocation.
func (r *InMemoryRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return ErrCapabilityNotFound
	}
	delete(r.byID, id)
	r.removeFromNameIndex(c)
	return nil
}

func (r *InMemoryRegistry) removeFromNameIndex(c *Capability) {
	versions := r.byName[c.Name]
	for i, v := range versions {
		if v.ID == c.ID {
			r.byName[c.Name] = append(versions[:i], versions[i+1:]...)
			break
		}
	}
	if len(r.byName[c.Name]) == 0 {
		delete(r.byName, c.Name)
	}
}

func (r *InMemoryRegistry) Get(id string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Resolve returns the highest registered version of name satisfying the
// semver constraint. An empty constraint selects the highest version.
func (r *InMemoryRegistry) Resolve(name, constraint string) (*Capability, error) {
	r.mu.RLock()
	candidates := append([]*Capability(nil), r.byName[name]...)
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, ErrCapabilityNotFound
	}

	var check *semver.Constraints
	if constraint != "" {
		var err error
		check, err = semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		vi := semver.MustParse(candidates[i].Version)
		vj := semver.MustParse(candidates[j].Version)
		return vi.GreaterThan(vj)
	})
	for _, c := range candidates {
		if check == nil || check.Check(semver.MustParse(c.Version)) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no version of %s satisfies %q", ErrCapabilityNotFound, name, constraint)
}

// List returns all registered capabilities in unspecified order.
func (r *InMemoryRegistry) List() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Capability, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}
