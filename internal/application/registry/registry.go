// Package registry indexes connector manifests by id and version and
// resolves versioned dependency sets over them.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/notifyx/notifyx/internal/domain"
)

// index maps connector id -> versions sorted descending. The whole map
// is replaced on every write so readers never need a lock.
type index map[string][]domain.ConnectorManifest

// Registry is a copy-on-write connector manifest index.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Value // index
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(index{})
	return r
}

func (r *Registry) snapshot() index {
	return r.current.Load().(index)
}

// Register adds one manifest. Manifests are immutable per version:
// registering an existing id@version is rejected.
func (r *Registry) Register(m domain.ConnectorManifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return domain.NewValidationError("version",
			"connector "+m.ID+" has invalid semver version "+m.Version)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.snapshot()
	for _, existing := range old[m.ID] {
		if existing.Version == m.Version {
			return domain.NewDomainError(domain.ErrCodeAlreadyExists,
				"connector "+m.Ref()+" is already registered", nil)
		}
	}

	next := make(index, len(old)+1)
	for id, versions := range old {
		next[id] = versions
	}
	versions := append(append([]domain.ConnectorManifest(nil), old[m.ID]...), m)
	sort.Slice(versions, func(i, j int) bool {
		vi := semver.MustParse(versions[i].Version)
		vj := semver.MustParse(versions[j].Version)
		return vi.GreaterThan(vj)
	})
	next[m.ID] = versions
	r.current.Store(next)
	return nil
}

// Versions returns the manifests for one connector id, newest first.
func (r *Registry) Versions(id string) []domain.ConnectorManifest {
	return r.snapshot()[id]
}

// Get returns one exact manifest.
func (r *Registry) Get(id, version string) (domain.ConnectorManifest, bool) {
	for _, m := range r.snapshot()[id] {
		if m.Version == version {
			return m, true
		}
	}
	return domain.ConnectorManifest{}, false
}

// Latest returns the newest manifest for an id.
func (r *Registry) Latest(id string) (domain.ConnectorManifest, bool) {
	versions := r.snapshot()[id]
	if len(versions) == 0 {
		return domain.ConnectorManifest{}, false
	}
	return versions[0], true
}

// Has reports whether any version of the connector is registered.
func (r *Registry) Has(id string) bool {
	return len(r.snapshot()[id]) > 0
}

// IDs returns all registered connector ids, sorted.
func (r *Registry) IDs() []string {
	snap := r.snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Document exports the registry as its wire format.
func (r *Registry) Document() domain.RegistryDocument {
	snap := r.snapshot()
	doc := domain.RegistryDocument{
		Schema:          "notifyx/connector-registry",
		RegistryVersion: "1",
		LastUpdated:     time.Now().UTC(),
	}
	for _, id := range r.IDs() {
		doc.Connectors = append(doc.Connectors, snap[id]...)
	}
	return doc
}

// LoadDocument registers every manifest in a registry document.
func (r *Registry) LoadDocument(doc domain.RegistryDocument) error {
	for _, m := range doc.Connectors {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}
