package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/domain"
)

func manifest(id, version string, mutate ...func(*domain.ConnectorManifest)) domain.ConnectorManifest {
	m := domain.ConnectorManifest{
		ID:      id,
		Version: version,
		Type:    domain.ConnectorTypeAction,
	}
	for _, fn := range mutate {
		fn(&m)
	}
	return m
}

func withPeer(id, rangeText string) func(*domain.ConnectorManifest) {
	return func(m *domain.ConnectorManifest) {
		m.Dependencies.Peers = append(m.Dependencies.Peers, domain.DependencyRef{ID: id, Range: rangeText})
	}
}

func withConflict(pattern string) func(*domain.ConnectorManifest) {
	return func(m *domain.ConnectorManifest) {
		m.ConflictRules.IncompatibleWith = append(m.ConflictRules.IncompatibleWith, pattern)
	}
}

func buildRegistry(t *testing.T, manifests ...domain.ConnectorManifest) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, m := range manifests {
		require.NoError(t, r.Register(m))
	}
	return r
}

func TestResolveHighestCompatibleWithPeer(t *testing.T) {
	r := buildRegistry(t,
		manifest("A", "1.0.0", withPeer("B", ">=1.0.0 <2.0.0")),
		manifest("B", "1.2.0"),
		manifest("B", "2.0.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}},
		nil, domain.StrategyHighestCompatible)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, map[string]string{"A": "1.0.0", "B": "1.2.0"}, result.ResolvedVersions)
}

func TestResolveLockfileCompatiblePinUnchanged(t *testing.T) {
	r := buildRegistry(t,
		manifest("A", "1.0.0", withPeer("B", ">=1.0.0 <2.0.0")),
		manifest("B", "1.2.0"),
		manifest("B", "2.0.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}},
		domain.Lockfile{"B": "1.2.0"},
		domain.StrategyHighestCompatible)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, map[string]string{"A": "1.0.0", "B": "1.2.0"}, result.ResolvedVersions)
}

func TestResolveLockfileConflictingPinFails(t *testing.T) {
	r := buildRegistry(t,
		manifest("A", "1.0.0", withPeer("B", ">=1.0.0 <2.0.0")),
		manifest("B", "1.2.0"),
		manifest("B", "2.0.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}},
		domain.Lockfile{"B": "2.0.0"},
		domain.StrategyHighestCompatible)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestResolveBacktracksOverVersions(t *testing.T) {
	// A@2 needs B@2, but B@2 conflicts with C (required). The solver
	// must fall back to A@1 which accepts B@1.
	r := buildRegistry(t,
		manifest("A", "2.0.0", withPeer("B", ">=2.0.0")),
		manifest("A", "1.0.0", withPeer("B", ">=1.0.0 <2.0.0")),
		manifest("B", "2.0.0", withConflict("C@>=1.0.0")),
		manifest("B", "1.5.0"),
		manifest("C", "1.0.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}, {ID: "C", Range: "*"}},
		nil, domain.StrategyHighestCompatible)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "1.0.0", result.ResolvedVersions["A"])
	assert.Equal(t, "1.5.0", result.ResolvedVersions["B"])
	assert.Equal(t, "1.0.0", result.ResolvedVersions["C"])
}

func TestResolvePreferStable(t *testing.T) {
	r := buildRegistry(t,
		manifest("A", "2.0.0-beta.1"),
		manifest("A", "1.9.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}},
		nil, domain.StrategyPreferStable)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "1.9.0", result.ResolvedVersions["A"], "stable beats newer prerelease")
}

func TestResolveUnknownConnectorFails(t *testing.T) {
	resolver := NewResolver(buildRegistry(t))

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "ghost", Range: "*"}},
		nil, domain.StrategyHighestCompatible)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "ghost")
}

func TestResolveUnsatisfiableRangeFails(t *testing.T) {
	r := buildRegistry(t, manifest("A", "1.0.0"))
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: ">=2.0.0"}},
		nil, domain.StrategyHighestCompatible)

	assert.False(t, result.Success)
}

func TestResolveDirectConnectorDependenciesAreHard(t *testing.T) {
	r := buildRegistry(t,
		manifest("A", "1.0.0", func(m *domain.ConnectorManifest) {
			m.Dependencies.Connectors = []domain.DependencyRef{{ID: "B", Range: "^1.0.0"}}
		}),
		manifest("B", "1.1.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}},
		nil, domain.StrategyHighestCompatible)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "1.1.0", result.ResolvedVersions["B"])
}

func TestResolveFailFastAbortsWithoutBacktracking(t *testing.T) {
	// HighestCompatible would backtrack from A@2 to A@1; FailFast must
	// surface the first violation instead.
	r := buildRegistry(t,
		manifest("A", "2.0.0", withPeer("B", ">=2.0.0")),
		manifest("A", "1.0.0", withPeer("B", ">=1.0.0 <2.0.0")),
		manifest("B", "2.0.0", withConflict("C@>=1.0.0")),
		manifest("B", "1.5.0"),
		manifest("C", "1.0.0"),
	)
	resolver := NewResolver(r)

	requirements := []domain.DependencyRef{{ID: "A", Range: "*"}, {ID: "C", Range: "*"}}

	backtracked := resolver.Resolve(requirements, nil, domain.StrategyHighestCompatible)
	require.True(t, backtracked.Success)

	failFast := resolver.Resolve(requirements, nil, domain.StrategyFailFast)
	assert.False(t, failFast.Success)
	assert.Contains(t, failFast.ErrorMessage, "conflict")
}

func TestResolvedVersionsSatisfyAllDeclaredDependencies(t *testing.T) {
	r := buildRegistry(t,
		manifest("A", "1.0.0", withPeer("B", "^1.0.0"), withPeer("C", "*")),
		manifest("B", "1.0.0", withPeer("C", ">=1.1.0")),
		manifest("C", "1.0.0"),
		manifest("C", "1.2.0"),
	)
	resolver := NewResolver(r)

	result := resolver.Resolve(
		[]domain.DependencyRef{{ID: "A", Range: "*"}},
		nil, domain.StrategyHighestCompatible)

	require.True(t, result.Success, result.ErrorMessage)
	// B's transitive constraint on C must hold in the final selection.
	assert.Equal(t, "1.2.0", result.ResolvedVersions["C"])
	assert.Len(t, result.ResolvedVersions, 3)
}
