package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/notifyx/notifyx/internal/domain"
)

// Resolver solves a set of (connectorId, versionRange) requirements over
// the registry, honouring lockfile pins and conflict rules, using
// backtracking with a fewest-options-first heuristic.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over the registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// solveState carries the resolver's working state through the
// backtracking search.
type solveState struct {
	constraints map[string][]*semver.Constraints
	ranges      map[string][]string // original range text, for error messages
	selection   map[string]domain.ConnectorManifest
	strategy    domain.ResolutionStrategy
}

// Resolve solves the requirements. Lockfile pins become exact-version
// constraints. Peer and direct connector dependencies of selected
// versions are both merged as hard constraints.
func (r *Resolver) Resolve(
	requirements []domain.DependencyRef,
	lock domain.Lockfile,
	strategy domain.ResolutionStrategy,
) domain.ResolutionResult {
	if !strategy.IsValid() {
		strategy = domain.StrategyHighestCompatible
	}

	state := &solveState{
		constraints: make(map[string][]*semver.Constraints),
		ranges:      make(map[string][]string),
		selection:   make(map[string]domain.ConnectorManifest),
		strategy:    strategy,
	}

	for _, req := range requirements {
		if err := r.addConstraint(state, req.ID, req.Range); err != nil {
			return failure(err.Error())
		}
	}
	for id, version := range lock {
		if err := r.addConstraint(state, id, "="+version); err != nil {
			return failure(err.Error())
		}
	}

	if err := r.solve(state); err != nil {
		return failure(err.Error())
	}

	resolved := make(map[string]string, len(state.selection))
	for id, m := range state.selection {
		resolved[id] = m.Version
	}
	return domain.ResolutionResult{Success: true, ResolvedVersions: resolved}
}

func failure(message string) domain.ResolutionResult {
	return domain.ResolutionResult{Success: false, ErrorMessage: message}
}

// addConstraint records one range constraint for an id.
func (r *Resolver) addConstraint(state *solveState, id, rangeText string) error {
	if rangeText == "" {
		rangeText = "*"
	}
	c, err := semver.NewConstraint(rangeText)
	if err != nil {
		return domain.NewResolutionError(
			fmt.Sprintf("invalid version range %q for connector %s", rangeText, id))
	}
	state.constraints[id] = append(state.constraints[id], c)
	state.ranges[id] = append(state.ranges[id], rangeText)
	return nil
}

// solve runs the backtracking search.
func (r *Resolver) solve(state *solveState) error {
	id, done, err := r.pickNext(state)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	candidates := r.candidates(state, id)
	if len(candidates) == 0 {
		return domain.NewResolutionError(
			fmt.Sprintf("no version of %s satisfies %s", id, strings.Join(state.ranges[id], ", ")))
	}

	var lastErr error
	for _, candidate := range candidates {
		if conflict := r.conflictsWithSelection(state, candidate); conflict != "" {
			lastErr = domain.NewResolutionError(
				fmt.Sprintf("%s conflicts with selected %s", candidate.Ref(), conflict))
			if state.strategy == domain.StrategyFailFast {
				return lastErr
			}
			continue
		}

		// Tentatively select and merge the candidate's own dependencies
		// into the constraint set.
		undo := r.apply(state, candidate)

		if violated, vid := r.violatedID(state); violated {
			lastErr = domain.NewResolutionError(
				fmt.Sprintf("selecting %s leaves no satisfying version for %s", candidate.Ref(), vid))
			undo()
			if state.strategy == domain.StrategyFailFast {
				return lastErr
			}
			continue
		}

		if err := r.solve(state); err != nil {
			lastErr = err
			undo()
			if state.strategy == domain.StrategyFailFast {
				return err
			}
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = domain.NewResolutionError("no candidate found for " + id)
	}
	return lastErr
}

// pickNext chooses the unresolved id with the fewest satisfying
// candidates, ties broken by id. done is true when everything with a
// constraint has a selection.
func (r *Resolver) pickNext(state *solveState) (string, bool, error) {
	best := ""
	bestCount := -1

	ids := make([]string, 0, len(state.constraints))
	for id := range state.constraints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, selected := state.selection[id]; selected {
			continue
		}
		count := len(r.candidates(state, id))
		if count == 0 {
			return "", false, domain.NewResolutionError(
				fmt.Sprintf("no version of %s satisfies %s", id, strings.Join(state.ranges[id], ", ")))
		}
		if bestCount == -1 || count < bestCount {
			best = id
			bestCount = count
		}
	}

	if best == "" {
		return "", true, nil
	}
	return best, false, nil
}

// candidates returns the versions of id satisfying every recorded
// constraint, ordered per strategy.
func (r *Resolver) candidates(state *solveState, id string) []domain.ConnectorManifest {
	if hasNil(state.constraints[id]) {
		return nil
	}
	var out []domain.ConnectorManifest
	for _, m := range r.registry.Versions(id) {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			continue
		}
		ok := true
		for _, c := range state.constraints[id] {
			if !c.Check(v) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, m)
		}
	}

	if state.strategy == domain.StrategyPreferStable {
		sort.SliceStable(out, func(i, j int) bool {
			vi := semver.MustParse(out[i].Version)
			vj := semver.MustParse(out[j].Version)
			si, sj := vi.Prerelease() == "", vj.Prerelease() == ""
			if si != sj {
				return si
			}
			return vi.GreaterThan(vj)
		})
	}
	// Registry versions are already sorted descending, which is the
	// HighestCompatible (and FailFast) order.
	return out
}

// conflictsWithSelection checks the candidate's conflict rules against
// every selected manifest and vice versa. Patterns take the form
// "id@range". It returns the ref of the conflicting selection, or "".
func (r *Resolver) conflictsWithSelection(state *solveState, candidate domain.ConnectorManifest) string {
	for _, selected := range state.selection {
		if matchesConflict(candidate.ConflictRules, selected) {
			return selected.Ref()
		}
		if matchesConflict(selected.ConflictRules, candidate) {
			return selected.Ref()
		}
	}
	return ""
}

func matchesConflict(rules domain.ConflictRules, target domain.ConnectorManifest) bool {
	for _, pattern := range rules.IncompatibleWith {
		id, rangeText := splitConflictPattern(pattern)
		if id != target.ID {
			continue
		}
		if rangeText == "" {
			return true
		}
		c, err := semver.NewConstraint(rangeText)
		if err != nil {
			continue
		}
		v, err := semver.NewVersion(target.Version)
		if err != nil {
			continue
		}
		if c.Check(v) {
			return true
		}
	}
	return false
}

func splitConflictPattern(pattern string) (string, string) {
	if i := strings.LastIndex(pattern, "@"); i > 0 {
		return pattern[:i], pattern[i+1:]
	}
	return pattern, ""
}

// apply selects the candidate and merges its peer and connector
// dependencies into the constraint set. The returned function undoes
// everything.
func (r *Resolver) apply(state *solveState, candidate domain.ConnectorManifest) func() {
	state.selection[candidate.ID] = candidate

	deps := make([]domain.DependencyRef, 0,
		len(candidate.Dependencies.Peers)+len(candidate.Dependencies.Connectors))
	deps = append(deps, candidate.Dependencies.Peers...)
	deps = append(deps, candidate.Dependencies.Connectors...)

	type added struct {
		id string
		n  int
	}
	var additions []added
	for _, dep := range deps {
		before := len(state.constraints[dep.ID])
		if err := r.addConstraint(state, dep.ID, dep.Range); err != nil {
			// Invalid declared range: record an unsatisfiable constraint so
			// the violation check surfaces it.
			state.constraints[dep.ID] = append(state.constraints[dep.ID], nil)
			state.ranges[dep.ID] = append(state.ranges[dep.ID], dep.Range)
		}
		additions = append(additions, added{id: dep.ID, n: len(state.constraints[dep.ID]) - before})
	}

	return func() {
		delete(state.selection, candidate.ID)
		for i := len(additions) - 1; i >= 0; i-- {
			a := additions[i]
			cs := state.constraints[a.id]
			state.constraints[a.id] = cs[:len(cs)-a.n]
			rs := state.ranges[a.id]
			state.ranges[a.id] = rs[:len(rs)-a.n]
			if len(state.constraints[a.id]) == 0 {
				delete(state.constraints, a.id)
				delete(state.ranges, a.id)
			}
		}
	}
}

// violatedID reports whether any constrained id has no satisfying
// candidate, or a selection that violates its constraints.
func (r *Resolver) violatedID(state *solveState) (bool, string) {
	for id := range state.constraints {
		if hasNil(state.constraints[id]) {
			return true, id
		}
		if selected, ok := state.selection[id]; ok {
			v, err := semver.NewVersion(selected.Version)
			if err != nil {
				return true, id
			}
			for _, c := range state.constraints[id] {
				if !c.Check(v) {
					return true, id
				}
			}
			continue
		}
		if len(r.candidates(state, id)) == 0 {
			return true, id
		}
	}
	return false, ""
}

func hasNil(cs []*semver.Constraints) bool {
	for _, c := range cs {
		if c == nil {
			return true
		}
	}
	return false
}
