// Package rules evaluates tenant rules against notification events.
// Rules run in descending priority order; later transforms see earlier
// ones. Aggregate actions defer events into windowed buckets, escalate
// actions schedule follow-ups cancelled by acknowledgement.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/domain"
)

// ScheduledEscalation is an escalate action ready to be armed by the
// orchestrator once the event is accepted.
type ScheduledEscalation struct {
	RuleID       string
	After        time.Duration
	ToRecipients []domain.NotificationRecipient
}

// Evaluation is the outcome of running all tenant rules against one
// event.
type Evaluation struct {
	MatchedRules []string
	Event        domain.NotificationEvent
	Verdict      domain.Verdict
	Escalations  []ScheduledEscalation
}

// Engine holds tenant rules and evaluates them against events. Compiled
// predicate programs are cached behind the lock, keyed by source text.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]map[string]domain.Rule // tenant -> id -> rule
	programs map[string]*vm.Program

	aggregator *Aggregator
	repo       domain.RuleRepository
}

// NewEngine creates a rule engine. repo may be nil for standalone use.
func NewEngine(repo domain.RuleRepository, aggregator *Aggregator) *Engine {
	return &Engine{
		rules:      make(map[string]map[string]domain.Rule),
		programs:   make(map[string]*vm.Program),
		aggregator: aggregator,
		repo:       repo,
	}
}

// Save validates and stores a rule.
func (e *Engine) Save(ctx context.Context, r domain.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	// Compile eagerly so a bad predicate fails at save time, not at
	// evaluation time.
	if _, err := e.compile(r.Predicate); err != nil {
		return err
	}
	if e.repo != nil {
		if err := e.repo.Save(ctx, r); err != nil {
			return err
		}
	}
	e.mu.Lock()
	tenant, ok := e.rules[r.TenantID]
	if !ok {
		tenant = make(map[string]domain.Rule)
		e.rules[r.TenantID] = tenant
	}
	tenant[r.ID] = r
	e.mu.Unlock()
	return nil
}

// Delete removes a rule.
func (e *Engine) Delete(ctx context.Context, tenantID, id string) error {
	if e.repo != nil {
		if err := e.repo.Delete(ctx, tenantID, id); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tenant, ok := e.rules[tenantID]; ok {
		delete(tenant, id)
	}
	return nil
}

// List returns the tenant's rules in evaluation order.
func (e *Engine) List(tenantID string) []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ordered(tenantID)
}

// ordered returns rules by descending priority, ties broken by id.
// Callers must hold at least a read lock.
func (e *Engine) ordered(tenantID string) []domain.Rule {
	tenant := e.rules[tenantID]
	out := make([]domain.Rule, 0, len(tenant))
	for _, r := range tenant {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Evaluate runs all enabled tenant rules against the event.
func (e *Engine) Evaluate(event domain.NotificationEvent) (Evaluation, error) {
	e.mu.RLock()
	ordered := e.ordered(event.TenantID)
	e.mu.RUnlock()

	eval := Evaluation{Event: event, Verdict: domain.VerdictSend}

	for _, rule := range ordered {
		if !rule.IsEnabled {
			continue
		}
		matched, err := e.match(rule, eval.Event)
		if err != nil {
			return Evaluation{}, err
		}
		if !matched {
			continue
		}
		eval.MatchedRules = append(eval.MatchedRules, rule.ID)

		for _, action := range rule.Actions {
			switch action.Type {
			case domain.RuleActionTransform:
				eval.Event = eval.Event.WithMetadata(action.Metadata)

			case domain.RuleActionReroute:
				eval.Event = eval.Event.WithChannels(action.Channels)

			case domain.RuleActionEscalate:
				eval.Escalations = append(eval.Escalations, ScheduledEscalation{
					RuleID:       rule.ID,
					After:        action.After,
					ToRecipients: action.ToRecipients,
				})

			case domain.RuleActionAggregate:
				if e.aggregator != nil {
					e.aggregator.Register(eval.Event, action.Key, action.Window)
				}
				eval.Verdict = domain.VerdictDefer
				return eval, nil

			case domain.RuleActionSuppress:
				eval.Verdict = domain.VerdictSuppress
				return eval, nil
			}
		}
	}

	return eval, nil
}

// match evaluates the rule predicate against the event scope. A missing
// variable makes the predicate false rather than failing the event.
func (e *Engine) match(rule domain.Rule, event domain.NotificationEvent) (bool, error) {
	program, err := e.compile(rule.Predicate)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, eventScope(event))
	if err != nil {
		if isMissingVariable(err) {
			return false, nil
		}
		return false, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("failed to evaluate predicate of rule %s", rule.ID), err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("predicate of rule %s did not return boolean, got %T", rule.ID, result), nil)
	}
	return matched, nil
}

// compile returns the cached program for a predicate, compiling on first
// use.
func (e *Engine) compile(predicate string) (*vm.Program, error) {
	e.mu.RLock()
	program, cached := e.programs[predicate]
	e.mu.RUnlock()
	if cached {
		return program, nil
	}

	program, err := expr.Compile(predicate, expr.AsBool())
	if err != nil {
		return nil, domain.NewValidationError("predicate",
			fmt.Sprintf("failed to compile predicate %q: %v", predicate, err))
	}

	e.mu.Lock()
	e.programs[predicate] = program
	e.mu.Unlock()
	return program, nil
}

// eventScope builds the variable scope a predicate sees.
func eventScope(event domain.NotificationEvent) map[string]any {
	scope := map[string]any{
		"eventType":  event.EventType,
		"priority":   event.Priority.String(),
		"tenantId":   event.TenantID,
		"subject":    event.Subject,
		"title":      event.Title,
		"source":     event.Source,
		"metadata":   event.Metadata,
		"recipients": len(event.Recipients),
	}
	for k, v := range event.Metadata {
		if _, taken := scope[k]; !taken {
			scope[k] = v
		}
	}
	return scope
}

func isMissingVariable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"cannot fetch", "undefined", "unknown name", "not found", "nil pointer"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// LoadTenant warms the in-process rule index from the repository.
func (e *Engine) LoadTenant(ctx context.Context, tenantID string) error {
	if e.repo == nil {
		return nil
	}
	list, err := e.repo.List(ctx, tenantID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tenant := make(map[string]domain.Rule, len(list))
	for _, r := range list {
		tenant[r.ID] = r
	}
	e.rules[tenantID] = tenant
	log.Debug().Str("tenant_id", tenantID).Int("rules", len(list)).Msg("loaded tenant rules")
	return nil
}
