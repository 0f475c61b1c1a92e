package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
)

// Guard evaluates spending policies. It implements engine.Authorizer.
type Guard struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   *telemetry.Logger
	now      func() time.Time
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the guard's logger.
func WithLogger(logger *telemetry.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the clock used for input.timestamp.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard creates a guard with the built-in policies and limits.
func NewGuard(ctx context.Context, limits Limits, opts ...GuardOption) (*Guard, error) {
	doc, err := limitsDocument(limits)
	if err != nil {
		return nil, err
	}

	g := &Guard{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.NewFromObject(map[string]interface{}{"limits": doc}),
		logger:   telemetry.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.NewComponentLogger("policy-guard")

	for _, p := range BuiltinPolicies() {
		cp, err := g.compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
		g.policies[p.Name] = cp
	}
	return g, nil
}

// limitsDocument converts limits to the JSON-shaped value OPA stores.
func limitsDocument(limits Limits) (map[string]interface{}, error) {
	if limits.BlockedAccounts == nil {
		limits.BlockedAccounts = []string{}
	}
	raw, err := json.Marshal(limits)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SetLimits replaces data.limits for all later evaluations.
func (g *Guard) SetLimits(ctx context.Context, limits Limits) error {
	doc, err := limitsDocument(limits)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return storage.WriteOne(ctx, g.store, storage.ReplaceOp, storage.MustParsePath("/limits"), doc)
}

// compile parses p and prepares its deny query against the guard's store.
func (g *Guard) compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(g.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: p, query: query, compiled: time.Now()}, nil
}

// AddPolicy compiles p and adds it, replacing a non-builtin policy of the
// same name.
func (g *Guard) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := g.compile(ctx, p)
	if err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.policies[p.Name]; ok && old.policy.Builtin {
		return fmt.Errorf("policy %s: cannot replace a built-in policy", p.Name)
	}
	g.policies[p.Name] = cp
	g.logger.WithField("policy", p.Name).Debug("policy compiled")
	return nil
}

// ReplacePolicies swaps every non-builtin policy for ps. Nothing changes
// unless all of ps compile.
func (g *Guard) ReplacePolicies(ctx context.Context, ps []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(ps))
	for _, p := range ps {
		cp, err := g.compile(ctx, p)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p.Name, err)
		}
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("policy %s: defined twice", p.Name)
		}
		compiled[p.Name] = cp
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for name, cp := range g.policies {
		if cp.policy.Builtin {
			if _, clash := compiled[name]; clash {
				return fmt.Errorf("policy %s: cannot replace a built-in policy", name)
			}
			compiled[name] = cp
		}
	}
	g.policies = compiled
	g.logger.WithField("count", len(ps)).Info("policies replaced")
	return nil
}

// LoadPolicies loads .rego and .json policies from paths and replaces the
// current non-builtin set with them.
func (g *Guard) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(g.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return g.ReplacePolicies(ctx, policies)
}

// Watch reloads policies from paths whenever a policy file changes. It
// returns once watching has started; it stops when ctx ends.
func (g *Guard) Watch(ctx context.Context, paths []string) error {
	return NewLoader(g.logger).Watch(ctx, paths, func(ps []Policy) error {
		return g.ReplacePolicies(ctx, ps)
	})
}

// Evaluate runs every enabled policy against in. An evaluation error is
// returned as is; callers treat it as a rejection.
func (g *Guard) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.policies))
	for name, cp := range g.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	decision := &Decision{Allowed: true, Evaluated: names}
	for _, name := range names {
		cp := g.policies[name]
		results, err := cp.query.Eval(ctx, rego.EvalInput(in))
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denySet {
					v := newViolation(cp.policy, d)
					if v.Severity.Blocks() {
						decision.Allowed = false
					}
					decision.Violations = append(decision.Violations, v)
				}
			}
		}
	}
	return decision, nil
}

// newViolation reads a deny element: a string or an object with message
// and severity.
func newViolation(p Policy, result interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// Authorize implements engine.Authorizer.
func (g *Guard) Authorize(ctx context.Context, req engine.Authorization) error {
	in := Input{
		Kind:      req.Kind,
		Method:    req.Method,
		Payer:     req.Payer.String(),
		Amount:    req.Amount,
		MaxFee:    req.MaxFee,
		Memo:      req.Memo,
		Transfers: make([]Transfer, len(req.Transfers)),
		Timestamp: g.now().UTC(),
	}
	for i, t := range req.Transfers {
		in.Transfers[i] = Transfer{Account: t.Account.String(), Amount: t.Amount}
	}

	decision, err := g.Evaluate(ctx, in)
	if err != nil {
		return err
	}

	var blocking []Violation
	for _, v := range decision.Violations {
		if v.Severity.Blocks() {
			blocking = append(blocking, v)
			continue
		}
		g.logger.WithFields(map[string]interface{}{
			"policy":   v.Policy,
			"severity": string(v.Severity),
			"kind":     req.Kind,
		}).Warn(v.Message)
	}
	if len(blocking) > 0 {
		g.logger.WithFields(map[string]interface{}{
			"kind":       req.Kind,
			"method":     req.Method,
			"violations": len(blocking),
		}).Info("request denied by policy")
		return &DeniedError{Violations: blocking}
	}
	return nil
}

// ListPolicies returns all policies sorted by name.
func (g *Guard) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, cp.policy)
	}
	slices.SortFunc(policies, func(a, b Policy) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Guard) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Guard) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Guard) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	g.logger.WithFields(map[string]interface{}{"policy": name, "enabled": enabled}).Info("policy toggled")
	return nil
}
