package services

import (
	"regexp"
	"strings"
	"sync"

	"github.com/jmfrees/warden/core"
)

// PolicyEngine evaluates attribute-based access rules to a binary
// allow/deny decision.
//
// Resolution is deterministic and order-independent: among the
// applicable policies, any DENY wins over any number of ALLOWs, and an
// empty applicable set is a DENY. Absence of a policy is never an
// authorization.
//
// The collection is read-mostly; administrative mutation goes through
// SetPolicies/AddPolicy/RemovePolicy under the lock.
type PolicyEngine struct {
	mu       sync.RWMutex
	policies []core.Policy
}

var _ core.Authorizer = (*PolicyEngine)(nil)

func NewPolicyEngine(policies ...core.Policy) *PolicyEngine {
	e := &PolicyEngine{}
	e.SetPolicies(policies)
	return e
}

// SetPolicies replaces the collection wholesale.
func (e *PolicyEngine) SetPolicies(policies []core.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append([]core.Policy(nil), policies...)
}

func (e *PolicyEngine) AddPolicy(p core.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
}

// RemovePolicy deletes a policy by id, reporting whether it existed.
func (e *PolicyEngine) RemovePolicy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.policies {
		if p.ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			return true
		}
	}
	return false
}

func (e *PolicyEngine) Policies() []core.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]core.Policy(nil), e.policies...)
}

// Evaluate decides whether user may perform action on resource given
// the supplied attribute context.
func (e *PolicyEngine) Evaluate(user *core.User, resource, action string, resourceAttrs, envAttrs map[string]any) bool {
	if user == nil {
		return false
	}

	evalCtx := buildContext(user, resourceAttrs, envAttrs)

	e.mu.RLock()
	defer e.mu.RUnlock()

	allowed := false
	for _, p := range e.policies {
		if !subjectMatches(p.Subject, user) {
			continue
		}
		if !matchPattern(p.Resource, resource) || !matchPattern(p.Action, action) {
			continue
		}
		if !conditionsHold(p.Conditions, evalCtx) {
			continue
		}
		if p.Effect == core.EffectDeny {
			// Deny overrides allow, no matter how many allows matched.
			return false
		}
		allowed = true
	}
	return allowed
}

// Convenience wrappers with fixed action strings. They carry no
// independent semantics.

func (e *PolicyEngine) CanRead(user *core.User, resource string) bool {
	return e.Evaluate(user, resource, "read", nil, nil)
}

func (e *PolicyEngine) CanWrite(user *core.User, resource string) bool {
	return e.Evaluate(user, resource, "write", nil, nil)
}

func (e *PolicyEngine) CanDelete(user *core.User, resource string) bool {
	return e.Evaluate(user, resource, "delete", nil, nil)
}

func (e *PolicyEngine) CanManage(user *core.User, resource string) bool {
	return e.Evaluate(user, resource, "manage", nil, nil)
}

// UserPermissions lists every policy whose subject matches the user,
// flattened to (resource, action, conditions) and irrespective of
// effect. This is a capability listing, not a decision; callers must
// not treat an entry's presence as authorization.
func (e *PolicyEngine) UserPermissions(user *core.User) []core.Permission {
	if user == nil {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var perms []core.Permission
	for _, p := range e.policies {
		if subjectMatches(p.Subject, user) {
			perms = append(perms, core.Permission{
				Resource:   p.Resource,
				Action:     p.Action,
				Conditions: append([]core.Condition(nil), p.Conditions...),
			})
		}
	}
	return perms
}

// subjectMatches compares exactly against the user's id or role.
// Subjects do not take wildcards; only resource and action patterns do.
func subjectMatches(subject string, user *core.User) bool {
	return subject == user.ID || subject == string(user.Role)
}

// matchPattern: "*" matches anything; a pattern containing "*" becomes
// an anchored regular expression with each "*" standing for any run of
// characters; anything else requires exact equality.
func matchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// conditionsHold applies AND semantics: every condition must evaluate
// true for the policy to be applicable.
func conditionsHold(conditions []core.Condition, evalCtx map[string]any) bool {
	for _, cond := range conditions {
		if !evalCondition(cond, evalCtx) {
			return false
		}
	}
	return true
}

// buildContext assembles the namespaced attribute tree conditions
// resolve against. User built-ins sit alongside the free-form attribute
// map; attributes shadow nothing.
func buildContext(user *core.User, resourceAttrs, envAttrs map[string]any) map[string]any {
	userAttrs := map[string]any{
		"id":     user.ID,
		"email":  user.Email,
		"name":   user.Name,
		"role":   string(user.Role),
		"active": user.Active,
	}
	for k, v := range user.Attributes {
		userAttrs[k] = v
	}

	return map[string]any{
		"user":     userAttrs,
		"resource": resourceAttrs,
		"env":      envAttrs,
	}
}

// evalCondition resolves the attribute path and applies the operator.
// A missing attribute is undefined: every operator yields false on it
// except not_equals and not_in, which hold by the ordinary comparison
// semantics. Operators never panic on mistyped operands; they evaluate
// false instead.
func evalCondition(cond core.Condition, evalCtx map[string]any) bool {
	val, ok := lookupPath(evalCtx, cond.Attribute)

	switch cond.Operator {
	case core.OpEquals:
		return ok && looseEqual(val, cond.Value)
	case core.OpNotEquals:
		return !ok || !looseEqual(val, cond.Value)
	case core.OpContains:
		s, v, good := stringPair(val, cond.Value, ok)
		return good && strings.Contains(s, v)
	case core.OpStartsWith:
		s, v, good := stringPair(val, cond.Value, ok)
		return good && strings.HasPrefix(s, v)
	case core.OpEndsWith:
		s, v, good := stringPair(val, cond.Value, ok)
		return good && strings.HasSuffix(s, v)
	case core.OpGreaterThan:
		a, b, good := numericPair(val, cond.Value, ok)
		return good && a > b
	case core.OpLessThan:
		a, b, good := numericPair(val, cond.Value, ok)
		return good && a < b
	case core.OpIn:
		return ok && listContains(cond.Value, val)
	case core.OpNotIn:
		return !ok || !listContains(cond.Value, val)
	default:
		return false
	}
}

// lookupPath walks a dot-separated attribute path from the context
// root. "user."/"resource."/"env." prefixes land in their namespace
// maps; an unprefixed path is resolved against the whole context.
func lookupPath(evalCtx map[string]any, attribute string) (any, bool) {
	if attribute == "" {
		return nil, false
	}

	segments := strings.Split(attribute, ".")

	var current any = evalCtx
	for _, seg := range segments {
		node, isMap := current.(map[string]any)
		if !isMap {
			return nil, false
		}
		next, exists := node[seg]
		if !exists {
			return nil, false
		}
		current = next
	}
	return current, true
}

// looseEqual compares scalars across Go's numeric types the way a
// policy author expects: 7 == 7.0, strings and bools by value.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func stringPair(val, operand any, ok bool) (string, string, bool) {
	if !ok {
		return "", "", false
	}
	s, sok := val.(string)
	v, vok := operand.(string)
	return s, v, sok && vok
}

func numericPair(val, operand any, ok bool) (float64, float64, bool) {
	if !ok {
		return 0, 0, false
	}
	a, aok := toFloat(val)
	b, bok := toFloat(operand)
	return a, b, aok && bok
}

// toFloat accepts numeric types only; strings are not coerced.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func listContains(operand, val any) bool {
	switch list := operand.(type) {
	case []any:
		for _, item := range list {
			if looseEqual(val, item) {
				return true
			}
		}
	case []string:
		for _, item := range list {
			if looseEqual(val, item) {
				return true
			}
		}
	}
	return false
}
