package birch

import "sync"

// PolicyKind identifies a family of policies in a [PolicyList].
type PolicyKind string

// Policy kinds consulted by the built-in strategies.
const (
	KindDescriptor          PolicyKind = "descriptor"
	KindConstructorSelector PolicyKind = "constructor-selector"
	KindSelectedConstructor PolicyKind = "selected-constructor"
	KindAutoConstructor     PolicyKind = "auto-constructor"
	KindProperties          PolicyKind = "properties"
	KindMethods             PolicyKind = "methods"
	KindLifetime            PolicyKind = "lifetime"
)

type policyKey struct {
	kind PolicyKind
	key  BuildKey
}

// PolicyList is one node of a policy tree. Each node owns its local
// policies, keyed by (kind, build key), and per-kind defaults that apply to
// every build key without a specific policy. Lookups that miss locally
// continue in the parent node.
//
// A PolicyList is safe for concurrent use.
type PolicyList struct {
	mu       sync.RWMutex
	parent   *PolicyList
	defaults map[PolicyKind]any
	policies map[policyKey]any
}

// NewPolicyList returns an empty root policy list.
func NewPolicyList() *PolicyList {
	return newPolicyList(nil)
}

func newPolicyList(parent *PolicyList) *PolicyList {
	return &PolicyList{
		parent:   parent,
		defaults: make(map[PolicyKind]any),
		policies: make(map[policyKey]any),
	}
}

// NewChild returns an empty list whose lookups fall back to l.
func (l *PolicyList) NewChild() *PolicyList {
	return newPolicyList(l)
}

// Parent returns the list l falls back to, or nil for a root.
func (l *PolicyList) Parent() *PolicyList {
	return l.parent
}

// Set stores policy for (kind, key), replacing any previous policy.
func (l *PolicyList) Set(kind PolicyKind, key BuildKey, policy any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[policyKey{kind, key}] = policy
}

// SetDefault stores the default policy of kind.
func (l *PolicyList) SetDefault(kind PolicyKind, policy any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults[kind] = policy
}

// Get looks up the policy of kind for key: the specific local policy, then
// the local default, then the parent list unless localOnly is set. It also
// returns the list that satisfied the lookup.
func (l *PolicyList) Get(kind PolicyKind, key BuildKey, localOnly bool) (any, *PolicyList) {
	return l.get(kind, key, localOnly, true)
}

// GetNoDefault is like Get but never falls back to a default policy.
func (l *PolicyList) GetNoDefault(kind PolicyKind, key BuildKey, localOnly bool) (any, *PolicyList) {
	return l.get(kind, key, localOnly, false)
}

func (l *PolicyList) get(kind PolicyKind, key BuildKey, localOnly, withDefault bool) (any, *PolicyList) {
	for list := l; list != nil; list = list.parent {
		list.mu.RLock()
		p, ok := list.policies[policyKey{kind, key}]
		if !ok && withDefault {
			p, ok = list.defaults[kind]
		}
		list.mu.RUnlock()

		if ok {
			return p, list
		}
		if localOnly {
			break
		}
	}
	return nil, nil
}

// Clear removes the local policy of kind for key.
func (l *PolicyList) Clear(kind PolicyKind, key BuildKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.policies, policyKey{kind, key})
}

// ClearDefault removes the local default of kind.
func (l *PolicyList) ClearDefault(kind PolicyKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.defaults, kind)
}

// ClearKind removes every local policy of kind, keeping its default.
func (l *PolicyList) ClearKind(kind PolicyKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.policies {
		if k.kind == kind {
			delete(l.policies, k)
		}
	}
}

// ClearAll removes every local policy and default.
func (l *PolicyList) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies = make(map[policyKey]any)
	l.defaults = make(map[PolicyKind]any)
}

// copyTo stores every local policy and default of l in dst.
func (l *PolicyList) copyTo(dst *PolicyList) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	for k, p := range l.policies {
		dst.policies[k] = p
	}
	for kind, p := range l.defaults {
		dst.defaults[kind] = p
	}
}

// Len returns the number of local policies, defaults excluded.
func (l *PolicyList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.policies)
}

// GetPolicy is a typed [PolicyList.Get]. It reports false when no policy is
// found or the stored policy is not a P.
func GetPolicy[P any](l *PolicyList, kind PolicyKind, key BuildKey, localOnly bool) (P, *PolicyList, bool) {
	var zero P
	raw, owner := l.Get(kind, key, localOnly)
	p, ok := raw.(P)
	if !ok {
		return zero, nil, false
	}
	return p, owner, true
}

// GetPolicyNoDefault is a typed [PolicyList.GetNoDefault].
func GetPolicyNoDefault[P any](l *PolicyList, kind PolicyKind, key BuildKey, localOnly bool) (P, *PolicyList, bool) {
	var zero P
	raw, owner := l.GetNoDefault(kind, key, localOnly)
	p, ok := raw.(P)
	if !ok {
		return zero, nil, false
	}
	return p, owner, true
}
