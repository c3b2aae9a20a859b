package birch

import (
	"fmt"
	"reflect"
	"strings"
)

// SelectedConstructor binds a build key to one constructor and the ordered
// parameter values supplied for it. It is immutable once created.
type SelectedConstructor struct {
	Constructor Constructor
	Params      []ParameterValue

	resolvers []ResolverPolicy
}

// NewSelectedConstructor pairs ctor with params and prepares the resolver
// policy of every parameter. It fails with [ErrTypeMismatch] when a value
// cannot be supplied for its parameter.
func NewSelectedConstructor(ctor Constructor, params []ParameterValue) (*SelectedConstructor, error) {
	if len(params) != len(ctor.Params) {
		return nil, fmt.Errorf("%w: %d values for constructor %s", ErrTypeMismatch, len(params), ctor)
	}
	resolvers := make([]ResolverPolicy, len(params))
	for i, p := range params {
		rp, err := p.ResolverPolicy(ctor.Params[i])
		if err != nil {
			return nil, fmt.Errorf("parameter %d of %s: %w", i, ctor, err)
		}
		resolvers[i] = rp
	}
	return &SelectedConstructor{Constructor: ctor, Params: params, resolvers: resolvers}, nil
}

// SelectExplicit returns the first constructor of desc whose parameters are
// matched, position by position and in full, by params.
func SelectExplicit(desc TypeDescriptor, params []ParameterValue) (*SelectedConstructor, error) {
	for _, ctor := range desc.Constructors() {
		if !matches(ctor.Params, params) {
			continue
		}
		return NewSelectedConstructor(ctor, params)
	}
	return nil, fmt.Errorf("%w: %s%s", ErrNoSuchConstructor, qualifiedName(desc.Type()), signature(params))
}

func matches(types []reflect.Type, params []ParameterValue) bool {
	if len(types) != len(params) {
		return false
	}
	for i, p := range params {
		if !p.MatchesType(types[i]) {
			return false
		}
	}
	return true
}

// ConstructorSelector chooses the constructor used when a registration does
// not name one explicitly. The container stores its selector as the default
// [KindConstructorSelector] policy; a specific build key may carry its own.
type ConstructorSelector interface {
	SelectConstructor(ctx *BuildContext, desc TypeDescriptor) (*SelectedConstructor, error)
}

// GreedySelector picks the constructor with the most parameters among the
// eligible ones. A constructor is eligible when every parameter can be
// resolved from the registry. With HonorPreferred set a constructor marked
// [Preferred] wins regardless of its arity. Ties fail with
// [ErrAmbiguousConstructor].
type GreedySelector struct {
	HonorPreferred bool
}

func (s GreedySelector) SelectConstructor(ctx *BuildContext, desc TypeDescriptor) (*SelectedConstructor, error) {
	all := desc.Constructors()
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s declares no constructors", ErrNoSuchConstructor, qualifiedName(desc.Type()))
	}

	var eligible []Constructor
	for _, ctor := range all {
		if ctx.constructorEligible(ctor) {
			eligible = append(eligible, ctor)
		}
	}
	// Nothing resolvable: pick among all so the missing dependency is
	// reported by resolution with its chain.
	if len(eligible) == 0 {
		eligible = all
	}

	if s.HonorPreferred {
		var preferred []Constructor
		for _, ctor := range eligible {
			if ctor.Preferred {
				preferred = append(preferred, ctor)
			}
		}
		switch len(preferred) {
		case 0:
		case 1:
			return ctx.autoSelected(preferred[0])
		default:
			return nil, ambiguous(desc.Type(), preferred, "preferred")
		}
	}

	best := []Constructor{eligible[0]}
	for _, ctor := range eligible[1:] {
		switch n := len(ctor.Params); {
		case n > len(best[0].Params):
			best = []Constructor{ctor}
		case n == len(best[0].Params):
			best = append(best, ctor)
		}
	}
	if len(best) > 1 {
		return nil, ambiguous(desc.Type(), best, fmt.Sprintf("%d-parameter", len(best[0].Params)))
	}
	return ctx.autoSelected(best[0])
}

func ambiguous(t reflect.Type, ctors []Constructor, what string) error {
	sigs := make([]string, len(ctors))
	for i, c := range ctors {
		sigs[i] = c.String()
	}
	return fmt.Errorf("%w: %s has %d %s constructors: %s",
		ErrAmbiguousConstructor, qualifiedName(t), len(ctors), what, strings.Join(sigs, "; "))
}

func qualifiedName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.PkgPath() == "" {
		return t.String()
	}
	return strings.Repeat("*", ptrDepth(t)) + base.PkgPath() + "." + base.Name()
}

func ptrDepth(t reflect.Type) int {
	n := 0
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Automatic parameter values
// ---------------------------------------------------------------------------

// constructorEligible reports whether every parameter of ctor can be
// resolved from the registry or the overrides of the call.
func (ctx *BuildContext) constructorEligible(ctor Constructor) bool {
	for _, p := range ctor.Params {
		if ctx.CanResolve(BuildKey{Type: p}) {
			continue
		}
		if p.Kind() == reflect.Slice && len(ctx.container.namedKeys(p.Elem())) > 0 {
			continue
		}
		return false
	}
	return true
}

// autoSelected builds the parameter values of an automatically selected
// constructor: each parameter resolves its own type, and slices with no
// registration of their own collect every named registration of the
// element type.
func (ctx *BuildContext) autoSelected(ctor Constructor) (*SelectedConstructor, error) {
	params := make([]ParameterValue, len(ctor.Params))
	for i, p := range ctor.Params {
		if p.Kind() == reflect.Slice && !ctx.CanResolve(BuildKey{Type: p}) &&
			len(ctx.container.namedKeys(p.Elem())) > 0 {
			params[i] = &allNamedValue{elem: p.Elem()}
			continue
		}
		params[i] = Resolved(p)
	}
	return NewSelectedConstructor(ctor, params)
}

// allNamedValue resolves every named registration of elem, in registration
// order.
type allNamedValue struct {
	elem reflect.Type
}

func (a *allNamedValue) TypeName() string { return "[]" + a.elem.String() + "(all)" }

func (a *allNamedValue) MatchesType(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && a.elem.AssignableTo(t.Elem())
}

func (a *allNamedValue) ResolverPolicy(declared reflect.Type) (ResolverPolicy, error) {
	if !a.MatchesType(declared) {
		return nil, fmt.Errorf("%w: %s for %s", ErrTypeMismatch, a.TypeName(), declared)
	}
	return func(ctx *BuildContext) (reflect.Value, error) {
		return ctx.resolveAll(a.elem, declared)
	}, nil
}
