package birch

import (
	"fmt"
	"reflect"
)

// ResolverPolicy produces the runtime value of one dependency when the
// engine is ready to build it.
type ResolverPolicy func(ctx *BuildContext) (reflect.Value, error)

// ParameterValue specifies how to obtain one constructor argument, method
// argument, array element or property value.
type ParameterValue interface {
	// TypeName reports the static type the value produces, for diagnostics.
	TypeName() string

	// MatchesType reports whether the value can be supplied for a parameter
	// of type t. It never resolves anything.
	MatchesType(t reflect.Type) bool

	// ResolverPolicy returns the resolution step for a parameter declared as
	// declared. Values created without a type take declared as their type.
	ResolverPolicy(declared reflect.Type) (ResolverPolicy, error)
}

// ToParameterValue normalizes a caller supplied argument: a ParameterValue
// is returned as is, a reflect.Type becomes [Resolved] and anything else
// becomes a [Literal].
func ToParameterValue(raw any) ParameterValue {
	switch v := raw.(type) {
	case ParameterValue:
		return v
	case reflect.Type:
		return Resolved(v)
	default:
		return Literal(raw)
	}
}

func toParameterValues(raw []any) []ParameterValue {
	out := make([]ParameterValue, len(raw))
	for i, r := range raw {
		out[i] = ToParameterValue(r)
	}
	return out
}

func signature(values []ParameterValue) string {
	s := "("
	for i, v := range values {
		if i > 0 {
			s += ", "
		}
		s += v.TypeName()
	}
	return s + ")"
}

// ---------------------------------------------------------------------------
// Literal
// ---------------------------------------------------------------------------

type literalValue struct {
	value reflect.Value
	typ   reflect.Type
}

// Literal supplies v as is. Its static type is the dynamic type of v; an
// untyped nil matches any nillable parameter.
func Literal(v any) ParameterValue {
	rv := reflect.ValueOf(v)
	l := &literalValue{value: rv}
	if rv.IsValid() {
		l.typ = rv.Type()
	}
	return l
}

// TypedLiteral supplies v declared as t, so that it only matches parameters
// t is assignable to.
func TypedLiteral(v any, t reflect.Type) ParameterValue {
	return &literalValue{value: reflect.ValueOf(v), typ: t}
}

func (l *literalValue) TypeName() string {
	if l.typ == nil {
		return "nil"
	}
	return l.typ.String()
}

func (l *literalValue) MatchesType(t reflect.Type) bool {
	if l.typ == nil {
		return isNillable(t)
	}
	return l.typ.AssignableTo(t)
}

func (l *literalValue) ResolverPolicy(declared reflect.Type) (ResolverPolicy, error) {
	if l.typ != nil && l.value.IsValid() && !l.value.Type().AssignableTo(l.typ) {
		return nil, fmt.Errorf("%w: literal of type %s declared as %s", ErrTypeMismatch, l.value.Type(), l.typ)
	}
	if !l.MatchesType(declared) {
		return nil, fmt.Errorf("%w: literal %s for %s", ErrTypeMismatch, l.TypeName(), declared)
	}
	v, err := assignable(l.value, declared)
	if err != nil {
		return nil, err
	}
	return func(*BuildContext) (reflect.Value, error) {
		return v, nil
	}, nil
}

// ---------------------------------------------------------------------------
// Resolved
// ---------------------------------------------------------------------------

type resolvedValue struct {
	typ  reflect.Type
	name string
}

// Resolved resolves the build key (t, name) when the dependency is built.
// A nil t takes the type of the parameter it is supplied for.
func Resolved(t reflect.Type, name ...string) ParameterValue {
	r := &resolvedValue{typ: t}
	if len(name) > 0 {
		r.name = name[0]
	}
	return r
}

// ResolvedOf is the generic form of [Resolved].
func ResolvedOf[T any](name ...string) ParameterValue {
	return Resolved(TypeOf[T](), name...)
}

// Named resolves the registration called name whose type is the type of the
// parameter or element it is supplied for.
func Named(name string) ParameterValue {
	return &resolvedValue{name: name}
}

func (r *resolvedValue) TypeName() string {
	if r.typ == nil {
		return "<inferred>"
	}
	return r.typ.String()
}

func (r *resolvedValue) MatchesType(t reflect.Type) bool {
	return r.typ == nil || r.typ.AssignableTo(t)
}

func (r *resolvedValue) key(declared reflect.Type) (BuildKey, error) {
	t := r.typ
	if t == nil {
		t = declared
	}
	if !t.AssignableTo(declared) {
		return BuildKey{}, fmt.Errorf("%w: resolved %s for %s", ErrTypeMismatch, t, declared)
	}
	return BuildKey{Type: t, Name: r.name}, nil
}

func (r *resolvedValue) ResolverPolicy(declared reflect.Type) (ResolverPolicy, error) {
	key, err := r.key(declared)
	if err != nil {
		return nil, err
	}
	return func(ctx *BuildContext) (reflect.Value, error) {
		v, err := ctx.ResolveDependency(key)
		if err != nil {
			return reflect.Value{}, err
		}
		return assignable(v, declared)
	}, nil
}

// ---------------------------------------------------------------------------
// Optional
// ---------------------------------------------------------------------------

type optionalValue struct {
	resolvedValue
	fallback reflect.Value
}

// Optional resolves (t, name) if it is registered and yields the zero value
// of the parameter type otherwise.
func Optional(t reflect.Type, name ...string) ParameterValue {
	o := &optionalValue{resolvedValue: resolvedValue{typ: t}}
	if len(name) > 0 {
		o.name = name[0]
	}
	return o
}

// OptionalOf is the generic form of [Optional].
func OptionalOf[T any](name ...string) ParameterValue {
	return Optional(TypeOf[T](), name...)
}

// OptionalOr is like [Optional] but yields fallback when (t, name) is not
// registered.
func OptionalOr(t reflect.Type, name string, fallback any) ParameterValue {
	return &optionalValue{
		resolvedValue: resolvedValue{typ: t, name: name},
		fallback:      reflect.ValueOf(fallback),
	}
}

func (o *optionalValue) ResolverPolicy(declared reflect.Type) (ResolverPolicy, error) {
	key, err := o.key(declared)
	if err != nil {
		return nil, err
	}
	fallback, err := assignable(o.fallback, declared)
	if err != nil {
		return nil, fmt.Errorf("optional %s default: %w", key, err)
	}
	return func(ctx *BuildContext) (reflect.Value, error) {
		if !ctx.CanResolve(key) {
			return fallback, nil
		}
		v, err := ctx.ResolveDependency(key)
		if err != nil {
			return reflect.Value{}, err
		}
		return assignable(v, declared)
	}, nil
}

// ---------------------------------------------------------------------------
// ResolvedArray
// ---------------------------------------------------------------------------

type resolvedArray struct {
	elem  reflect.Type
	elems []ParameterValue
}

// ResolvedArray assembles a slice (or array) of elem from the given element
// values, in order. Elements are normalized with [ToParameterValue]. An
// element whose static type is not assignable to elem is reported as
// [ErrTypeMismatch] when the array is registered. A nil elem takes the
// element type of the parameter the array is supplied for.
//
//	birch.ResolvedArray(birch.TypeOf[Cylinder](), birch.Named("c1"), birch.Named("c2"))
func ResolvedArray(elem reflect.Type, elems ...any) ParameterValue {
	return &resolvedArray{elem: elem, elems: toParameterValues(elems)}
}

// NewResolvedArray is like [ResolvedArray] but checks the element types
// immediately. With a nil elem the check waits for the declared type.
func NewResolvedArray(elem reflect.Type, elems ...any) (ParameterValue, error) {
	a := &resolvedArray{elem: elem, elems: toParameterValues(elems)}
	if elem != nil {
		if err := a.checkElements(elem); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *resolvedArray) TypeName() string {
	if a.elem == nil {
		return "[]<inferred>"
	}
	return "[]" + a.elem.String()
}

func (a *resolvedArray) MatchesType(t reflect.Type) bool {
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}
	return a.elem == nil || a.elem.AssignableTo(t.Elem())
}

// elemFor returns the element type used for a parameter declared as
// declared.
func (a *resolvedArray) elemFor(declared reflect.Type) reflect.Type {
	if a.elem != nil {
		return a.elem
	}
	return declared.Elem()
}

func (a *resolvedArray) checkElements(elem reflect.Type) error {
	for i, e := range a.elems {
		if !e.MatchesType(elem) {
			return fmt.Errorf("%w: element %d of []%s is %s", ErrTypeMismatch, i, elem, e.TypeName())
		}
	}
	return nil
}

func (a *resolvedArray) ResolverPolicy(declared reflect.Type) (ResolverPolicy, error) {
	if !a.MatchesType(declared) {
		return nil, fmt.Errorf("%w: %s for %s", ErrTypeMismatch, a.TypeName(), declared)
	}
	elem := a.elemFor(declared)
	if err := a.checkElements(elem); err != nil {
		return nil, err
	}
	if declared.Kind() == reflect.Array && declared.Len() != len(a.elems) {
		return nil, fmt.Errorf("%w: %d elements for %s", ErrTypeMismatch, len(a.elems), declared)
	}

	resolvers := make([]ResolverPolicy, len(a.elems))
	for i, e := range a.elems {
		rp, err := e.ResolverPolicy(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		resolvers[i] = rp
	}

	return func(ctx *BuildContext) (reflect.Value, error) {
		var out reflect.Value
		if declared.Kind() == reflect.Array {
			out = reflect.New(declared).Elem()
		} else {
			out = reflect.MakeSlice(declared, len(resolvers), len(resolvers))
		}
		for i, rp := range resolvers {
			v, err := rp(ctx)
			if err != nil {
				return reflect.Value{}, err
			}
			v, err = assignable(v, declared.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(v)
		}
		return out, nil
	}, nil
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

// assignable adapts v for a slot of type t. Invalid values become the zero
// value of t and interface values are unwrapped when the slot needs the
// concrete type.
func assignable(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Zero(t), nil
	}
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Kind() == reflect.Interface && !v.IsNil() && v.Elem().Type().AssignableTo(t) {
		return v.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrTypeMismatch, v.Type(), t)
}

func isNillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// dependencyLister is implemented by values that resolve build keys, so the
// graph can be validated without building it.
type dependencyLister interface {
	dependencies(ctx *BuildContext, declared reflect.Type) []BuildKey
}

func dependencyKeys(ctx *BuildContext, p ParameterValue, declared reflect.Type) []BuildKey {
	if d, ok := p.(dependencyLister); ok {
		return d.dependencies(ctx, declared)
	}
	return nil
}

func (r *resolvedValue) dependencies(_ *BuildContext, declared reflect.Type) []BuildKey {
	key, err := r.key(declared)
	if err != nil {
		return nil
	}
	return []BuildKey{key}
}

func (o *optionalValue) dependencies(ctx *BuildContext, declared reflect.Type) []BuildKey {
	key, err := o.key(declared)
	if err != nil || !ctx.IsRegistered(key) {
		return nil
	}
	return []BuildKey{key}
}

func (a *resolvedArray) dependencies(ctx *BuildContext, declared reflect.Type) []BuildKey {
	elem := a.elemFor(declared)
	var keys []BuildKey
	for _, e := range a.elems {
		keys = append(keys, dependencyKeys(ctx, e, elem)...)
	}
	return keys
}

func (a *allNamedValue) dependencies(ctx *BuildContext, _ reflect.Type) []BuildKey {
	return ctx.container.namedKeys(a.elem)
}
