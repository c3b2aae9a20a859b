package birch

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BuildContext is the state of one top-level resolution call: the stack of
// build keys in progress, a policy list private to the call and the
// dependency overrides supplied with it. It is discarded when the call
// returns and must not be shared between goroutines.
type BuildContext struct {
	// ID identifies the call in logs. It is empty unless debug logging is
	// enabled.
	ID string

	container *container
	policies  *PolicyList
	stack     []BuildKey
	overrides map[BuildKey]reflect.Value
}

func (c *container) newContext() *BuildContext {
	ctx := &BuildContext{
		container: c,
		policies:  c.policies.NewChild(),
	}
	if c.logger.Core().Enabled(zap.DebugLevel) {
		ctx.ID = uuid.NewString()
	}
	return ctx
}

// Policies returns the policy list of the call. Policies set on it are
// visible to the rest of the call only.
func (ctx *BuildContext) Policies() *PolicyList {
	return ctx.policies
}

// Stack returns the build keys currently in progress, outermost first.
func (ctx *BuildContext) Stack() []BuildKey {
	out := make([]BuildKey, len(ctx.stack))
	copy(out, ctx.stack)
	return out
}

// IsRegistered reports whether key has a registration in the container.
func (ctx *BuildContext) IsRegistered(key BuildKey) bool {
	return ctx.container.IsRegistered(key)
}

// CanResolve reports whether key is overridden for this call or registered.
func (ctx *BuildContext) CanResolve(key BuildKey) bool {
	if _, ok := ctx.overrides[key]; ok {
		return true
	}
	return ctx.IsRegistered(key)
}

// ResolveDependency resolves key as a dependency of the key being built.
func (ctx *BuildContext) ResolveDependency(key BuildKey) (reflect.Value, error) {
	if v, ok := ctx.overrides[key]; ok {
		return v, nil
	}
	return ctx.buildUp(key)
}

// buildUp runs the strategy pipeline for key.
func (ctx *BuildContext) buildUp(key BuildKey) (reflect.Value, error) {
	for _, k := range ctx.stack {
		if k == key {
			chain := append(ctx.Stack(), key)
			return reflect.Value{}, &ResolutionError{
				Key:   key,
				Chain: chain,
				Err:   fmt.Errorf("%w: %s", ErrCircularDependency, formatChain(chain)),
			}
		}
	}

	ctx.stack = append(ctx.stack, key)
	defer func() { ctx.stack = ctx.stack[:len(ctx.stack)-1] }()

	if !ctx.IsRegistered(key) {
		return reflect.Value{}, resolutionFailure(ctx.stack, ErrNotRegistered)
	}

	f := &BuildFrame{Key: key}
	defer f.recover()

	strategies := ctx.container.strategies
	ran := 0
	for _, s := range strategies {
		ran++
		if err := s.PreBuild(ctx, f); err != nil {
			return reflect.Value{}, resolutionFailure(ctx.stack, err)
		}
		if f.Complete {
			break
		}
	}
	for i := ran - 1; i >= 0; i-- {
		if err := strategies[i].PostBuild(ctx, f); err != nil {
			return reflect.Value{}, resolutionFailure(ctx.stack, err)
		}
	}

	if f.Cached {
		ctx.container.logger.Debug("served from lifetime",
			zap.String("resolve_id", ctx.ID),
			zap.Stringer("key", key),
		)
	}
	return f.Existing, nil
}

// resolveAll resolves every named registration of elem into a slice of
// type sliceType.
func (ctx *BuildContext) resolveAll(elem, sliceType reflect.Type) (reflect.Value, error) {
	keys := ctx.container.namedKeys(elem)
	out := reflect.MakeSlice(sliceType, len(keys), len(keys))
	for i, k := range keys {
		v, err := ctx.ResolveDependency(k)
		if err != nil {
			return reflect.Value{}, err
		}
		v, err = assignable(v, sliceType.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(v)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Container methods
// ---------------------------------------------------------------------------

func (c *container) Resolve(key BuildKey, overrides ...Override) (reflect.Value, error) {
	if c.isShutdown() {
		return reflect.Value{}, ErrShutdown
	}

	start := time.Now()
	ctx := c.newContext()
	for _, o := range overrides {
		if err := o.apply(ctx, key); err != nil {
			return reflect.Value{}, err
		}
	}

	v, err := ctx.ResolveDependency(key)
	c.finish(ctx, key, start, err)
	if err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

func (c *container) ResolveAll(t reflect.Type, overrides ...Override) (reflect.Value, error) {
	if c.isShutdown() {
		return reflect.Value{}, ErrShutdown
	}

	start := time.Now()
	key := BuildKey{Type: reflect.SliceOf(t)}
	ctx := c.newContext()
	for _, o := range overrides {
		if err := o.apply(ctx, key); err != nil {
			return reflect.Value{}, err
		}
	}

	v, err := ctx.resolveAll(t, key.Type)
	c.finish(ctx, key, start, err)
	return v, err
}

func (c *container) finish(ctx *BuildContext, key BuildKey, start time.Time, err error) {
	elapsed := time.Since(start)
	c.metrics.resolution(err, elapsed)
	if err != nil {
		c.logger.Warn("resolve failed",
			zap.String("resolve_id", ctx.ID),
			zap.Stringer("key", key),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("resolved",
		zap.String("resolve_id", ctx.ID),
		zap.Stringer("key", key),
		zap.Duration("elapsed", elapsed),
	)
}

// ---------------------------------------------------------------------------
// Overrides
// ---------------------------------------------------------------------------

// Override changes how a single resolution call builds its graph.
type Override interface {
	apply(ctx *BuildContext, target BuildKey) error
}

type constructorOverride struct {
	params []ParameterValue
}

// ConstructorOverride selects the constructor of the requested key by an
// explicit parameter list for one call, in place of the registered
// selection.
func ConstructorOverride(params ...any) Override {
	return &constructorOverride{params: toParameterValues(params)}
}

func (o *constructorOverride) apply(ctx *BuildContext, target BuildKey) error {
	desc, _, ok := GetPolicyNoDefault[TypeDescriptor](ctx.policies, KindDescriptor, target, false)
	if !ok {
		return resolutionFailure([]BuildKey{target}, ErrNotRegistered)
	}
	sel, err := SelectExplicit(desc, o.params)
	if err != nil {
		return resolutionFailure([]BuildKey{target}, err)
	}
	ctx.policies.Set(KindSelectedConstructor, target, sel)
	return nil
}

type dependencyOverride struct {
	key   BuildKey
	value any
}

// DependencyOverride makes every request for key within one call yield
// value instead of resolving the registration.
func DependencyOverride(key BuildKey, value any) Override {
	return &dependencyOverride{key: key, value: value}
}

func (o *dependencyOverride) apply(ctx *BuildContext, _ BuildKey) error {
	v, err := assignable(reflect.ValueOf(o.value), o.key.Type)
	if err != nil {
		return fmt.Errorf("override %s: %w", o.key, err)
	}
	if ctx.overrides == nil {
		ctx.overrides = make(map[BuildKey]reflect.Value)
	}
	ctx.overrides[o.key] = v
	return nil
}

// ---------------------------------------------------------------------------
// Generic helpers
// ---------------------------------------------------------------------------

// Resolve is a generic helper that resolves the unnamed registration of T.
// It is the recommended way to retrieve values:
//
//	engine, err := birch.Resolve[*Engine](c)
func Resolve[T any](c Container, overrides ...Override) (T, error) {
	return ResolveNamed[T](c, "", overrides...)
}

// ResolveNamed is a generic helper that resolves the registration of T
// called name:
//
//	c1, err := birch.ResolveNamed[Cylinder](c, "c1")
func ResolveNamed[T any](c Container, name string, overrides ...Override) (T, error) {
	var zero T
	key := KeyOf[T](name)

	val, err := c.Resolve(key, overrides...)
	if err != nil {
		return zero, err
	}
	if !val.IsValid() || (val.Kind() == reflect.Interface && val.IsNil()) {
		return zero, nil
	}

	out, ok := val.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: cannot convert %s to %s", ErrTypeMismatch, val.Type(), key.Type)
	}
	return out, nil
}

// ResolveAllOf resolves every named registration of T, in registration
// order.
func ResolveAllOf[T any](c Container, overrides ...Override) ([]T, error) {
	val, err := c.ResolveAll(TypeOf[T](), overrides...)
	if err != nil {
		return nil, err
	}
	return val.Interface().([]T), nil
}
