package birch

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// BuildFrame is the state of building one build key within a resolution.
type BuildFrame struct {
	Key BuildKey

	// Existing holds the instance once a strategy produced or found it.
	Existing reflect.Value

	// Complete stops the remaining PreBuild steps. PostBuild still runs for
	// the strategies whose PreBuild ran.
	Complete bool

	// Cached reports that Existing came from a lifetime manager.
	Cached bool

	lifetime   LifetimeManager
	callScoped bool
	recoveries []func()
}

// AddRecovery registers fn to run when the frame ends, whether the build
// succeeded or failed. Recoveries run in reverse order.
func (f *BuildFrame) AddRecovery(fn func()) {
	f.recoveries = append(f.recoveries, fn)
}

func (f *BuildFrame) recover() {
	for i := len(f.recoveries) - 1; i >= 0; i-- {
		f.recoveries[i]()
	}
	f.recoveries = nil
}

// Strategy is one step of the build pipeline. PreBuild runs in pipeline
// order, PostBuild in reverse order.
type Strategy interface {
	PreBuild(ctx *BuildContext, f *BuildFrame) error
	PostBuild(ctx *BuildContext, f *BuildFrame) error
}

func defaultStrategies() []Strategy {
	return []Strategy{
		lifetimeStrategy{},
		constructionStrategy{},
		propertyStrategy{},
		methodStrategy{},
	}
}

// ---------------------------------------------------------------------------
// Lifetime
// ---------------------------------------------------------------------------

type lifetimeStrategy struct{}

func (lifetimeStrategy) PreBuild(ctx *BuildContext, f *BuildFrame) error {
	lm, callScoped := ctx.lifetimeFor(f.Key)
	f.lifetime, f.callScoped = lm, callScoped

	if v, ok := lm.GetValue(); ok {
		f.Existing, f.Cached, f.Complete = reflect.ValueOf(v), true, true
	}
	return nil
}

func (lifetimeStrategy) PostBuild(ctx *BuildContext, f *BuildFrame) error {
	if f.Cached || f.lifetime == nil {
		return nil
	}
	var v any
	if f.Existing.IsValid() {
		v = f.Existing.Interface()
	}

	if a, ok := f.lifetime.(AtomicLifetime); ok {
		actual, stored := a.SetIfAbsent(v)
		if !stored {
			// Another resolution stored its instance first.
			f.Existing, f.Cached = reflect.ValueOf(actual), true
			ctx.container.logger.Debug("discarded concurrent build",
				zap.String("resolve_id", ctx.ID),
				zap.Stringer("key", f.Key),
			)
			return nil
		}
	} else {
		f.lifetime.SetValue(v)
	}

	if !f.callScoped {
		ctx.container.constructed(f.Key, f.lifetime)
	}
	return nil
}

// lifetimeFor returns the lifetime manager of key. A resolve-scoped
// lifetime inherited from the container is replaced by a fresh manager
// stored in the call's own policy list, so later requests in the same call
// find it locally. The second result reports a manager private to the call.
func (ctx *BuildContext) lifetimeFor(key BuildKey) (LifetimeManager, bool) {
	lm, owner, ok := GetPolicy[LifetimeManager](ctx.policies, KindLifetime, key, false)
	if !ok {
		return TransientLifetime{}, false
	}
	if owner == ctx.policies {
		return lm, true
	}
	if rs, ok := lm.(ResolveScoped); ok {
		scoped := rs.NewResolveScope()
		ctx.policies.Set(KindLifetime, key, scoped)
		return scoped, true
	}
	return lm, false
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

type constructionStrategy struct{}

func (constructionStrategy) PreBuild(ctx *BuildContext, f *BuildFrame) error {
	if f.Existing.IsValid() {
		return nil
	}

	sel, err := ctx.selectedConstructor(f.Key)
	if err != nil {
		return err
	}

	args := make([]reflect.Value, len(sel.resolvers))
	for i, rp := range sel.resolvers {
		v, err := rp(ctx)
		if err != nil {
			return err
		}
		args[i] = v
	}

	out, err := sel.Constructor.Invoke(args)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConstructionFailure, sel.Constructor, err)
	}
	f.Existing = out

	lifetime := lifetimeName(f.lifetime)
	ctx.container.metrics.construction(lifetime)
	ctx.container.logger.Debug("constructed",
		zap.String("resolve_id", ctx.ID),
		zap.Stringer("key", f.Key),
		zap.Stringer("constructor", sel.Constructor),
		zap.String("lifetime", lifetime),
	)
	return nil
}

func (constructionStrategy) PostBuild(*BuildContext, *BuildFrame) error { return nil }

// selectedConstructor returns the constructor for key: an explicit or
// cached selection when one exists, otherwise the result of the key's
// ConstructorSelector, cached in the container until the registry changes.
func (ctx *BuildContext) selectedConstructor(key BuildKey) (*SelectedConstructor, error) {
	if sel, _, ok := GetPolicyNoDefault[*SelectedConstructor](ctx.policies, KindSelectedConstructor, key, false); ok {
		return sel, nil
	}
	if sel, _, ok := GetPolicyNoDefault[*SelectedConstructor](ctx.policies, KindAutoConstructor, key, len(ctx.overrides) > 0); ok {
		return sel, nil
	}

	desc, _, ok := GetPolicyNoDefault[TypeDescriptor](ctx.policies, KindDescriptor, key, false)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no type descriptor", ErrNotRegistered, key)
	}
	selector, _, ok := GetPolicy[ConstructorSelector](ctx.policies, KindConstructorSelector, key, false)
	if !ok {
		selector = GreedySelector{HonorPreferred: true}
	}

	gen := ctx.container.registryGeneration()
	sel, err := selector.SelectConstructor(ctx, desc)
	if err != nil {
		return nil, err
	}
	// A selection made under call overrides may not hold for other calls.
	if len(ctx.overrides) > 0 {
		ctx.policies.Set(KindAutoConstructor, key, sel)
	} else {
		ctx.container.cacheSelection(key, sel, gen)
	}
	return sel, nil
}

// ---------------------------------------------------------------------------
// Property and method injection
// ---------------------------------------------------------------------------

type propertyStrategy struct{}

func (propertyStrategy) PreBuild(ctx *BuildContext, f *BuildFrame) error {
	if f.Cached {
		return nil
	}
	props, _, _ := GetPolicyNoDefault[[]*propertyInjection](ctx.policies, KindProperties, f.Key, false)
	if len(props) == 0 {
		return nil
	}
	target, err := injectionTarget(f)
	if err != nil {
		return err
	}
	for _, p := range props {
		v, err := p.resolver(ctx)
		if err != nil {
			return err
		}
		if err := p.property.Set(target, v); err != nil {
			return fmt.Errorf("%w: setting %s: %w", ErrConstructionFailure, p.property.Name, err)
		}
	}
	return nil
}

func (propertyStrategy) PostBuild(*BuildContext, *BuildFrame) error { return nil }

type methodStrategy struct{}

func (methodStrategy) PreBuild(ctx *BuildContext, f *BuildFrame) error {
	if f.Cached {
		return nil
	}
	methods, _, _ := GetPolicyNoDefault[[]*methodInjection](ctx.policies, KindMethods, f.Key, false)
	if len(methods) == 0 {
		return nil
	}
	target, err := injectionTarget(f)
	if err != nil {
		return err
	}
	for _, m := range methods {
		args := make([]reflect.Value, len(m.resolvers))
		for i, rp := range m.resolvers {
			v, err := rp(ctx)
			if err != nil {
				return err
			}
			args[i] = v
		}
		if err := m.method.Invoke(target, args); err != nil {
			return fmt.Errorf("%w: calling %s: %w", ErrConstructionFailure, m.method.Name, err)
		}
	}
	return nil
}

func (methodStrategy) PostBuild(*BuildContext, *BuildFrame) error { return nil }

// injectionTarget unwraps interface values so members are applied to the
// concrete instance.
func injectionTarget(f *BuildFrame) (reflect.Value, error) {
	v := f.Existing
	if v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() || (isNillable(v.Type()) && v.IsNil()) {
		return reflect.Value{}, fmt.Errorf("%w: %s was built as nil, cannot inject members", ErrConstructionFailure, f.Key)
	}
	return v, nil
}
