package birch

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Container defines the interface for the dependency injection container.
// Use [New] to create an instance.
type Container interface {
	// RegisterType maps the build key (service, name) to the implementation
	// described by impl. Injection members passed with [WithInjection]
	// install their policies immediately, so a constructor or member that
	// cannot match is reported here. Registering the same key again
	// replaces the previous registration.
	RegisterType(service reflect.Type, impl TypeDescriptor, opts ...RegisterOption) error

	// RegisterInstance maps the build key (service, name) to an existing
	// instance held by the registration's lifetime manager.
	RegisterInstance(service reflect.Type, instance any, opts ...RegisterOption) error

	// Resolve builds the value for key, resolving its dependencies
	// recursively. Prefer the generic [Resolve] helper over calling this
	// method directly.
	Resolve(key BuildKey, overrides ...Override) (reflect.Value, error)

	// ResolveAll builds every named registration of t, in registration
	// order, and returns them as a []t.
	ResolveAll(t reflect.Type, overrides ...Override) (reflect.Value, error)

	// IsRegistered reports whether key has a registration.
	IsRegistered(key BuildKey) bool

	// Registrations returns the registered build keys in the order they were
	// first registered.
	Registrations() []BuildKey

	// Policies returns the container's root policy list.
	Policies() *PolicyList

	// Teardown drops the instance cached for key by its lifetime manager so
	// the next request builds a new one. A container-controlled instance is
	// disposed, closing it if it implements io.Closer. Instance
	// registrations cannot be rebuilt and are rejected with
	// [ErrInvalidDescriptor].
	Teardown(key BuildKey) error

	// Validate walks the dependency graph of every registration without
	// constructing anything and reports missing registrations, constructor
	// selection failures and cycles.
	Validate() error

	// Shutdown disposes every instance owned by a container-controlled
	// lifetime, in reverse creation order, closing those that implement
	// io.Closer. The context controls the overall deadline; if it expires,
	// remaining instances are skipped and the context error is included in
	// the result.
	//
	// Shutdown is safe to call multiple times; subsequent calls return
	// [ErrAlreadyShutdown].
	Shutdown(ctx context.Context) error
}

type container struct {
	mu sync.RWMutex

	policies   *PolicyList
	registered map[BuildKey]struct{}
	order      []BuildKey

	// disposals lists the disposable lifetimes that were filled, in creation
	// order. live marks keys whose current lifetime is already listed;
	// lifetimes of replaced registrations stay listed until Shutdown.
	disposals []disposal
	live      map[BuildKey]bool

	// generation is bumped by every registration so that automatic
	// constructor selections computed against an older registry are not
	// cached.
	generation uint64

	strategies      []Strategy
	defaultLifetime func() LifetimeManager
	logger          *zap.Logger
	metrics         *Metrics

	shutdown bool
}

// New creates an empty [Container] ready for registration.
func New(opts ...Option) Container {
	o := options{
		logger:          zap.NewNop(),
		selector:        GreedySelector{HonorPreferred: true},
		defaultLifetime: Singleton,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &container{
		policies:        NewPolicyList(),
		registered:      make(map[BuildKey]struct{}),
		live:            make(map[BuildKey]bool),
		strategies:      append(defaultStrategies(), o.strategies...),
		defaultLifetime: o.defaultLifetime,
		logger:          o.logger,
		metrics:         o.metrics,
	}
	c.policies.SetDefault(KindConstructorSelector, o.selector)

	for _, err := range o.configErrs {
		c.logger.Warn("ignoring invalid config", zap.Error(err))
	}
	return c
}

// registrationKinds are the policy kinds owned by a single registration.
var registrationKinds = []PolicyKind{
	KindDescriptor,
	KindSelectedConstructor,
	KindProperties,
	KindMethods,
	KindLifetime,
}

func (c *container) RegisterType(service reflect.Type, impl TypeDescriptor, opts ...RegisterOption) error {
	if service == nil || impl == nil || impl.Type() == nil {
		return fmt.Errorf("%w: service and implementation are required", ErrInvalidDescriptor)
	}
	if !impl.Type().AssignableTo(service) {
		return fmt.Errorf("%w: %s is not assignable to %s", ErrTypeMismatch, impl.Type(), service)
	}

	r := registration{}
	for _, opt := range opts {
		opt(&r)
	}
	if r.lifetime == nil {
		r.lifetime = c.defaultLifetime()
	}
	key := BuildKey{Type: service, Name: r.name}

	staging := NewPolicyList()
	staging.Set(KindDescriptor, key, impl)
	staging.Set(KindLifetime, key, r.lifetime)
	for _, m := range r.members {
		if err := m.RegisterPolicies(service, impl, r.name, staging); err != nil {
			return fmt.Errorf("registering %s: %w", key, err)
		}
	}

	if err := c.install(key, staging); err != nil {
		return err
	}
	c.logger.Debug("registered type",
		zap.Stringer("key", key),
		zap.Stringer("implementation", impl.Type()),
		zap.String("lifetime", lifetimeName(r.lifetime)),
		zap.Int("members", len(r.members)),
	)
	return nil
}

func (c *container) RegisterInstance(service reflect.Type, instance any, opts ...RegisterOption) error {
	if service == nil {
		return fmt.Errorf("%w: service is required", ErrInvalidDescriptor)
	}
	if _, err := assignable(reflect.ValueOf(instance), service); err != nil {
		return err
	}

	r := registration{}
	for _, opt := range opts {
		opt(&r)
	}
	if len(r.members) > 0 {
		return fmt.Errorf("%w: instance registrations take no injection members", ErrInvalidDescriptor)
	}
	if r.lifetime == nil {
		r.lifetime = Singleton()
	}
	key := BuildKey{Type: service, Name: r.name}

	r.lifetime.SetValue(instance)
	if _, ok := r.lifetime.GetValue(); !ok {
		return fmt.Errorf("%w: %s lifetime cannot hold an instance", ErrInvalidDescriptor, lifetimeName(r.lifetime))
	}

	staging := NewPolicyList()
	staging.Set(KindLifetime, key, r.lifetime)
	if err := c.install(key, staging); err != nil {
		return err
	}
	c.constructed(key, r.lifetime)

	c.logger.Debug("registered instance",
		zap.Stringer("key", key),
		zap.String("lifetime", lifetimeName(r.lifetime)),
	)
	return nil
}

// install replaces the policies of key with the staged ones. Cached
// automatic constructor selections are dropped because eligibility depends
// on what is registered.
func (c *container) install(key BuildKey, staging *PolicyList) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ErrShutdown
	}

	for _, kind := range registrationKinds {
		c.policies.Clear(kind, key)
	}
	staging.copyTo(c.policies)
	c.policies.ClearKind(KindAutoConstructor)

	c.generation++

	if _, exists := c.registered[key]; !exists {
		c.registered[key] = struct{}{}
		c.order = append(c.order, key)
	}
	// The replaced lifetime keeps its place in the disposal list.
	delete(c.live, key)
	return nil
}

type disposal struct {
	key BuildKey
	d   Disposer
}

// constructed records a disposable lifetime that now holds an instance.
func (c *container) constructed(key BuildKey, lm LifetimeManager) {
	d, ok := lm.(Disposer)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[key] {
		return
	}
	c.live[key] = true
	c.disposals = append(c.disposals, disposal{key: key, d: d})
}

// forget drops the current lifetime of key from the disposal list. It is
// the last entry listed for key. Callers hold c.mu.
func (c *container) forget(key BuildKey) {
	if !c.live[key] {
		return
	}
	delete(c.live, key)
	for i := len(c.disposals) - 1; i >= 0; i-- {
		if c.disposals[i].key == key {
			c.disposals = append(c.disposals[:i], c.disposals[i+1:]...)
			return
		}
	}
}

// registryGeneration returns the current registration generation.
func (c *container) registryGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// cacheSelection stores an automatic selection made at generation gen,
// unless a registration happened since.
func (c *container) cacheSelection(key BuildKey, sel *SelectedConstructor, gen uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.generation != gen {
		return
	}
	c.policies.Set(KindAutoConstructor, key, sel)
}

func (c *container) IsRegistered(key BuildKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.registered[key]
	return ok
}

func (c *container) Registrations() []BuildKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BuildKey, len(c.order))
	copy(out, c.order)
	return out
}

// namedKeys returns the named registrations of t in registration order.
func (c *container) namedKeys(t reflect.Type) []BuildKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []BuildKey
	for _, k := range c.order {
		if k.Type == t && k.Name != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *container) Policies() *PolicyList {
	return c.policies
}

func (c *container) Teardown(key BuildKey) error {
	lm, _, ok := GetPolicyNoDefault[LifetimeManager](c.policies, KindLifetime, key, true)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	if _, _, ok := GetPolicyNoDefault[TypeDescriptor](c.policies, KindDescriptor, key, true); !ok {
		return fmt.Errorf("%w: %s is an instance registration and cannot be rebuilt", ErrInvalidDescriptor, key)
	}

	c.mu.Lock()
	c.forget(key)
	c.mu.Unlock()

	if d, ok := lm.(Disposer); ok {
		if err := d.Dispose(); err != nil {
			return fmt.Errorf("disposing %s: %w", key, err)
		}
		return nil
	}
	lm.RemoveValue()
	return nil
}

func (c *container) isShutdown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdown
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

type buildState int

const (
	unvisited buildState = iota
	visiting
	visited
	failed
)

func (c *container) Validate() error {
	ctx := c.newContext()
	states := make(map[BuildKey]buildState)

	var errs error
	for _, key := range c.Registrations() {
		errs = multierr.Append(errs, c.validate(ctx, key, states, nil))
	}
	return errs
}

// validate walks the dependency graph depth-first using a local state map
// and stack. Keys that already failed are reported once.
func (c *container) validate(ctx *BuildContext, key BuildKey, states map[BuildKey]buildState, stack []BuildKey) error {
	switch states[key] {
	case visiting:
		return c.circularError(key, stack)
	case visited, failed:
		return nil
	}

	stack = append(stack, key)
	if !c.IsRegistered(key) {
		states[key] = failed
		return resolutionFailure(stack, ErrNotRegistered)
	}

	states[key] = visiting
	deps, err := c.dependencies(ctx, key)
	if err != nil {
		states[key] = failed
		return resolutionFailure(stack, err)
	}
	for _, dep := range deps {
		if err := c.validate(ctx, dep, states, stack); err != nil {
			states[key] = failed
			return err
		}
	}

	states[key] = visited
	return nil
}

func (c *container) circularError(key BuildKey, stack []BuildKey) error {
	chain := append(append([]BuildKey(nil), stack...), key)
	return &ResolutionError{
		Key:   key,
		Chain: chain,
		Err:   fmt.Errorf("%w: %s", ErrCircularDependency, formatChain(chain)),
	}
}

// dependencies lists the build keys key's constructor and injection
// members resolve. Instance registrations have none.
func (c *container) dependencies(ctx *BuildContext, key BuildKey) ([]BuildKey, error) {
	if _, _, ok := GetPolicyNoDefault[TypeDescriptor](c.policies, KindDescriptor, key, true); !ok {
		return nil, nil
	}

	sel, err := ctx.selectedConstructor(key)
	if err != nil {
		return nil, err
	}

	var deps []BuildKey
	for i, p := range sel.Params {
		deps = append(deps, dependencyKeys(ctx, p, sel.Constructor.Params[i])...)
	}
	props, _, _ := GetPolicyNoDefault[[]*propertyInjection](c.policies, KindProperties, key, true)
	for _, p := range props {
		deps = append(deps, dependencyKeys(ctx, p.value, p.property.Type)...)
	}
	methods, _, _ := GetPolicyNoDefault[[]*methodInjection](c.policies, KindMethods, key, true)
	for _, m := range methods {
		for i, p := range m.params {
			deps = append(deps, dependencyKeys(ctx, p, m.method.Params[i])...)
		}
	}
	return deps, nil
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

func (c *container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrAlreadyShutdown
	}
	c.shutdown = true
	disposals := c.disposals
	c.disposals = nil
	c.live = make(map[BuildKey]bool)
	c.mu.Unlock()

	var errs error
	for i := len(disposals) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if err := disposals[i].d.Dispose(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disposing %s: %w", disposals[i].key, err))
		}
	}

	if errs != nil {
		c.logger.Warn("shutdown completed with errors", zap.Error(errs))
	}
	return errs
}

// ---------------------------------------------------------------------------
// Generic helpers
// ---------------------------------------------------------------------------

// Register is a generic helper that registers impl for the service type T:
//
//	birch.Register[Cylinder](c, birch.MustDescribe[*cylinder](newCylinder), birch.WithName("c1"))
func Register[T any](c Container, impl TypeDescriptor, opts ...RegisterOption) error {
	return c.RegisterType(TypeOf[T](), impl, opts...)
}

// RegisterInstanceOf is a generic helper that registers an existing value
// for the service type T.
func RegisterInstanceOf[T any](c Container, instance T, opts ...RegisterOption) error {
	return c.RegisterInstance(TypeOf[T](), instance, opts...)
}
