package birch

import "go.uber.org/zap"

type options struct {
	logger          *zap.Logger
	metrics         *Metrics
	selector        ConstructorSelector
	strategies      []Strategy
	defaultLifetime func() LifetimeManager

	// configErrs collects invalid configs passed with WithConfig; New logs
	// them once the logger is known.
	configErrs []error
}

// Option configures a container created with [New].
type Option func(*options)

// WithLogger sets the logger used for registration and resolution events.
// The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records resolutions and constructions in m. Registering m
// with a prometheus registry is up to the caller.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithConstructorSelector replaces the default constructor selection rule
// for every registration without an explicit constructor.
func WithConstructorSelector(s ConstructorSelector) Option {
	return func(o *options) {
		if s != nil {
			o.selector = s
		}
	}
}

// WithStrategies appends strategies to the build pipeline, after property
// and method injection.
func WithStrategies(s ...Strategy) Option {
	return func(o *options) {
		o.strategies = append(o.strategies, s...)
	}
}

// WithDefaultLifetime sets the lifetime used by registrations that do not
// pass [WithLifetime]. The default is [Singleton].
func WithDefaultLifetime(newLifetime func() LifetimeManager) Option {
	return func(o *options) {
		if newLifetime != nil {
			o.defaultLifetime = newLifetime
		}
	}
}

// registration holds the options of a single RegisterType or
// RegisterInstance call.
type registration struct {
	name     string
	lifetime LifetimeManager
	members  []InjectionMember
}

// RegisterOption configures a registration.
type RegisterOption func(*registration)

// WithName registers under name. Named registrations of the same type
// coexist and are collected by ResolveAll.
func WithName(name string) RegisterOption {
	return func(r *registration) {
		r.name = name
	}
}

// WithLifetime sets the lifetime manager of the registration. Each
// registration needs its own manager instance.
func WithLifetime(lm LifetimeManager) RegisterOption {
	return func(r *registration) {
		r.lifetime = lm
	}
}

// WithInjection adds injection members that install constructor, property
// and method policies for the registration.
func WithInjection(members ...InjectionMember) RegisterOption {
	return func(r *registration) {
		r.members = append(r.members, members...)
	}
}
