// Package birch provides a policy-driven, reflection-based dependency
// injection engine for Go.
//
// A registration maps a build key (a type, optionally qualified by a name)
// to a [TypeDescriptor] describing how to construct the implementation.
// Resolving a key runs a pipeline of strategies: the lifetime manager is
// consulted first, then a constructor is selected, its parameters resolved
// recursively, properties and methods injected and the result stored back
// in the lifetime manager.
//
// # Quick Start
//
//	c := birch.New()
//	_ = birch.Register[Logger](c, birch.MustDescribe[*consoleLogger](newConsoleLogger))
//	_ = birch.Register[*Database](c, birch.MustDescribe[*Database](NewDatabase))
//
//	db, err := birch.Resolve[*Database](c)
//
// # Lifetimes
//
// [Singleton] (default): one shared instance for the lifetime of the
// container, closed by Shutdown if it implements io.Closer.
//
// [Transient]: a fresh instance on every request.
//
// [PerResolve]: one instance shared by every dependent within a single
// resolution call.
//
// [External]: one shared instance whose release is left to the caller.
//
// # Parameter values
//
// Explicit constructor, property and method arguments are given as
// [ParameterValue]s: [Literal], [Resolved], [Named], [ResolvedArray] and
// [Optional]. Plain values are treated as literals and reflect.Type values
// as resolved dependencies.
//
//	birch.Register[*Engine](c, desc, birch.WithInjection(
//		birch.InjectionConstructor(birch.ResolvedArray(birch.TypeOf[Cylinder](),
//			birch.Named("c1"), birch.Named("c2"), birch.Named("c3"))),
//	))
//
// # Policies
//
// Everything the engine consults is a policy stored in a [PolicyList] keyed
// by kind and build key, with per-kind defaults and fallback to a parent
// list. Each resolution call gets a child list of its own, which is where
// per-resolve lifetimes and per-call overrides live.
package birch
