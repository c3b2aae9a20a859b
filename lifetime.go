package birch

import (
	"fmt"
	"io"
	"sync"
)

// LifetimeManager governs whether and for how long a resolved instance is
// cached for the build key it is registered with.
type LifetimeManager interface {
	// GetValue returns the cached instance, if any.
	GetValue() (any, bool)
	// SetValue stores v, replacing any cached instance.
	SetValue(v any)
	// RemoveValue drops the cached instance so the next request rebuilds it.
	RemoveValue()
}

// AtomicLifetime is implemented by lifetimes shared between concurrent
// resolutions. Instances are built without holding a lock; the engine then
// stores its result with SetIfAbsent and hands out whichever instance was
// stored first, so every caller observes the same one.
type AtomicLifetime interface {
	LifetimeManager
	// SetIfAbsent stores v unless a value is already held. It returns the
	// held value and whether v was stored.
	SetIfAbsent(v any) (actual any, stored bool)
}

// ResolveScoped is implemented by lifetimes whose instances live for one
// top-level resolution. The engine asks for a fresh manager on first use
// within a call and discards it when the call returns.
type ResolveScoped interface {
	LifetimeManager
	NewResolveScope() LifetimeManager
}

// Disposer is implemented by lifetimes that own their instance and must
// release it when the container shuts down.
type Disposer interface {
	Dispose() error
}

// ---------------------------------------------------------------------------
// Transient
// ---------------------------------------------------------------------------

// TransientLifetime never caches: every request builds a new instance.
type TransientLifetime struct{}

// Transient returns a lifetime that builds on every request.
func Transient() LifetimeManager { return TransientLifetime{} }

func (TransientLifetime) GetValue() (any, bool) { return nil, false }
func (TransientLifetime) SetValue(any)          {}
func (TransientLifetime) RemoveValue()          {}
func (TransientLifetime) String() string        { return "transient" }

// ---------------------------------------------------------------------------
// Singleton
// ---------------------------------------------------------------------------

// ContainerControlledLifetime keeps one instance for the life of the owning
// container. Concurrent first requests may each build an instance, but only
// the first one stored is ever returned.
type ContainerControlledLifetime struct {
	mu    sync.RWMutex
	value any
	set   bool
}

// Singleton returns a container-controlled lifetime.
func Singleton() LifetimeManager { return &ContainerControlledLifetime{} }

func (l *ContainerControlledLifetime) GetValue() (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.set
}

func (l *ContainerControlledLifetime) SetValue(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value, l.set = v, true
}

func (l *ContainerControlledLifetime) RemoveValue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value, l.set = nil, false
}

func (l *ContainerControlledLifetime) SetIfAbsent(v any) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return l.value, false
	}
	l.value, l.set = v, true
	return v, true
}

// Dispose removes the instance and closes it if it implements io.Closer.
func (l *ContainerControlledLifetime) Dispose() error {
	l.mu.Lock()
	v := l.value
	l.value, l.set = nil, false
	l.mu.Unlock()

	if closer, ok := v.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (l *ContainerControlledLifetime) String() string { return "singleton" }

// ---------------------------------------------------------------------------
// Externally controlled
// ---------------------------------------------------------------------------

// ExternallyControlledLifetime keeps one instance like a singleton but
// leaves its release to the caller: Shutdown neither clears nor closes it.
type ExternallyControlledLifetime struct {
	mu    sync.RWMutex
	value any
	set   bool
}

// External returns an externally controlled lifetime.
func External() LifetimeManager { return &ExternallyControlledLifetime{} }

func (l *ExternallyControlledLifetime) GetValue() (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.set
}

func (l *ExternallyControlledLifetime) SetValue(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value, l.set = v, true
}

func (l *ExternallyControlledLifetime) RemoveValue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value, l.set = nil, false
}

func (l *ExternallyControlledLifetime) SetIfAbsent(v any) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return l.value, false
	}
	l.value, l.set = v, true
	return v, true
}

func (l *ExternallyControlledLifetime) String() string { return "external" }

// ---------------------------------------------------------------------------
// Per resolve
// ---------------------------------------------------------------------------

// PerResolveLifetime shares one instance among every dependent of a single
// top-level resolution. Across resolutions it behaves like
// [TransientLifetime].
type PerResolveLifetime struct{}

// PerResolve returns a per-resolve lifetime.
func PerResolve() LifetimeManager { return PerResolveLifetime{} }

func (PerResolveLifetime) GetValue() (any, bool) { return nil, false }
func (PerResolveLifetime) SetValue(any)          {}
func (PerResolveLifetime) RemoveValue()          {}
func (PerResolveLifetime) String() string        { return "per-resolve" }

func (PerResolveLifetime) NewResolveScope() LifetimeManager {
	return &resolveScopedValue{}
}

// resolveScopedValue never leaves the goroutine of its resolution call.
type resolveScopedValue struct {
	value any
	set   bool
}

func (v *resolveScopedValue) GetValue() (any, bool) { return v.value, v.set }
func (v *resolveScopedValue) SetValue(x any)        { v.value, v.set = x, true }
func (v *resolveScopedValue) RemoveValue()          { v.value, v.set = nil, false }
func (v *resolveScopedValue) String() string        { return "per-resolve" }

func lifetimeName(lm LifetimeManager) string {
	if s, ok := lm.(fmt.Stringer); ok {
		return s.String()
	}
	return "custom"
}
