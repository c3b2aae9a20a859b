package birch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegisterType(t *testing.T) {
	t.Run("implementation must be assignable to service", func(t *testing.T) {
		c := New()
		err := Register[Cylinder](c, describe[*testLogger](t, newTestLogger))
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("nil descriptor", func(t *testing.T) {
		c := New()
		err := c.RegisterType(TypeOf[*testLogger](), nil)
		require.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("explicit constructor must exist", func(t *testing.T) {
		c := New()
		err := Register[*testDatabase](c, describe[*testDatabase](t, newTestDatabase),
			WithInjection(InjectionConstructor(ResolvedOf[*testLogger]())))
		require.ErrorIs(t, err, ErrNoSuchConstructor)
	})

	t.Run("registrations keep first registration order", func(t *testing.T) {
		c := New()
		registerCylinders(t, c, "c2", "c1")
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))
		registerCylinders(t, c, "c2")

		assert.Equal(t, []BuildKey{
			KeyOf[Cylinder]("c2"),
			KeyOf[Cylinder]("c1"),
			KeyOf[*testLogger](),
		}, c.Registrations())
		assert.True(t, c.IsRegistered(KeyOf[Cylinder]("c1")))
		assert.False(t, c.IsRegistered(KeyOf[Cylinder]()))
	})

	t.Run("re-registration replaces policies and cached instance", func(t *testing.T) {
		c := New()
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))
		l1, err := Resolve[*testLogger](c)
		require.NoError(t, err)

		mustRegister[*testLogger](t, c, describe[*testLogger](t, func() *testLogger {
			return &testLogger{Prefix: "replaced"}
		}))
		l2, err := Resolve[*testLogger](c)
		require.NoError(t, err)
		assert.NotSame(t, l1, l2)
		assert.Equal(t, "replaced", l2.Prefix)
	})

	t.Run("replaced singleton is still disposed at shutdown", func(t *testing.T) {
		var order []string
		c := New()
		mustRegister[*testClosable](t, c, describe[*testClosable](t, func() *testClosable {
			return &testClosable{Name: "first", Order: &order}
		}))
		first, err := Resolve[*testClosable](c)
		require.NoError(t, err)

		mustRegister[*testClosable](t, c, describe[*testClosable](t, func() *testClosable {
			return &testClosable{Name: "second", Order: &order}
		}))
		second, err := Resolve[*testClosable](c)
		require.NoError(t, err)
		require.NotSame(t, first, second)

		require.NoError(t, c.Shutdown(context.Background()))
		assert.True(t, first.Closed)
		assert.True(t, second.Closed)
		assert.Equal(t, []string{"second", "first"}, order)
	})

	t.Run("re-registration drops stale members", func(t *testing.T) {
		c := New(WithDefaultLifetime(Transient))
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger),
			WithInjection(InjectionProperty("Prefix", "first")))
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))

		l, err := Resolve[*testLogger](c)
		require.NoError(t, err)
		assert.Equal(t, "app", l.Prefix)
	})

	t.Run("new registrations refresh automatic selection", func(t *testing.T) {
		c := New(WithDefaultLifetime(Transient))
		mustRegister[*testConfig](t, c, describe[*testConfig](t, newTestConfig))
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabase, newTestDatabaseFromConfig))

		db, err := Resolve[*testDatabase](c)
		require.NoError(t, err)
		assert.Nil(t, db.Logger)

		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))
		db, err = Resolve[*testDatabase](c)
		require.NoError(t, err)
		assert.NotNil(t, db.Logger)
	})
}

// registeringSelector registers a logger while its first selection is in
// flight.
type registeringSelector struct {
	c     Container
	t     *testing.T
	calls *int
}

func (s registeringSelector) SelectConstructor(ctx *BuildContext, desc TypeDescriptor) (*SelectedConstructor, error) {
	sel, err := GreedySelector{}.SelectConstructor(ctx, desc)
	if desc.Type() != TypeOf[*testDatabase]() {
		return sel, err
	}
	*s.calls++
	if *s.calls == 1 {
		mustRegister[*testLogger](s.t, s.c, describe[*testLogger](s.t, newTestLogger))
	}
	return sel, err
}

func TestAutoSelection_RegistryChangesDuringSelection(t *testing.T) {
	calls := 0
	c := New(WithDefaultLifetime(Transient))
	c.Policies().SetDefault(KindConstructorSelector, registeringSelector{c: c, t: t, calls: &calls})
	mustRegister[*testConfig](t, c, describe[*testConfig](t, newTestConfig))
	mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabase, newTestDatabaseFromConfig))

	db, err := Resolve[*testDatabase](c)
	require.NoError(t, err)
	assert.Nil(t, db.Logger, "selected before the logger was registered")

	db, err = Resolve[*testDatabase](c)
	require.NoError(t, err)
	assert.NotNil(t, db.Logger, "the outdated selection must not be cached")
	assert.Equal(t, 2, calls)

	_, err = Resolve[*testDatabase](c)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "a current selection is cached")
}

func TestTeardown(t *testing.T) {
	t.Run("closes the torn down singleton once", func(t *testing.T) {
		var order []string
		c := New()
		mustRegister[*testClosable](t, c, describe[*testClosable](t, func() *testClosable {
			return &testClosable{Name: "conn", Order: &order}
		}))
		first, err := Resolve[*testClosable](c)
		require.NoError(t, err)

		require.NoError(t, c.Teardown(KeyOf[*testClosable]()))
		assert.True(t, first.Closed)

		second, err := Resolve[*testClosable](c)
		require.NoError(t, err)
		assert.NotSame(t, first, second)

		require.NoError(t, c.Shutdown(context.Background()))
		assert.True(t, second.Closed)
		assert.Equal(t, []string{"conn", "conn"}, order)
	})

	t.Run("instance registrations are rejected", func(t *testing.T) {
		c := New()
		cfg := &testConfig{DSN: "mem"}
		require.NoError(t, RegisterInstanceOf(c, cfg))

		require.ErrorIs(t, c.Teardown(KeyOf[*testConfig]()), ErrInvalidDescriptor)

		got, err := Resolve[*testConfig](c)
		require.NoError(t, err)
		assert.Same(t, cfg, got)
	})

	t.Run("unknown key", func(t *testing.T) {
		require.ErrorIs(t, New().Teardown(KeyOf[*testConfig]()), ErrNotRegistered)
	})
}

func TestRegisterInstance(t *testing.T) {
	t.Run("type mismatch", func(t *testing.T) {
		c := New()
		err := c.RegisterInstance(TypeOf[*testLogger](), &testConfig{})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("injection members rejected", func(t *testing.T) {
		c := New()
		err := RegisterInstanceOf(c, &testLogger{}, WithInjection(InjectionProperty("Prefix", "x")))
		require.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("lifetime must hold the instance", func(t *testing.T) {
		c := New()
		err := RegisterInstanceOf(c, &testLogger{}, WithLifetime(Transient()))
		require.ErrorIs(t, err, ErrInvalidDescriptor)
		assert.False(t, c.IsRegistered(KeyOf[*testLogger]()))
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid graph builds nothing", func(t *testing.T) {
		built := 0
		c := New()
		mustRegister[*testConfig](t, c, describe[*testConfig](t, func() *testConfig {
			built++
			return newTestConfig()
		}))
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabase))
		mustRegister[*testUserRepo](t, c, describe[*testUserRepo](t, newTestUserRepo))
		registerCylinders(t, c, "c1", "c2")
		mustRegister[*testEngine](t, c, describe[*testEngine](t, newTestEngine))

		require.NoError(t, c.Validate())
		assert.Zero(t, built)
	})

	t.Run("missing dependency", func(t *testing.T) {
		c := New()
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabaseFromConfig))

		err := c.Validate()
		require.ErrorIs(t, err, ErrNotRegistered)
		assert.Contains(t, err.Error(), "*birch.testDatabase -> *birch.testConfig")
	})

	t.Run("cycle", func(t *testing.T) {
		c := New()
		mustRegister[*testCircA](t, c, describe[*testCircA](t, newTestCircA))
		mustRegister[*testCircB](t, c, describe[*testCircB](t, newTestCircB))
		mustRegister[*testCircC](t, c, describe[*testCircC](t, newTestCircC))

		err := c.Validate()
		require.ErrorIs(t, err, ErrCircularDependency)
		assert.Len(t, multierr.Errors(err), 1, "the cycle is reported once")
	})

	t.Run("ambiguous constructor", func(t *testing.T) {
		c := New()
		fromLogger := func(l *testLogger) *testDatabase { return &testDatabase{Logger: l} }
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabaseFromConfig, fromLogger))

		require.ErrorIs(t, c.Validate(), ErrAmbiguousConstructor)
	})

	t.Run("unregistered optional is not a failure", func(t *testing.T) {
		c := New()
		mustRegister[*testConfig](t, c, describe[*testConfig](t, newTestConfig))
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabase),
			WithInjection(InjectionConstructor(Resolved(nil), OptionalOf[*testLogger]())))

		require.NoError(t, c.Validate())
	})

	t.Run("members are checked", func(t *testing.T) {
		c := New()
		mustRegister[*testUserRepo](t, c, describe[*testUserRepo](t, func() *testUserRepo { return &testUserRepo{} }),
			WithInjection(InjectionProperty("Logger")))

		require.ErrorIs(t, c.Validate(), ErrNotRegistered)
	})

	t.Run("independent failures are aggregated", func(t *testing.T) {
		c := New()
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, newTestDatabaseFromConfig))
		mustRegister[*testUserRepo](t, c, describe[*testUserRepo](t, func(l *testLogger) *testUserRepo {
			return &testUserRepo{Logger: l}
		}))

		assert.Len(t, multierr.Errors(c.Validate()), 2)
	})
}

func TestShutdown(t *testing.T) {
	t.Run("disposes in reverse creation order", func(t *testing.T) {
		var order []string
		c := New()
		for _, name := range []string{"db", "cache", "queue"} {
			name := name
			mustRegister[*testClosable](t, c, describe[*testClosable](t, func() *testClosable {
				return &testClosable{Name: name, Order: &order}
			}), WithName(name))
		}

		for _, name := range []string{"cache", "db", "queue"} {
			_, err := ResolveNamed[*testClosable](c, name)
			require.NoError(t, err)
		}

		require.NoError(t, c.Shutdown(context.Background()))
		assert.Equal(t, []string{"queue", "db", "cache"}, order)
	})

	t.Run("dependencies are disposed after their dependents", func(t *testing.T) {
		var order []string
		type service struct{ *testClosable }
		c := New()
		mustRegister[*testClosable](t, c, describe[*testClosable](t, func() *testClosable {
			return &testClosable{Name: "dependency", Order: &order}
		}))
		mustRegister[*service](t, c, describe[*service](t, func(d *testClosable) *service {
			return &service{&testClosable{Name: "dependent", Order: &order}}
		}))

		_, err := Resolve[*service](c)
		require.NoError(t, err)
		require.NoError(t, c.Shutdown(context.Background()))
		assert.Equal(t, []string{"dependent", "dependency"}, order)
	})

	t.Run("registered instances are disposed", func(t *testing.T) {
		c := New()
		closable := &testClosable{}
		require.NoError(t, RegisterInstanceOf(c, closable))

		require.NoError(t, c.Shutdown(context.Background()))
		assert.True(t, closable.Closed)
	})

	t.Run("external instances are left to their owner", func(t *testing.T) {
		c := New()
		closable := &testClosable{}
		require.NoError(t, RegisterInstanceOf(c, closable, WithLifetime(External())))

		require.NoError(t, c.Shutdown(context.Background()))
		assert.False(t, closable.Closed)
	})

	t.Run("transient instances are not tracked", func(t *testing.T) {
		var order []string
		c := New(WithDefaultLifetime(Transient))
		mustRegister[*testClosable](t, c, describe[*testClosable](t, func() *testClosable {
			return &testClosable{Name: "transient", Order: &order}
		}))
		_, err := Resolve[*testClosable](c)
		require.NoError(t, err)

		require.NoError(t, c.Shutdown(context.Background()))
		assert.Empty(t, order)
	})

	t.Run("close errors are aggregated", func(t *testing.T) {
		c := New()
		require.NoError(t, RegisterInstanceOf(c, &testFailCloser{}, WithName("a")))
		require.NoError(t, RegisterInstanceOf(c, &testFailCloser{}, WithName("b")))

		err := c.Shutdown(context.Background())
		require.Error(t, err)
		assert.Len(t, multierr.Errors(err), 2)
		assert.Contains(t, err.Error(), "close failed")
	})

	t.Run("second call and later use fail", func(t *testing.T) {
		c := New()
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))

		require.NoError(t, c.Shutdown(context.Background()))
		require.ErrorIs(t, c.Shutdown(context.Background()), ErrAlreadyShutdown)

		_, err := Resolve[*testLogger](c)
		require.ErrorIs(t, err, ErrShutdown)
		_, err = ResolveAllOf[Cylinder](c)
		require.ErrorIs(t, err, ErrShutdown)
		require.ErrorIs(t, Register[*testConfig](c, describe[*testConfig](t, newTestConfig)), ErrShutdown)
	})

	t.Run("expired context stops disposal", func(t *testing.T) {
		closable := &testClosable{}
		c := New()
		require.NoError(t, RegisterInstanceOf(c, closable))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := c.Shutdown(ctx)
		require.True(t, errors.Is(err, context.Canceled))
		assert.False(t, closable.Closed)
	})
}

func TestContainer_Logging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := New(WithLogger(zap.New(core)))
	mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))

	_, err := Resolve[*testLogger](c)
	require.NoError(t, err)
	_, err = Resolve[*testConfig](c)
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("registered type").Len())

	resolved := logs.FilterMessage("resolved").All()
	require.Len(t, resolved, 1)
	assert.NotEmpty(t, resolved[0].ContextMap()["resolve_id"])
	assert.Equal(t, "*birch.testLogger", resolved[0].ContextMap()["key"])

	failed := logs.FilterMessage("resolve failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.WarnLevel, failed[0].Level)
}

func TestNew_InvalidConfigIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := New(WithConfig(Config{DefaultLifetime: "forevr"}), WithLogger(zap.New(core)))
	require.NotNil(t, c)

	entries := logs.FilterMessage("ignoring invalid config").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], `unknown default_lifetime "forevr"`)
}
