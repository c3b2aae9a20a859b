package birch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := ParseConfig([]byte("constructor_selection: greediest\ndefault_lifetime: transient\n"))
		require.NoError(t, err)
		assert.Equal(t, Config{ConstructorSelection: "greediest", DefaultLifetime: "transient"}, cfg)
	})

	t.Run("empty document uses defaults", func(t *testing.T) {
		cfg, err := ParseConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, Config{}, cfg)
	})

	t.Run("unknown values", func(t *testing.T) {
		_, err := ParseConfig([]byte("default_lifetime: forever\n"))
		assert.ErrorContains(t, err, `unknown default_lifetime "forever"`)

		_, err = ParseConfig([]byte("constructor_selection: random\n"))
		assert.ErrorContains(t, err, `unknown constructor_selection "random"`)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ParseConfig([]byte("default_lifetime: [unclosed"))
		assert.ErrorContains(t, err, "parsing config")
	})
}

func TestWithConfig(t *testing.T) {
	t.Run("greediest ignores preferred constructors", func(t *testing.T) {
		c := New(WithConfig(Config{ConstructorSelection: "greediest"}))
		mustRegister[*testConfig](t, c, describe[*testConfig](t, newTestConfig))
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))
		mustRegister[*testDatabase](t, c, describe[*testDatabase](t, Preferred(newTestDatabaseFromConfig), newTestDatabase))

		db, err := Resolve[*testDatabase](c)
		require.NoError(t, err)
		assert.NotNil(t, db.Logger)
	})

	t.Run("default lifetime", func(t *testing.T) {
		c := New(WithConfig(Config{DefaultLifetime: "transient"}))
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))

		l1, _ := Resolve[*testLogger](c)
		l2, _ := Resolve[*testLogger](c)
		assert.NotSame(t, l1, l2)
	})

	t.Run("invalid config leaves defaults", func(t *testing.T) {
		c := New(WithConfig(Config{DefaultLifetime: "forever"}))
		mustRegister[*testLogger](t, c, describe[*testLogger](t, newTestLogger))

		l1, _ := Resolve[*testLogger](c)
		l2, _ := Resolve[*testLogger](c)
		assert.Same(t, l1, l2)
	})
}
