package birch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// Shared test types and constructors used across test files.

// mustRegister calls t.Fatal if registration fails.
func mustRegister[T any](t *testing.T, c Container, impl TypeDescriptor, opts ...RegisterOption) {
	t.Helper()
	require.NoError(t, Register[T](c, impl, opts...))
}

// describe calls t.Fatal if the descriptor cannot be built.
func describe[T any](t *testing.T, ctors ...any) *ReflectDescriptor {
	t.Helper()
	d, err := Describe[T](ctors...)
	require.NoError(t, err)
	return d
}

type testLogger struct{ Prefix string }
type testConfig struct{ DSN string }

type testDatabase struct {
	Config *testConfig
	Logger *testLogger
}

type testUserRepo struct {
	DB     *testDatabase
	Logger *testLogger
}

type Cylinder interface {
	ID() string
}

type testCylinder struct{ id string }

func (c *testCylinder) ID() string { return c.id }

type testEngine struct {
	Cylinders []Cylinder
	Label     string
}

type testCircA struct{ B *testCircB }
type testCircB struct{ C *testCircC }
type testCircC struct{ A *testCircA }

func newTestLogger() *testLogger           { return &testLogger{Prefix: "app"} }
func newTestConfig() *testConfig           { return &testConfig{DSN: "postgres://localhost"} }
func newTestCircA(b *testCircB) *testCircA { return &testCircA{B: b} }
func newTestCircB(c *testCircC) *testCircB { return &testCircB{C: c} }
func newTestCircC(a *testCircA) *testCircC { return &testCircC{A: a} }

func newTestDatabase(cfg *testConfig, log *testLogger) *testDatabase {
	return &testDatabase{Config: cfg, Logger: log}
}

func newTestDatabaseFromConfig(cfg *testConfig) *testDatabase {
	return &testDatabase{Config: cfg}
}

func newTestUserRepo(db *testDatabase, log *testLogger) *testUserRepo {
	return &testUserRepo{DB: db, Logger: log}
}

func newTestEngine(cylinders []Cylinder) *testEngine {
	return &testEngine{Cylinders: cylinders}
}

func newTestLabeledEngine(label string, cylinders []Cylinder) *testEngine {
	return &testEngine{Cylinders: cylinders, Label: label}
}

func cylinderCtor(id string) func() *testCylinder {
	return func() *testCylinder { return &testCylinder{id: id} }
}

// registerCylinders registers named cylinders c1..cN.
func registerCylinders(t *testing.T, c Container, ids ...string) {
	t.Helper()
	for _, id := range ids {
		mustRegister[Cylinder](t, c, describe[*testCylinder](t, cylinderCtor(id)), WithName(id))
	}
}

// testClosable is a singleton that implements io.Closer for shutdown tests.
type testClosable struct {
	Name   string
	Closed bool
	Order  *[]string // shared slice to record close order
}

func (c *testClosable) Close() error {
	c.Closed = true
	if c.Order != nil {
		*c.Order = append(*c.Order, c.Name)
	}
	return nil
}

// testFailCloser implements io.Closer but returns an error.
type testFailCloser struct{}

func (f *testFailCloser) Close() error {
	return errors.New("close failed")
}
