package birch

import (
	"fmt"
	"reflect"
)

// BuildKey identifies a registration: the requested type and an optional
// name. Keys are comparable and used directly as map keys.
type BuildKey struct {
	Type reflect.Type
	Name string
}

// NewBuildKey returns the key for t registered under name.
func NewBuildKey(t reflect.Type, name string) BuildKey {
	return BuildKey{Type: t, Name: name}
}

// KeyOf returns the build key for T, optionally qualified by a name.
//
//	birch.KeyOf[Cylinder]("c1")
func KeyOf[T any](name ...string) BuildKey {
	k := BuildKey{Type: TypeOf[T]()}
	if len(name) > 0 {
		k.Name = name[0]
	}
	return k
}

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// String returns "T" for unnamed keys and "T[name=x]" for named ones.
func (k BuildKey) String() string {
	typeName := "<nil>"
	if k.Type != nil {
		typeName = k.Type.String()
	}
	if k.Name == "" {
		return typeName
	}
	return fmt.Sprintf("%s[name=%s]", typeName, k.Name)
}
