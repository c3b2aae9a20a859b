package birch

import (
	"fmt"
	"reflect"
	"strings"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// TypeDescriptor is the type model the engine builds against. It lists the
// constructors, injectable properties and methods of one implementation
// type. The engine never inspects types beyond what a descriptor reports, so
// descriptors may be produced by reflection ([Describe]) or assembled by
// hand.
type TypeDescriptor interface {
	Type() reflect.Type
	Constructors() []Constructor
	Properties() []Property
	Methods() []Method
}

// Constructor is one way of creating an instance of a described type.
type Constructor struct {
	// Params are the parameter types in declaration order.
	Params []reflect.Type
	// Preferred marks the constructor as the injection constructor.
	Preferred bool
	// Invoke creates the instance from arguments matching Params.
	Invoke func(args []reflect.Value) (reflect.Value, error)
	// Label is used in diagnostics. Defaults to the signature.
	Label string
}

func (c Constructor) String() string {
	if c.Label != "" {
		return c.Label
	}
	return "(" + typeList(c.Params) + ")"
}

// Property is a settable member of an instance.
type Property struct {
	Name string
	Type reflect.Type
	Set  func(target, value reflect.Value) error
}

// Method is an initialization method called after construction.
type Method struct {
	Name   string
	Params []reflect.Type
	Invoke func(target reflect.Value, args []reflect.Value) error
}

// ReflectDescriptor is a [TypeDescriptor] derived through package reflect
// from constructor functions and the exported fields and methods of the
// implementation type.
type ReflectDescriptor struct {
	typ   reflect.Type
	ctors []Constructor
	props []Property
	meths []Method
}

type preferredConstructor struct {
	fn any
}

// Preferred marks fn as the injection constructor of a [Describe] call.
// Automatic selection picks it over constructors with more parameters.
func Preferred(fn any) any {
	return preferredConstructor{fn: fn}
}

// Describe builds a descriptor for T from constructor functions. Each
// constructor must have the signature func(deps...) U or
// func(deps...) (U, error), with U assignable to T.
//
//	desc, err := birch.Describe[*Engine](NewEngine, birch.Preferred(NewEngineWithCylinders))
func Describe[T any](ctors ...any) (*ReflectDescriptor, error) {
	return DescribeType(TypeOf[T](), ctors...)
}

// MustDescribe is like [Describe] but panics on error. Use only during
// startup.
func MustDescribe[T any](ctors ...any) *ReflectDescriptor {
	d, err := Describe[T](ctors...)
	if err != nil {
		panic(err)
	}
	return d
}

// DescribeType is the non-generic form of [Describe].
func DescribeType(t reflect.Type, ctors ...any) (*ReflectDescriptor, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrInvalidDescriptor)
	}

	d := &ReflectDescriptor{typ: t}
	for i, raw := range ctors {
		preferred := false
		if p, ok := raw.(preferredConstructor); ok {
			raw, preferred = p.fn, true
		}
		ctor, err := reflectConstructor(t, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s constructor #%d: %v", ErrInvalidDescriptor, t, i, err)
		}
		ctor.Preferred = preferred
		d.ctors = append(d.ctors, ctor)
	}

	d.props = reflectProperties(t)
	d.meths = reflectMethods(t)
	return d, nil
}

func (d *ReflectDescriptor) Type() reflect.Type          { return d.typ }
func (d *ReflectDescriptor) Constructors() []Constructor { return d.ctors }
func (d *ReflectDescriptor) Properties() []Property      { return d.props }
func (d *ReflectDescriptor) Methods() []Method           { return d.meths }

func reflectConstructor(t reflect.Type, fn any) (Constructor, error) {
	val := reflect.ValueOf(fn)
	if !val.IsValid() || val.Kind() != reflect.Func {
		return Constructor{}, fmt.Errorf("constructor must be a function, got %T", fn)
	}

	typ := val.Type()
	if typ.NumOut() == 0 || typ.NumOut() > 2 {
		return Constructor{}, fmt.Errorf("constructor must return (T) or (T, error)")
	}
	if typ.NumOut() == 2 && !typ.Out(1).Implements(errorType) {
		return Constructor{}, fmt.Errorf("second return value must implement error")
	}
	if !typ.Out(0).AssignableTo(t) {
		return Constructor{}, fmt.Errorf("returns %s, not assignable to %s", typ.Out(0), t)
	}
	if typ.IsVariadic() {
		return Constructor{}, fmt.Errorf("variadic constructors are not supported")
	}

	params := make([]reflect.Type, typ.NumIn())
	for i := range params {
		params[i] = typ.In(i)
	}

	return Constructor{
		Params: params,
		Label:  typ.String(),
		Invoke: func(args []reflect.Value) (out reflect.Value, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("constructor panicked: %v", r)
				}
			}()
			results := val.Call(args)
			if len(results) == 2 && !results[1].IsNil() {
				return reflect.Value{}, results[1].Interface().(error)
			}
			return results[0], nil
		},
	}, nil
}

// reflectProperties lists the exported fields of a pointer-to-struct type.
// Value types have no settable properties.
func reflectProperties(t reflect.Type) []Property {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil
	}

	st := t.Elem()
	var props []Property
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		index := f.Index
		props = append(props, Property{
			Name: f.Name,
			Type: f.Type,
			Set: func(target, value reflect.Value) error {
				if target.IsNil() {
					return fmt.Errorf("cannot set %s on nil %s", f.Name, t)
				}
				target.Elem().FieldByIndex(index).Set(value)
				return nil
			},
		})
	}
	return props
}

func reflectMethods(t reflect.Type) []Method {
	if t.Kind() == reflect.Interface {
		return nil
	}

	var meths []Method
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		mt := m.Type
		params := make([]reflect.Type, mt.NumIn()-1)
		for j := range params {
			params[j] = mt.In(j + 1)
		}
		returnsErr := mt.NumOut() > 0 && mt.Out(mt.NumOut()-1).Implements(errorType)
		name := m.Name
		meths = append(meths, Method{
			Name:   name,
			Params: params,
			Invoke: func(target reflect.Value, args []reflect.Value) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("method %s panicked: %v", name, r)
					}
				}()
				results := target.MethodByName(name).Call(args)
				if returnsErr {
					if last := results[len(results)-1]; !last.IsNil() {
						return last.Interface().(error)
					}
				}
				return nil
			},
		})
	}
	return meths
}

func typeList(types []reflect.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
