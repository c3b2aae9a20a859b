package birch

import (
	"fmt"
	"reflect"
)

// InjectionMember is a registration-time declaration of how to construct or
// populate a type. RegisterPolicies installs the member's policies for the
// build key (service, name). Failures that can be detected from the
// descriptor alone are reported here rather than at first resolution.
type InjectionMember interface {
	RegisterPolicies(service reflect.Type, impl TypeDescriptor, name string, policies *PolicyList) error
}

// ---------------------------------------------------------------------------
// Constructor
// ---------------------------------------------------------------------------

type injectionConstructor struct {
	params []ParameterValue
}

// InjectionConstructor selects the constructor whose parameters match
// params. Arguments are normalized with [ToParameterValue].
//
//	birch.InjectionConstructor(birch.ResolvedOf[Logger](), "postgres://localhost")
func InjectionConstructor(params ...any) InjectionMember {
	return &injectionConstructor{params: toParameterValues(params)}
}

func (m *injectionConstructor) RegisterPolicies(service reflect.Type, impl TypeDescriptor, name string, policies *PolicyList) error {
	sel, err := SelectExplicit(impl, m.params)
	if err != nil {
		return err
	}
	policies.Set(KindSelectedConstructor, BuildKey{Type: service, Name: name}, sel)
	return nil
}

// ---------------------------------------------------------------------------
// Property
// ---------------------------------------------------------------------------

type propertyInjection struct {
	property Property
	value    ParameterValue
	resolver ResolverPolicy
}

type injectionProperty struct {
	name  string
	value ParameterValue
}

// InjectionProperty sets the property called name after construction. With
// no value the property's own type is resolved.
func InjectionProperty(name string, value ...any) InjectionMember {
	p := &injectionProperty{name: name}
	if len(value) > 0 {
		p.value = ToParameterValue(value[0])
	}
	return p
}

func (m *injectionProperty) RegisterPolicies(service reflect.Type, impl TypeDescriptor, name string, policies *PolicyList) error {
	prop, ok := findProperty(impl, m.name)
	if !ok {
		return fmt.Errorf("%w: %s has no property %s", ErrNoSuchMember, qualifiedName(impl.Type()), m.name)
	}

	value := m.value
	if value == nil {
		value = Resolved(nil)
	}
	rp, err := value.ResolverPolicy(prop.Type)
	if err != nil {
		return fmt.Errorf("property %s: %w", m.name, err)
	}

	key := BuildKey{Type: service, Name: name}
	existing, _, _ := GetPolicyNoDefault[[]*propertyInjection](policies, KindProperties, key, true)
	props := append(append([]*propertyInjection(nil), existing...), &propertyInjection{
		property: prop,
		value:    value,
		resolver: rp,
	})
	policies.Set(KindProperties, key, props)
	return nil
}

func findProperty(desc TypeDescriptor, name string) (Property, bool) {
	for _, p := range desc.Properties() {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// ---------------------------------------------------------------------------
// Method
// ---------------------------------------------------------------------------

type methodInjection struct {
	method    Method
	params    []ParameterValue
	resolvers []ResolverPolicy
}

type injectionMethod struct {
	name   string
	params []ParameterValue
}

// InjectionMethod calls the method called name after construction and
// property injection. With no params every method parameter resolves its
// own type.
func InjectionMethod(name string, params ...any) InjectionMember {
	return &injectionMethod{name: name, params: toParameterValues(params)}
}

func (m *injectionMethod) RegisterPolicies(service reflect.Type, impl TypeDescriptor, name string, policies *PolicyList) error {
	var (
		method Method
		found  bool
	)
	for _, candidate := range impl.Methods() {
		if candidate.Name != m.name {
			continue
		}
		if len(m.params) == 0 || matches(candidate.Params, m.params) {
			method, found = candidate, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s has no method %s%s", ErrNoSuchMember, qualifiedName(impl.Type()), m.name, signature(m.params))
	}

	params := m.params
	if len(params) == 0 {
		params = make([]ParameterValue, len(method.Params))
		for i := range params {
			params[i] = Resolved(nil)
		}
	}

	resolvers := make([]ResolverPolicy, len(params))
	for i, p := range params {
		rp, err := p.ResolverPolicy(method.Params[i])
		if err != nil {
			return fmt.Errorf("method %s parameter %d: %w", m.name, i, err)
		}
		resolvers[i] = rp
	}

	key := BuildKey{Type: service, Name: name}
	existing, _, _ := GetPolicyNoDefault[[]*methodInjection](policies, KindMethods, key, true)
	methods := append(append([]*methodInjection(nil), existing...), &methodInjection{
		method:    method,
		params:    params,
		resolvers: resolvers,
	})
	policies.Set(KindMethods, key, methods)
	return nil
}
