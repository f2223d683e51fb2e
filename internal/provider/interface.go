package provider

import (
	"context"
	"sort"
)

// Interface declares the methods a connected provider exposes, mapping each method name
// to its type tags. It is sent to the requesting application as is.
type Interface map[string][]string

// Methods returns the declared method names in sorted order.
func (i Interface) Methods() []string {
	names := make([]string, 0, len(i))
	for name := range i {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy that shares nothing with i.
func (i Interface) Clone() Interface {
	out := make(Interface, len(i))
	for name, tags := range i {
		out[name] = append([]string{}, tags...)
	}
	return out
}

// Method names of the identity provider interface.
const (
	MethodIdentity   = "identity"
	MethodIsLoggedIn = "isLoggedIn"
	MethodLogin      = "login"
	MethodLogout     = "logout"
)

// IdentityInterface is the interface declared by the identity provider.
func IdentityInterface() Interface {
	return Interface{
		MethodIdentity:   {"string"},
		MethodIsLoggedIn: {"bool"},
		MethodLogin:      {},
		MethodLogout:     {},
	}
}

// Method is a bound interface method.
type Method func(ctx context.Context) (any, error)

// Dispatcher resolves declared method names to bound handlers. Bindings are fixed at
// construction.
type Dispatcher struct {
	declared Interface
	bound    map[string]Method
}

// NewDispatcher binds methods to the declared interface. Bindings for undeclared names
// are dropped.
func NewDispatcher(declared Interface, methods map[string]Method) *Dispatcher {
	bound := make(map[string]Method, len(methods))
	for name, method := range methods {
		if _, ok := declared[name]; ok && method != nil {
			bound[name] = method
		}
	}
	return &Dispatcher{declared: declared.Clone(), bound: bound}
}

// Interface returns a copy of the declared interface.
func (d *Dispatcher) Interface() Interface {
	return d.declared.Clone()
}

// Declared reports whether name is part of the interface.
func (d *Dispatcher) Declared(name string) bool {
	_, ok := d.declared[name]
	return ok
}

// Lookup returns the handler bound to name.
func (d *Dispatcher) Lookup(name string) (Method, error) {
	if !d.Declared(name) {
		return nil, ErrMethodNotDeclared.WithMessage("Method " + name + " is not declared by the provider interface")
	}
	method, ok := d.bound[name]
	if !ok {
		return nil, ErrMethodNotImplemented.WithMessage("Method " + name + " is declared but not implemented by the provider")
	}
	return method, nil
}
