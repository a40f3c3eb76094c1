package types

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// ClassResolver maps between Ruby class names and Go values.
// Encoders ask it to name values the wire model doesn't know, and decoders ask it for a value to load an instance into.
type ClassResolver interface {
	// ClassName returns the class name for v.
	ClassName(v any) (Symbol, bool)

	// Construct returns a new value to load an instance of class into.
	// It is usually a pointer to a struct.
	Construct(class Symbol) (any, bool)
}

// Shape is how a registered Go type is written.
type Shape int

const (
	// ShapeObject writes a Go struct as a generic object, with fields as instance variables.
	ShapeObject Shape = iota

	// ShapeStruct writes a Go struct as an instance of a Ruby Struct class, with fields as members.
	ShapeStruct
)

// ShapeResolver is optionally implemented by a ClassResolver to choose between object and struct shapes.
type ShapeResolver interface {
	Shape(class Symbol) Shape
}

// ErrAlreadyRegistered is returned by Register if the class name or the type has already been registered.
// It is wrapped.
var ErrAlreadyRegistered = errors.New("already registered")

type registered struct {
	ty    reflect.Type
	shape Shape
}

// Registry is a ClassResolver backed by maps from class name to Go type and back.
// It is safe for concurrent use.
type Registry struct {
	mutex   sync.RWMutex
	classes map[Symbol]registered
	names   map[reflect.Type]Symbol
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[Symbol]registered),
		names:   make(map[reflect.Type]Symbol),
	}
}

// DefaultRegistry is used by encoders and decoders that are not configured with a ClassResolver.
var DefaultRegistry = NewRegistry()

// Register registers the type of prototype as the class. Values are written as generic objects.
// If the type implements encoding.BinaryMarshaler, values are written as user-defined payloads instead,
// and if it implements RubyMarshaler, as a user-marshalled substitute value.
func (r *Registry) Register(class Symbol, prototype any) error {
	return r.register(class, prototype, ShapeObject)
}

// RegisterStruct registers the type of prototype as a Ruby Struct class.
func (r *Registry) RegisterStruct(class Symbol, prototype any) error {
	return r.register(class, prototype, ShapeStruct)
}

func (r *Registry) register(class Symbol, prototype any, shape Shape) error {
	ty := reflect.TypeOf(prototype)
	if ty == nil {
		return errors.Newf("cannot register nil as %v", class)
	}
	for ty.Kind() == reflect.Ptr {
		ty = ty.Elem()
	}

	ptr := reflect.PtrTo(ty)
	if ptr.Implements(BinaryMarshalerType) || ptr.Implements(BinaryUnmarshalerType) {
		if err := ImplementsBinaryMarshaler(ptr); err != nil {
			return err
		}
	}
	if err := ImplementsRubyMarshaler(ptr); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.classes[class]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "class %v", class)
	}
	if name, ok := r.names[ty]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "%v as %v", ty, name)
	}

	r.classes[class] = registered{ty: ty, shape: shape}
	r.names[ty] = class
	return nil
}

// ClassName implements ClassResolver
func (r *Registry) ClassName(v any) (Symbol, bool) {
	ty := reflect.TypeOf(v)
	if ty == nil {
		return "", false
	}
	for ty.Kind() == reflect.Ptr {
		ty = ty.Elem()
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	name, ok := r.names[ty]
	return name, ok
}

// Construct implements ClassResolver.
// It returns a pointer to a new zero value of the registered type.
func (r *Registry) Construct(class Symbol) (any, bool) {
	r.mutex.RLock()
	reg, ok := r.classes[class]
	r.mutex.RUnlock()

	if !ok {
		return nil, false
	}
	return reflect.New(reg.ty).Interface(), true
}

// Shape implements ShapeResolver
func (r *Registry) Shape(class Symbol) Shape {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.classes[class].shape
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []Symbol {
	r.mutex.RLock()
	classes := lo.Keys(r.classes)
	r.mutex.RUnlock()

	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// String implements fmt.Stringer
func (r *Registry) String() string {
	return fmt.Sprintf("Registry%v", r.Classes())
}
