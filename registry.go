package profilefs

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeRegistry maps stored type tags to Go types. Headers record the tag of
// the value stored under a key; on load, registered tags are decoded eagerly
// and anything else is kept as raw bytes until first typed access.
//
// Tags are free-form strings. Appending a version suffix ("Inventory/v2")
// lets a type change shape without misreading old files.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
	tags  map[reflect.Type]string
}

// NewTypeRegistry returns a registry with the builtin scalar types and the
// file system bookkeeping records registered.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		types: make(map[string]reflect.Type),
		tags:  make(map[reflect.Type]string),
	}
	mustRegister[string](r, "string")
	mustRegister[bool](r, "bool")
	mustRegister[int](r, "int")
	mustRegister[int32](r, "int32")
	mustRegister[int64](r, "int64")
	mustRegister[uint64](r, "uint64")
	mustRegister[float32](r, "float32")
	mustRegister[float64](r, "float64")
	mustRegister[[]byte](r, "bytes")
	mustRegister[[]string](r, "strings")
	mustRegister[map[string]string](r, "map[string]string")
	mustRegister[*FileSystemData](r, "profilefs.FileSystemData/v1")
	mustRegister[*ProfilePathData](r, "profilefs.ProfilePathData/v1")
	return r
}

// RegisterType associates tag with T. Registering the same pair twice is a
// no-op; reusing a tag or type with a different partner is an error.
func RegisterType[T any](r *TypeRegistry, tag string) error {
	if tag == "" {
		return NewValidationError("tag", tag, "cannot be empty")
	}
	t := typeOf[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[tag]; ok && existing != t {
		return NewValidationError("tag", tag, fmt.Sprintf("already registered for %s", existing))
	}
	if existing, ok := r.tags[t]; ok && existing != tag {
		return NewValidationError("type", t.String(), fmt.Sprintf("already registered as %q", existing))
	}
	r.types[tag] = t
	r.tags[t] = tag
	return nil
}

func mustRegister[T any](r *TypeRegistry, tag string) {
	if err := RegisterType[T](r, tag); err != nil {
		panic(err)
	}
}

// TagOf returns the tag for T: the registered tag if there is one, otherwise
// the Go type name.
func TagOf[T any](r *TypeRegistry) string {
	return r.tagOf(typeOf[T]())
}

func (r *TypeRegistry) tagOf(t reflect.Type) string {
	r.mu.RLock()
	tag, ok := r.tags[t]
	r.mu.RUnlock()
	if ok {
		return tag
	}
	if t == nil {
		return "nil"
	}
	return t.String()
}

// decode unmarshals data as the type registered for tag. ok is false when the
// tag is unknown.
func (r *TypeRegistry) decode(s Serializer, tag string, data []byte) (value any, ok bool, err error) {
	r.mu.RLock()
	t, ok := r.types[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	ptr := reflect.New(t)
	if err := s.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, true, err
	}
	return ptr.Elem().Interface(), true, nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// newDefault returns the value Resolve stores for a missing key: pointers and
// maps are allocated, everything else is the zero value.
func newDefault[T any]() T {
	var zero T
	t := typeOf[T]()
	switch t.Kind() {
	case reflect.Pointer:
		return reflect.New(t.Elem()).Interface().(T)
	case reflect.Map:
		return reflect.MakeMap(t).Interface().(T)
	}
	return zero
}
