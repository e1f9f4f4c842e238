package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry caches derived tables per record type. The first successful
// derivation of a type is reused for the lifetime of the registry.
type Registry struct {
	mu     sync.RWMutex
	tables map[reflect.Type]*Table
	names  map[string]reflect.Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables: make(map[reflect.Type]*Table, 8),
		names:  make(map[string]reflect.Type, 8),
	}
}

// Derive returns the cached table for the type of rec, deriving it on
// first use. rec may be a struct value or a pointer to one.
func (r *Registry) Derive(rec any) (*Table, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrUnsupportedType)
	}

	return r.DeriveType(reflect.TypeOf(rec))
}

// DeriveType is Derive for a reflect.Type.
func (r *Registry) DeriveType(t reflect.Type) (*Table, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	table, ok := r.tables[t]
	r.mu.RUnlock()

	if ok {
		return table, nil
	}

	table, err := Derive(t)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.tables[t]; ok {
		return cached, nil
	}

	if other, ok := r.names[table.Name]; ok {
		return nil, fmt.Errorf("table %q of %s already registered by %s", table.Name, t, other)
	}

	r.tables[t] = table
	r.names[table.Name] = t

	return table, nil
}

// Lookup returns the cached table with the given name.
func (r *Registry) Lookup(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.names[name]
	if !ok {
		return nil, false
	}

	return r.tables[t], true
}

// MustRegister derives every record up front and panics on the first
// failure. Unsupported field types are programming errors.
func (r *Registry) MustRegister(recs ...any) {
	for _, rec := range recs {
		if _, err := r.Derive(rec); err != nil {
			panic(fmt.Sprintf("schema: registering %T: %v", rec, err))
		}
	}
}
