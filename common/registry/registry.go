package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Key names a service slot. The Type parameter exists only for compile-time
// checking through Get/Set; at runtime keys compare by name.
type Key[T any] struct {
	Name string
}

// NewKey declares a typed service key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{Name: name}
}

// MissingServiceError reports a lookup of an unregistered service.
type MissingServiceError struct {
	Name string
}

func (e *MissingServiceError) Error() string {
	return fmt.Sprintf("registry: service %q not registered", e.Name)
}

// WrongTypeError reports a registration whose value does not match the key's
// declared type.
type WrongTypeError struct {
	Name string
	Got  interface{}
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("registry: service %q registered with incompatible type %T", e.Name, e.Got)
}

// Registry is the service container handed to handlers. Handlers declare the
// keys they need; the engine verifies them before the first node runs.
type Registry struct {
	mu       sync.RWMutex
	services map[string]interface{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]interface{})}
}

// Set registers a service under a typed key, replacing any previous value.
func Set[T any](r *Registry, key Key[T], value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[key.Name] = value
}

// Get resolves a service. Returns MissingServiceError when absent and
// WrongTypeError when a different Set overwrote the slot with an
// incompatible type.
func Get[T any](r *Registry, key Key[T]) (T, error) {
	var zero T
	r.mu.RLock()
	raw, ok := r.services[key.Name]
	r.mu.RUnlock()
	if !ok {
		return zero, &MissingServiceError{Name: key.Name}
	}
	value, ok := raw.(T)
	if !ok {
		return zero, &WrongTypeError{Name: key.Name, Got: raw}
	}
	return value, nil
}

// MustGet resolves a service or panics. For wiring code that runs at startup,
// never in handlers.
func MustGet[T any](r *Registry, key Key[T]) T {
	value, err := Get(r, key)
	if err != nil {
		panic(err)
	}
	return value
}

// Has reports whether a name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Verify checks that every required name is registered and returns one error
// naming all the gaps.
func (r *Registry) Verify(required ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, name := range required {
		if _, ok := r.services[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("registry: missing services: %v", missing)
	}
	return nil
}

// Names lists registered service names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
