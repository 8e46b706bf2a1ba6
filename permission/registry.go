package permission

import (
	"errors"
	"fmt"
)

var (
	errEmptyName     = errors.New("permission: empty name")
	errDuplicate     = errors.New("permission: duplicate name")
	errTooMany       = errors.New("permission: more than 64 permissions")
	errUnknownPermit = errors.New("permission: unknown name")
)

// Registry assigns each permission name a bit in a [Mask64]. It is built
// once from an ordered list and is read-only afterwards, so it needs no
// locking.
type Registry struct {
	bits  map[string]int
	names []string
}

// NewRegistry assigns bits to names in order.
func NewRegistry(names ...string) (*Registry, error) {
	if len(names) > maskBits {
		return nil, errTooMany
	}
	r := &Registry{
		bits:  make(map[string]int, len(names)),
		names: make([]string, 0, len(names)),
	}
	for _, name := range names {
		if name == "" {
			return nil, errEmptyName
		}
		if _, dup := r.bits[name]; dup {
			return nil, fmt.Errorf("%w: %s", errDuplicate, name)
		}
		r.bits[name] = len(r.names)
		r.names = append(r.names, name)
	}
	return r, nil
}

func (r *Registry) Bit(name string) (int, bool) {
	bit, ok := r.bits[name]
	return bit, ok
}

func (r *Registry) Name(bit int) (string, bool) {
	if bit < 0 || bit >= len(r.names) {
		return "", false
	}
	return r.names[bit], true
}

func (r *Registry) Count() int { return len(r.names) }

// Mask builds a mask from names; any unregistered name is an error.
func (r *Registry) Mask(names ...string) (Mask64, error) {
	var m Mask64
	for _, name := range names {
		bit, ok := r.bits[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", errUnknownPermit, name)
		}
		m.Set(bit)
	}
	return m, nil
}

// Names expands m in bit order, skipping bits with no registered name.
func (r *Registry) Names(m Mask64) []string {
	out := make([]string, 0, m.Count())
	for bit, name := range r.names {
		if m.Has(bit) {
			out = append(out, name)
		}
	}
	return out
}
