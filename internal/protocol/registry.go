package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTypeOutOfRange   = errors.New("packet type out of registry range")
	ErrTypeRegistered   = errors.New("packet type already registered")
	ErrUnregisteredType = errors.New("packet type is not registered")
	ErrTypeMismatch     = errors.New("message type does not match packet type")
	ErrInvalidFixedSize = errors.New("fixed size must not be negative")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum packet size")
)

// PacketInfo is the static metadata of a packet type.
type PacketInfo struct {
	Type PacketType
	Name string

	// FixedSize is the payload length of fixed-size types. It is only
	// meaningful when Fixed is true; the length is then never transmitted.
	FixedSize int
	Fixed     bool

	// New returns an empty message of this type, ready for Unmarshal.
	New func() Message
}

// Registry is an array-backed table of packet types indexed by discriminant.
// It is built once at startup and shared read-only afterwards.
type Registry struct {
	infos []*PacketInfo
	count int
}

// NewRegistry creates an empty registry accepting types below maxTypes.
func NewRegistry(maxTypes int) *Registry {
	return &Registry{infos: make([]*PacketInfo, maxTypes)}
}

// DefaultRegistry returns a registry holding every lobby packet type.
func DefaultRegistry() *Registry {
	r := NewRegistry(MaxPacketTypes)
	for _, e := range packetTable {
		info := PacketInfo{Type: e.typ, Name: e.name, New: e.newFn}
		if e.fixedSize >= 0 {
			info.Fixed = true
			info.FixedSize = e.fixedSize
		}
		if err := r.Register(info); err != nil {
			// The table is static; a failure here is a programming error.
			panic(fmt.Sprintf("invalid packet table: %v", err))
		}
	}
	return r
}

// Register adds a packet type to the registry.
func (r *Registry) Register(info PacketInfo) error {
	if int(info.Type) >= len(r.infos) {
		return fmt.Errorf("%w: %d (max %d)", ErrTypeOutOfRange, info.Type, len(r.infos))
	}
	if info.Fixed && info.FixedSize < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFixedSize, info.Name)
	}
	if r.infos[info.Type] != nil {
		return fmt.Errorf("%w: %d (%s)", ErrTypeRegistered, info.Type, r.infos[info.Type].Name)
	}
	r.infos[info.Type] = &info
	r.count++
	return nil
}

// Lookup returns the metadata of a registered type.
func (r *Registry) Lookup(t PacketType) (PacketInfo, bool) {
	if int(t) >= len(r.infos) || r.infos[t] == nil {
		return PacketInfo{}, false
	}
	return *r.infos[t], true
}

// Has reports whether t is registered.
func (r *Registry) Has(t PacketType) bool {
	return int(t) < len(r.infos) && r.infos[t] != nil
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	return r.count
}

// NewMessage returns an empty message for t.
func (r *Registry) NewMessage(t PacketType) (Message, error) {
	info, ok := r.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnregisteredType, t)
	}
	if info.New == nil {
		return nil, fmt.Errorf("%w: %s has no message constructor", ErrUnregisteredType, info.Name)
	}
	return info.New(), nil
}
