package txn

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-dboe/common"
)

// ComponentKey is the comparable identity of a ComponentId.
type ComponentKey [common.ComponentIdLen]byte

// ComponentId names a component, both in the running system and in journal
// entries. Two ids are equal when their bytes are equal; the label is only
// for messages.
type ComponentId struct {
	key   ComponentKey
	label string
}

// AllocComponentId returns a new random id.
func AllocComponentId(label string) ComponentId {
	return ComponentIdFromUUID(label, uuid.New())
}

func ComponentIdFromUUID(label string, u uuid.UUID) ComponentId {
	return ComponentId{key: ComponentKey(u), label: label}
}

func ComponentIdFromBytes(label string, b []byte) (ComponentId, error) {
	if len(b) != common.ComponentIdLen {
		return ComponentId{}, errors.Errorf("component id %q: %d bytes, want %d",
			label, len(b), common.ComponentIdLen)
	}
	id := ComponentId{label: label}
	copy(id.key[:], b)
	return id, nil
}

// ParseComponentId reads an id in UUID text form.
func ParseComponentId(label string, s string) (ComponentId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ComponentId{}, errors.Wrapf(err, "component id %q", label)
	}
	return ComponentIdFromUUID(label, u), nil
}

// Derive returns the index'th sub-id of id: index is XOR-ed, big-endian,
// into the last four bytes.
func (id ComponentId) Derive(label string, index uint32) ComponentId {
	d := ComponentId{key: id.key, label: label}
	n := len(d.key)
	d.key[n-4] ^= byte(index >> 24)
	d.key[n-3] ^= byte(index >> 16)
	d.key[n-2] ^= byte(index >> 8)
	d.key[n-1] ^= byte(index)
	return d
}

func (id ComponentId) Key() ComponentKey {
	return id.key
}

func (id ComponentId) Bytes() []byte {
	b := make([]byte, len(id.key))
	copy(b, id.key[:])
	return b
}

func (id ComponentId) Label() string {
	return id.label
}

func (id ComponentId) Equal(o ComponentId) bool {
	return id.key == o.key
}

func (id ComponentId) String() string {
	if id.label == "" {
		return hex.EncodeToString(id.key[:])
	}
	return fmt.Sprintf("%s[%s]", id.label, uuid.UUID(id.key))
}
