package syscalltrap

import "github.com/aos-project/aos-core/errors"

// FlatMemory is a bounds-checked flat byte array standing in for a
// process's user-space address range. Pointers are offsets into it rather
// than real linear addresses.
type FlatMemory struct {
	data []byte
}

// NewFlatMemory creates a FlatMemory of the given size, all zeroed.
func NewFlatMemory(size int) *FlatMemory {
	return &FlatMemory{data: make([]byte, size)}
}

func (m *FlatMemory) bounds(ptr, length uintptr) (int, int, error) {
	start := int(ptr)
	end := start + int(length)
	if start < 0 || end < start || end > len(m.data) {
		return 0, 0, errors.Invalid.WithMessagef("pointer range [%d, %d) is out of bounds", start, end)
	}
	return start, end, nil
}

// ReadBytes implements UserMemory.
func (m *FlatMemory) ReadBytes(ptr, length uintptr) ([]byte, error) {
	start, end, err := m.bounds(ptr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[start:end])
	return out, nil
}

// WriteBytes implements UserMemory.
func (m *FlatMemory) WriteBytes(ptr uintptr, data []byte) error {
	_, end, err := m.bounds(ptr, uintptr(len(data)))
	if err != nil {
		return err
	}
	copy(m.data[ptr:end], data)
	return nil
}

// PutString is a test/bootstrap convenience that writes a NUL-free string
// literal at `ptr` and returns its length for use as the paired length arg.
func (m *FlatMemory) PutString(ptr uintptr, s string) (uintptr, error) {
	if err := m.WriteBytes(ptr, []byte(s)); err != nil {
		return 0, err
	}
	return uintptr(len(s)), nil
}
