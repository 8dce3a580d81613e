package vfs

import (
	"sync"

	"github.com/aos-project/aos-core/errors"
)

// Filesystem is one registered backend (spec §3). Implementations are
// registered once at boot time with [Registry.Register]; a single
// registered instance may back multiple mounts if the backend permits it
// (spec §9 Open Question: "whether a second mount of the same filesystem
// name is allowed" — decided in SPEC_FULL.md §8: registration is unique,
// mounting the same registered backend twice is allowed).
type Filesystem interface {
	// Name returns the backend's registration name, e.g. "fat32" or "ramfs".
	Name() string
	// Mount attaches the backend to a block device/source string and
	// prepares it for use. It is called once per [MountTable.Mount] call.
	Mount(source string, flags MountFlags) error
	// Unmount releases any resources Mount acquired.
	Unmount() error
	// GetRoot returns the root vnode of this (mounted) filesystem instance.
	GetRoot() (*Vnode, error)
}

// MountFlags are the permission/behavior flags passed to Filesystem.Mount.
type MountFlags uint32

const (
	MountReadOnly MountFlags = 1 << iota
	MountNoExec
)

// MountedFilesystem pairs a live Filesystem instance with the registry
// metadata the dispatcher needs to manage it.
type MountedFilesystem struct {
	Backend Filesystem
	Flags   MountFlags
}

// Registry is the mapping from filesystem name to backend factory (spec
// §4.D "Registration"). Re-registering the same name fails. The registry
// has no capacity limit on the number of distinct names.
type Registry struct {
	mu        sync.Mutex
	factories map[string]func() Filesystem
}

// NewRegistry creates an empty filesystem registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Filesystem)}
}

// Register adds a backend factory under `name`. It fails if `name` is
// already registered.
func (r *Registry) Register(name string, factory func() Filesystem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Exists.WithMessagef("filesystem %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New instantiates a fresh Filesystem backend for `name`, or
// errors.NotFound if nothing is registered under that name.
func (r *Registry) New(name string) (Filesystem, error) {
	r.mu.Lock()
	factory, exists := r.factories[name]
	r.mu.Unlock()

	if !exists {
		return nil, errors.NotFound.WithMessagef("no filesystem registered as %q", name)
	}
	return factory(), nil
}
