package vfs

import "github.com/aos-project/aos-core/errors"

// AccessBits are the permission bits spec §3's Access record consults on
// every VFS entry point.
type AccessBits uint8

const (
	AccessView AccessBits = 1 << iota
	AccessModify
	AccessRun
	AccessDelete
)

// Has reports whether all of `want` is present in the bit set.
func (b AccessBits) Has(want AccessBits) bool {
	return b&want == want
}

// OwnerClass is the per-vnode owner classification from spec §3.
type OwnerClass uint8

const (
	OwnerSystem OwnerClass = iota
	OwnerRoot
	OwnerAdmin
	OwnerPrograms
	OwnerUser
	OwnerBasic
)

// AccessFlags are the flag bits on an Access record (spec §3).
type AccessFlags uint8

const (
	FlagSystem AccessFlags = 1 << iota
	FlagHidden
	FlagLocked
)

// AccessRecord is the per-vnode access-control record from spec §3.
type AccessRecord struct {
	OwnerID    uint32
	OwnerClass OwnerClass
	OwnerBits  AccessBits
	OtherBits  AccessBits
	Flags      AccessFlags
}

// Caller identifies the process making a VFS call, for the purposes of an
// access check. process.Descriptor satisfies this trivially.
type Caller interface {
	CallerOwnerID() uint32
	CallerOwnerClass() OwnerClass
}

// AccessChecker is the pluggable access-check hook spec §4.D calls for: it is
// consulted on every VFS entry point before the operation is admitted.
type AccessChecker interface {
	CheckAccess(caller Caller, access AccessRecord, want AccessBits) error
}

// OpenFileLimiter is optionally implemented by a Caller to enforce its own
// per-process ceiling on open file descriptors (spec §3 Sandbox resource
// limits), on top of Dispatcher's table-wide MaxOpenFiles bound.
// process.Descriptor implements this against its Sandbox.Limits.
type OpenFileLimiter interface {
	ChargeOpenFile() error
	ReleaseOpenFile()
}

// DefaultAccessChecker implements the straightforward owner/other split: the
// caller gets the owner bits if its owner ID matches the record's, or if it
// is running as OwnerSystem/OwnerRoot (which bypasses the check entirely,
// matching a traditional superuser), and the other bits otherwise.
type DefaultAccessChecker struct{}

func (DefaultAccessChecker) CheckAccess(caller Caller, access AccessRecord, want AccessBits) error {
	if caller == nil {
		return errors.Perm.WithMessage("no caller identity available for access check")
	}
	if caller.CallerOwnerClass() == OwnerSystem || caller.CallerOwnerClass() == OwnerRoot {
		return nil
	}

	bits := access.OtherBits
	if caller.CallerOwnerID() == access.OwnerID {
		bits = access.OwnerBits
	}
	if !bits.Has(want) {
		return errors.Perm.WithMessagef("access denied: need %#b, have %#b", want, bits)
	}
	return nil
}
