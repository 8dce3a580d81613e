package fat32

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/errors"
	"github.com/aos-project/aos-core/vfs"
)

// inode is the fat32-specific state a vfs.Vnode's Private field carries:
// enough to locate both the entry's own data chain and the directory slot
// that describes it, so writes can be written back in place on close.
type inode struct {
	name          string
	isDir         bool
	firstCluster  uint32
	size          int64
	access        vfs.AccessRecord
	parentCluster uint32
	entrySlot     int
	dirty         bool
}

// Driver implements vfs.Filesystem and vfs.VnodeOps over a block device
// holding a FAT32 volume.
type Driver struct {
	dev        blockdev.BlockDevice
	bootSector *BootSector
	fat        *FAT
	cio        *ClusterIO
	root       *vfs.Vnode
}

var _ vfs.Filesystem = (*Driver)(nil)
var _ vfs.VnodeOps = (*Driver)(nil)

// NewDriver constructs a FAT32 backend bound to `dev`, which must already be
// formatted.
func NewDriver(dev blockdev.BlockDevice) *Driver {
	return &Driver{dev: dev}
}

func (d *Driver) Name() string { return "fat32" }

// ParseMountSource interprets the `lba=`/`lba:` mount-source syntax from
// spec §6: the starting LBA of the volume on the underlying device.
func ParseMountSource(source string) (uint64, error) {
	source = strings.TrimSpace(source)
	var rest string
	switch {
	case strings.HasPrefix(source, "lba="):
		rest = source[len("lba="):]
	case strings.HasPrefix(source, "lba:"):
		rest = source[len("lba:"):]
	case source == "":
		return 0, nil
	default:
		return 0, errors.Invalid.WithMessagef("unrecognized mount source %q, expected lba=N or lba:N", source)
	}

	lba, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, errors.Invalid.WithMessagef("bad LBA offset %q: %s", rest, err)
	}
	return lba, nil
}

// Mount parses the boot sector, loads the FAT, and prepares the root vnode.
func (d *Driver) Mount(source string, flags vfs.MountFlags) error {
	startLBA, err := ParseMountSource(source)
	if err != nil {
		return err
	}
	if startLBA != 0 {
		return errors.Invalid.WithMessage("mounting at a nonzero LBA offset is not yet supported by this backend")
	}

	bs, err := ParseBootSector(d.dev)
	if err != nil {
		return err
	}
	fsInfo, err := ReadFSInfo(d.dev, bs)
	if err != nil {
		return err
	}
	fat, err := LoadFAT(d.dev, bs, fsInfo)
	if err != nil {
		return err
	}

	d.bootSector = bs
	d.fat = fat
	d.cio = NewClusterIO(d.dev, fat, bs)

	d.root = vfs.NewVnode("/", vfs.TypeDirectory, d)
	d.root.Private = &inode{
		name:         "/",
		isDir:        true,
		firstCluster: bs.RootDirCluster,
		access:       vfs.AccessRecord{OwnerBits: vfs.AccessView | vfs.AccessModify, OtherBits: vfs.AccessView},
	}
	d.root.Access = d.root.Private.(*inode).access
	return nil
}

// Unmount flushes the FAT back to disk.
func (d *Driver) Unmount() error {
	return d.fat.Flush()
}

func (d *Driver) GetRoot() (*vfs.Vnode, error) {
	return d.root, nil
}

func nodeInode(n *vfs.Vnode) *inode {
	return n.Private.(*inode)
}

func (d *Driver) vnodeFromInode(in *inode) *vfs.Vnode {
	typ := vfs.TypeFile
	if in.isDir {
		typ = vfs.TypeDirectory
	}
	node := vfs.NewVnode(in.name, typ, d)
	node.Private = in
	node.Size = in.size
	node.Access = in.access
	return node
}

// dirEntryView is one logical entry scanDirectory finds while walking a
// directory's cluster chain: name, attributes, first cluster, size, and the
// slot index where its short entry lives (for later rewriting).
type dirEntryView struct {
	name         string
	isDir        bool
	firstCluster uint32
	size         uint32
	slot         int
	shortRaw     [11]byte
}

func (d *Driver) scanDirectory(firstCluster uint32) ([]dirEntryView, error) {
	var out []dirEntryView

	bpc := int(d.cio.bytesPerCluster())
	perCluster := bpc / DirentSize

	cluster := firstCluster
	slot := 0
	var pendingLFN [][]byte

	for cluster >= 2 && !IsEOC(cluster) {
		buf := make([]byte, bpc)
		if err := d.cio.ReadCluster(cluster, buf); err != nil {
			return nil, err
		}

		for i := 0; i < perCluster; i++ {
			raw := buf[i*DirentSize : (i+1)*DirentSize]
			short, err := DecodeShortDirent(raw)
			if err != nil {
				return nil, err
			}

			if short.IsEnd() {
				return out, nil
			}
			if short.IsFree() {
				slot++
				pendingLFN = nil
				continue
			}
			if short.IsLFN() {
				pendingLFN = append(pendingLFN, append([]byte(nil), raw...))
				slot++
				continue
			}

			name := short.ShortName()
			if len(pendingLFN) > 0 {
				if assembled, err := AssembleLFN(pendingLFN, short.NameRaw); err == nil {
					name = assembled
				}
			}
			pendingLFN = nil

			if name != "." && name != ".." {
				out = append(out, dirEntryView{
					name:         name,
					isDir:        short.Attr&AttrDirectory != 0,
					firstCluster: short.FirstCluster(),
					size:         short.FileSize,
					slot:         slot,
					shortRaw:     short.NameRaw,
				})
			}
			slot++
		}

		next, err := d.fat.NextOf(cluster)
		if err != nil {
			return nil, err
		}
		cluster = next
	}

	return out, nil
}

// FindDir implements vfs.VnodeOps.FindDir by a linear scan of the parent
// directory's entries.
func (d *Driver) FindDir(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	parent := nodeInode(dir)
	entries, err := d.scanDirectory(parent.firstCluster)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if strings.EqualFold(e.name, name) {
			in := &inode{
				name:          e.name,
				isDir:         e.isDir,
				firstCluster:  e.firstCluster,
				size:          int64(e.size),
				access:        vfs.AccessRecord{OwnerBits: vfs.AccessView | vfs.AccessModify, OtherBits: vfs.AccessView},
				parentCluster: parent.firstCluster,
				entrySlot:     e.slot,
			}
			return d.vnodeFromInode(in), nil
		}
	}
	return nil, errors.NotFound.WithMessagef("%q not found", name)
}

// Readdir implements vfs.VnodeOps.Readdir.
func (d *Driver) Readdir(dir *vfs.Vnode, index int) (string, error) {
	parent := nodeInode(dir)
	entries, err := d.scanDirectory(parent.firstCluster)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(entries) {
		return "", errors.NotFound.WithMessage("end of directory")
	}
	return entries[index].name, nil
}

// buildShortName derives an 8.3 basis name for `name`, uppercased and
// truncated; collisions are not disambiguated beyond a fixed "~1" marker
// since LFN entries carry the real name.
func buildShortName(name string) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}

	base := name
	ext := ""
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		base = name[:idx]
		ext = name[idx+1:]
	}

	base = sanitizeShortComponent(base)
	ext = sanitizeShortComponent(ext)

	if len(base) > 8 {
		base = base[:6] + "~1"
	}
	copy(raw[0:8], base)
	copy(raw[8:11], ext)
	return raw
}

func sanitizeShortComponent(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// allocateEntrySlots finds `count` consecutive free/end slots in the
// directory's chain, growing the chain by one cluster if none exist.
func (d *Driver) allocateEntrySlots(firstCluster uint32, count int) (uint32, int, error) {
	bpc := int(d.cio.bytesPerCluster())
	perCluster := bpc / DirentSize

	cluster := firstCluster
	clusterIndex := 0
	run := 0
	runStartCluster := cluster
	runStartSlot := 0

	for {
		buf := make([]byte, bpc)
		if err := d.cio.ReadCluster(cluster, buf); err != nil {
			return 0, 0, err
		}

		for i := 0; i < perCluster; i++ {
			raw := buf[i*DirentSize : (i+1)*DirentSize]
			free := raw[0] == direntFree || raw[0] == direntEnd

			if free {
				if run == 0 {
					runStartCluster = cluster
					runStartSlot = clusterIndex*perCluster + i
				}
				run++
				if run == count {
					return runStartCluster, runStartSlot, nil
				}
			} else {
				run = 0
			}
		}

		next, err := d.fat.NextOf(cluster)
		if err != nil {
			return 0, 0, err
		}
		if next < 2 || IsEOC(next) {
			newCluster, err := d.fat.AllocateCluster()
			if err != nil {
				return 0, 0, err
			}
			if err := d.fat.SetNext(cluster, newCluster); err != nil {
				return 0, 0, err
			}
			if err := d.fat.SetNext(newCluster, ClusterEOC); err != nil {
				return 0, 0, err
			}
			zero := make([]byte, bpc)
			if err := d.cio.WriteCluster(newCluster, zero); err != nil {
				return 0, 0, err
			}
			next = newCluster
		}
		cluster = next
		clusterIndex++
	}
}

// writeEntrySlots writes `entries` (each 32 bytes) starting at the slot
// returned by allocateEntrySlots.
func (d *Driver) writeEntrySlots(firstCluster uint32, startSlot int, entries [][]byte) error {
	bpc := int(d.cio.bytesPerCluster())
	perCluster := bpc / DirentSize

	cluster := firstCluster
	for i := 0; i < startSlot/perCluster; i++ {
		next, err := d.fat.NextOf(cluster)
		if err != nil {
			return err
		}
		cluster = next
	}

	slotInCluster := startSlot % perCluster
	for _, entry := range entries {
		if slotInCluster == perCluster {
			next, err := d.fat.NextOf(cluster)
			if err != nil {
				return err
			}
			cluster = next
			slotInCluster = 0
		}

		buf := make([]byte, bpc)
		if err := d.cio.ReadCluster(cluster, buf); err != nil {
			return err
		}
		copy(buf[slotInCluster*DirentSize:(slotInCluster+1)*DirentSize], entry)
		if err := d.cio.WriteCluster(cluster, buf); err != nil {
			return err
		}
		slotInCluster++
	}
	return nil
}

func (d *Driver) createEntry(dir *vfs.Vnode, name string, perm vfs.AccessRecord, isDir bool) (*vfs.Vnode, error) {
	parent := nodeInode(dir)

	existing, err := d.scanDirectory(parent.firstCluster)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.name, name) {
			return nil, errors.Exists.WithMessagef("%q already exists", name)
		}
	}

	shortRaw := buildShortName(name)
	lfnEntries, err := BuildLFNEntries(name, shortRaw)
	if err != nil {
		return nil, err
	}

	var firstCluster uint32
	if isDir {
		firstCluster, err = d.fat.AllocateCluster()
		if err != nil {
			return nil, err
		}
		zero := make([]byte, d.cio.bytesPerCluster())
		if err := d.cio.WriteCluster(firstCluster, zero); err != nil {
			return nil, err
		}
		if err := d.writeDotEntries(firstCluster, parent.firstCluster); err != nil {
			return nil, err
		}
	}

	short := &ShortDirent{NameRaw: shortRaw}
	if isDir {
		short.Attr = AttrDirectory
	}
	short.SetFirstCluster(firstCluster)

	allEntries := append(lfnEntries, EncodeShortDirent(short))
	_, slot, err := d.allocateEntrySlots(parent.firstCluster, len(allEntries))
	if err != nil {
		return nil, err
	}
	if err := d.writeEntrySlots(parent.firstCluster, slot, allEntries); err != nil {
		return nil, err
	}

	shortEntrySlot := slot + len(lfnEntries)

	if err := d.fat.Flush(); err != nil {
		return nil, err
	}

	in := &inode{
		name:          name,
		isDir:         isDir,
		firstCluster:  firstCluster,
		access:        perm,
		parentCluster: parent.firstCluster,
		entrySlot:     shortEntrySlot,
	}
	return d.vnodeFromInode(in), nil
}

// dotNameRaw builds the space-padded 11-byte short name for "." or ".."
// (`dots` of 1 or 2), matching the fixed layout spec §4.B's mkdir requires.
func dotNameRaw(dots int) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	for i := 0; i < dots; i++ {
		raw[i] = '.'
	}
	return raw
}

// writeDotEntries populates a freshly allocated directory cluster with its
// "." (self) and ".." (parent) short entries (spec §4.B Create/mkdir:
// "for mkdir, populate that cluster with `.` ... and `..` ... root's parent
// is recorded as cluster 0 by convention").
func (d *Driver) writeDotEntries(selfCluster, parentCluster uint32) error {
	dotParent := parentCluster
	if parentCluster == d.bootSector.RootDirCluster {
		dotParent = 0
	}

	dot := &ShortDirent{NameRaw: dotNameRaw(1), Attr: AttrDirectory}
	dot.SetFirstCluster(selfCluster)

	dotdot := &ShortDirent{NameRaw: dotNameRaw(2), Attr: AttrDirectory}
	dotdot.SetFirstCluster(dotParent)

	buf := make([]byte, d.cio.bytesPerCluster())
	if err := d.cio.ReadCluster(selfCluster, buf); err != nil {
		return err
	}
	copy(buf[0:DirentSize], EncodeShortDirent(dot))
	copy(buf[DirentSize:2*DirentSize], EncodeShortDirent(dotdot))
	return d.cio.WriteCluster(selfCluster, buf)
}

// Create implements vfs.VnodeOps.Create.
func (d *Driver) Create(dir *vfs.Vnode, name string, perm vfs.AccessRecord) (*vfs.Vnode, error) {
	return d.createEntry(dir, name, perm, false)
}

// Mkdir implements vfs.VnodeOps.Mkdir.
func (d *Driver) Mkdir(dir *vfs.Vnode, name string, perm vfs.AccessRecord) (*vfs.Vnode, error) {
	return d.createEntry(dir, name, perm, true)
}

// Unlink implements vfs.VnodeOps.Unlink. Deleting a directory frees its
// entire cluster chain rather than leaving it allocated (SPEC_FULL.md §8:
// closes the gap left by the teacher's directories that only grow).
func (d *Driver) Unlink(dir *vfs.Vnode, name string) error {
	target, err := d.FindDir(dir, name)
	if err != nil {
		return err
	}
	in := nodeInode(target)

	if in.firstCluster >= 2 {
		if err := d.fat.FreeChain(in.firstCluster); err != nil {
			return err
		}
	}

	return d.markSlotFree(in.parentCluster, in.entrySlot)
}

func (d *Driver) markSlotFree(firstCluster uint32, slot int) error {
	bpc := int(d.cio.bytesPerCluster())
	perCluster := bpc / DirentSize

	cluster := firstCluster
	for i := 0; i < slot/perCluster; i++ {
		next, err := d.fat.NextOf(cluster)
		if err != nil {
			return err
		}
		cluster = next
	}

	buf := make([]byte, bpc)
	if err := d.cio.ReadCluster(cluster, buf); err != nil {
		return err
	}
	slotInCluster := slot % perCluster
	buf[slotInCluster*DirentSize] = direntFree
	return d.cio.WriteCluster(cluster, buf)
}

// Read implements vfs.VnodeOps.Read.
func (d *Driver) Read(node *vfs.Vnode, offset int64, buf []byte) (int, error) {
	in := nodeInode(node)
	if in.firstCluster < 2 {
		return 0, nil
	}
	if offset >= in.size {
		return 0, nil
	}

	length := len(buf)
	if offset+int64(length) > in.size {
		length = int(in.size - offset)
	}

	data, err := d.cio.ReadChain(in.firstCluster, offset, length)
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// Write implements vfs.VnodeOps.Write, allocating the first cluster lazily
// on the first write to a zero-length file.
func (d *Driver) Write(node *vfs.Vnode, offset int64, buf []byte) (int, error) {
	in := nodeInode(node)

	if in.firstCluster < 2 {
		first, err := d.fat.AllocateCluster()
		if err != nil {
			return 0, err
		}
		in.firstCluster = first
	}

	_, err := d.cio.WriteChain(in.firstCluster, offset, buf, d.fat.AllocateCluster)
	if err != nil {
		return 0, err
	}

	end := offset + int64(len(buf))
	if end > in.size {
		in.size = end
		node.Size = end
	}
	in.dirty = true
	return len(buf), nil
}

// Truncate implements vfs.VnodeOps.Truncate. Only truncation to 0 is
// supported; anything else is rejected as the teacher's fixed-size
// directory driver would reject an unsupported resize.
func (d *Driver) Truncate(node *vfs.Vnode, size int64) error {
	in := nodeInode(node)
	if size != 0 {
		return errors.Invalid.WithMessage("only truncation to zero length is supported")
	}
	if in.firstCluster >= 2 {
		if err := d.fat.FreeChain(in.firstCluster); err != nil {
			return err
		}
	}
	in.firstCluster = 0
	in.size = 0
	node.Size = 0
	in.dirty = true
	return nil
}

// Sync implements vfs.VnodeOps.Sync: the deferred updateDirEntry write that
// records the current size/first-cluster back into the owning directory's
// short entry, then flushes the FAT.
func (d *Driver) Sync(node *vfs.Vnode) error {
	in := nodeInode(node)
	if !in.dirty {
		return nil
	}
	if err := d.updateDirEntry(in); err != nil {
		return err
	}
	in.dirty = false
	return d.fat.Flush()
}

func (d *Driver) updateDirEntry(in *inode) error {
	bpc := int(d.cio.bytesPerCluster())
	perCluster := bpc / DirentSize

	cluster := in.parentCluster
	for i := 0; i < in.entrySlot/perCluster; i++ {
		next, err := d.fat.NextOf(cluster)
		if err != nil {
			return err
		}
		cluster = next
	}

	slotInCluster := in.entrySlot % perCluster
	buf := make([]byte, bpc)
	if err := d.cio.ReadCluster(cluster, buf); err != nil {
		return err
	}

	raw := buf[slotInCluster*DirentSize : (slotInCluster+1)*DirentSize]
	short, err := DecodeShortDirent(raw)
	if err != nil {
		return err
	}
	short.SetFirstCluster(in.firstCluster)
	short.FileSize = uint32(in.size)
	copy(raw, EncodeShortDirent(short))

	return d.cio.WriteCluster(cluster, buf)
}

// syncAll flushes every pending dirty inode reachable from a set of open
// vnodes, aggregating failures via hashicorp/go-multierror the way the
// teacher's basedriver.Close tears down multiple open resources.
func (d *Driver) syncAll(nodes []*vfs.Vnode) error {
	var result *multierror.Error
	for _, n := range nodes {
		if err := d.Sync(n); err != nil {
			result = multierror.Append(result, fmt.Errorf("sync %q: %w", n.Name, err))
		}
	}
	return result.ErrorOrNil()
}
