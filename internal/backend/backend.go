// Package backend defines the architecture plug-in surface of spec §6
// ("Backend plug-in surface") as a Go interface, and is the home for the
// per-architecture constants every other internal/ package is parametric
// over.
//
// Grounded on unicornx-rvld's InputSection.ApplyRelocAlloc as the one
// concrete backend in the teacher (RISC-V only, hardwired): this package
// pulls that hardwiring out behind an interface so internal/reloc and
// internal/stub can run against more than one architecture, per spec §6's
// framing of the backend surface as a plugged-in boundary rather than a
// single implementation.
package backend

import "github.com/nyxlink/rvld/internal/diag"

// RelocContext is the minimal view of the relocation site a backend needs
// to compute and write a relocation, independent of any one object-file
// representation.
type RelocContext struct {
	// S is the symbol's resolved address, A the addend, P the address of
	// the relocation site itself (spec §4.5's S/A/P convention).
	S, A, P uint64

	// TPAddr is the thread-pointer base for TLS relocations; GotTp is the
	// address of the symbol's GOT-TP slot, when the relocation needs one.
	TPAddr, GotTp uint64

	// TargetData, when non-nil, is the raw input-section bytes at the
	// relocation offset, used by PC-relative HI20/LO12 pairs that must
	// read back a previously-written HI20 immediate rather than double
	// counting it (spec §4.5's "target_data subtraction trick").
	TargetData []byte
}

// Relocator is the per-architecture relocation engine spec §4.5/§6
// describes as pluggable: it knows which relocation types exist, whether
// each needs a GOT/PLT slot or can overflow, and how to encode a computed
// value into the instruction bytes at the site.
type Relocator interface {
	// Name identifies the relocation type by its raw numeric code, for
	// diagnostics.
	Name(relType uint32) string

	// NeedsGot/NeedsPlt/NeedsGotTp report whether scanning a relocation of
	// this type against a given symbol requires allocating, respectively,
	// a GOT slot, a PLT stub, or a GOT-TP (TLS) slot (spec §4.5 scan
	// pass).
	NeedsGot(relType uint32) bool
	NeedsPlt(relType uint32) bool
	NeedsGotTp(relType uint32) bool

	// IsNone reports whether the relocation type is an architecture's
	// explicit no-op marker (R_*_NONE, R_*_RELAX): scanned and applied as
	// a skip, never an error.
	IsNone(relType uint32) bool

	// Apply computes and writes the relocation's value into loc, the
	// relocation site's byte slice within the output buffer. It returns
	// diag.RelocOverflow if the computed value does not fit the site's
	// field width, and diag.UnknownReloc for a relType this backend has
	// never heard of.
	Apply(loc []byte, relType uint32, rc RelocContext) error

	// BranchReach reports the signed byte displacement a branch/call
	// relocation of this type can encode, and whether relType is a
	// bounded-reach branch at all (spec §4.6: stubs exist only for
	// architectures "whose branch-class relocations have limited reach").
	BranchReach(relType uint32) (reach int64, bounded bool)

	// IsMergeStringSection reports whether a relocation landing in an input
	// section with these ELF flags should resolve its target through the
	// merge-string offset table rather than trusting the symbol's value
	// directly (spec §6: is_merge_string_section).
	IsMergeStringSection(sectionFlags uint64) bool

	// MergeStringOffset computes the raw byte offset into a merge-string
	// input section's contents that a relocation against symValue+addend
	// addresses (spec §6: get_merge_string_offset). Kept on the backend
	// because some encodings store this offset somewhere other than a
	// plain addend.
	MergeStringOffset(symValue uint64, addend int64) uint32

	// ApplyMergeStringOffset folds a resolved merge-string output address
	// into ctx, so Apply's S+A formula doesn't double-count an addend
	// already baked into the offset lookup (spec §6:
	// apply_merge_string_offset).
	ApplyMergeStringOffset(ctx *RelocContext, mergeOutputAddr, outOffset uint64)
}

// SHF_MERGE and SHF_STRINGS mirror the ELF section-header flags of the
// same name; backends use them to implement IsMergeStringSection without
// this package importing internal/objfile.
const (
	SHF_MERGE   = 0x10
	SHF_STRINGS = 0x20
)

// Backend groups one architecture's Relocator with the handful of
// bitclass/byte-order/ELF-identification facts spec §6 lists alongside the
// relocation surface (bitclass, is_little_endian, machine, osabi,
// abi_version, flags).
type Backend interface {
	Name() string
	Machine() uint16
	BitClass() int // 32 or 64
	LittleEndian() bool
	OSABI() uint8
	ABIVersion() uint8
	Flags() uint32

	Relocator() Relocator

	// StubPrototype returns the architecture-specific instruction template
	// for a branch-island stub, or nil if this architecture never needs
	// one (spec §4.6: stub insertion is conditional on bounded branch
	// reach).
	StubPrototype() StubPrototype
}

// StubPrototype is the architecture-specific half of the stub factory
// (spec §4.6): the sequence of bytes (and how to patch the target address
// into them) that makes an out-of-range branch reachable again.
type StubPrototype interface {
	Size() uint32
	Align() uint32
	// Encode returns the stub's bytes for a stub located at stubAddr that
	// must ultimately transfer control to targetAddr.
	Encode(stubAddr, targetAddr uint64) []byte
}

// ErrUnknownReloc is a convenience constructor backends use for relType
// values they don't recognize at all (distinct from IsNone's explicit
// no-op markers).
func ErrUnknownReloc(name string, relType uint32) error {
	return diag.New(diag.UnknownReloc, "%s: unknown relocation type %d", name, relType)
}

func ErrOverflow(name string, relType uint32, value int64) error {
	return diag.New(diag.RelocOverflow, "%s: relocation type %d value %#x does not fit", name, relType, value)
}
