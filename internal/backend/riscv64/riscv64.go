// Package riscv64 is the RISC-V 64-bit backend.Backend, lifted and
// generalized from unicornx-rvld's InputSection.ApplyRelocAlloc and its
// itype/stype/btype/utype/jtype bit-packing helpers (pkg/linker/inputsection.go
// in the retrieved snapshot), which are the teacher's entire relocation
// backend hardwired directly into the section type. This package pulls
// that switch out behind backend.Relocator so it can be registered
// alongside other architectures.
package riscv64

import (
	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/utils"
)

// Relocation type constants, numerically identical to Go's debug/elf
// R_RISCV_* constants; kept local so this package has no dependency on
// debug/elf's ELF-file-reading half, only its relocation numbering.
const (
	R_RISCV_NONE           = 0
	R_RISCV_32             = 1
	R_RISCV_64             = 2
	R_RISCV_RELAX          = 51
	R_RISCV_BRANCH         = 16
	R_RISCV_JAL            = 17
	R_RISCV_CALL           = 18
	R_RISCV_CALL_PLT       = 19
	R_RISCV_GOT_HI20       = 20
	R_RISCV_TLS_GOT_HI20   = 21
	R_RISCV_PCREL_HI20     = 23
	R_RISCV_PCREL_LO12_I   = 24
	R_RISCV_PCREL_LO12_S   = 25
	R_RISCV_HI20           = 26
	R_RISCV_LO12_I         = 27
	R_RISCV_LO12_S         = 28
	R_RISCV_TPREL_LO12_I   = 30
	R_RISCV_TPREL_LO12_S   = 31
)

const Machine = 0xf3 // EM_RISCV

type Backend struct {
	littleEndian bool
}

func New() *Backend { return &Backend{littleEndian: true} }

func (b *Backend) Name() string         { return "riscv64" }
func (b *Backend) Machine() uint16      { return Machine }
func (b *Backend) BitClass() int        { return 64 }
func (b *Backend) LittleEndian() bool   { return b.littleEndian }
func (b *Backend) OSABI() uint8         { return 0 }
func (b *Backend) ABIVersion() uint8    { return 0 }
func (b *Backend) Flags() uint32        { return 0 }
func (b *Backend) Relocator() backend.Relocator { return &relocator{} }

// StubPrototype returns nil: RISC-V's CALL/CALL_PLT forms already encode a
// 32-bit-reaching AUIPC+JALR pair, so the teacher's subset never needs a
// branch island. A riscv32-style relaxed-BRANCH/JAL prototype could be
// added if that ever changes; nothing in this pipeline currently drives
// one.
func (b *Backend) StubPrototype() backend.StubPrototype { return nil }

type relocator struct{}

func (r *relocator) Name(relType uint32) string {
	switch relType {
	case R_RISCV_NONE:
		return "R_RISCV_NONE"
	case R_RISCV_32:
		return "R_RISCV_32"
	case R_RISCV_64:
		return "R_RISCV_64"
	case R_RISCV_BRANCH:
		return "R_RISCV_BRANCH"
	case R_RISCV_JAL:
		return "R_RISCV_JAL"
	case R_RISCV_CALL, R_RISCV_CALL_PLT:
		return "R_RISCV_CALL"
	case R_RISCV_GOT_HI20:
		return "R_RISCV_GOT_HI20"
	case R_RISCV_TLS_GOT_HI20:
		return "R_RISCV_TLS_GOT_HI20"
	case R_RISCV_PCREL_HI20:
		return "R_RISCV_PCREL_HI20"
	case R_RISCV_PCREL_LO12_I:
		return "R_RISCV_PCREL_LO12_I"
	case R_RISCV_PCREL_LO12_S:
		return "R_RISCV_PCREL_LO12_S"
	case R_RISCV_HI20:
		return "R_RISCV_HI20"
	case R_RISCV_LO12_I:
		return "R_RISCV_LO12_I"
	case R_RISCV_LO12_S:
		return "R_RISCV_LO12_S"
	case R_RISCV_TPREL_LO12_I:
		return "R_RISCV_TPREL_LO12_I"
	case R_RISCV_TPREL_LO12_S:
		return "R_RISCV_TPREL_LO12_S"
	case R_RISCV_RELAX:
		return "R_RISCV_RELAX"
	default:
		return "R_RISCV_UNKNOWN"
	}
}

func (r *relocator) IsNone(relType uint32) bool {
	return relType == R_RISCV_NONE || relType == R_RISCV_RELAX
}

func (r *relocator) NeedsGot(relType uint32) bool {
	return relType == R_RISCV_GOT_HI20
}

func (r *relocator) NeedsGotTp(relType uint32) bool {
	return relType == R_RISCV_TLS_GOT_HI20
}

func (r *relocator) NeedsPlt(relType uint32) bool {
	return relType == R_RISCV_CALL_PLT
}

// BranchReach: CALL/CALL_PLT use an AUIPC+JALR pair, reaching the full
// 32-bit signed range; JAL and BRANCH are narrower but RV64 programs this
// small never approach those limits, so neither is treated as a stub
// candidate (bounded=false) -- matching the teacher's RISC-V-only subset,
// which never inserts a stub.
func (r *relocator) BranchReach(relType uint32) (int64, bool) {
	return 0, false
}

// IsMergeStringSection/MergeStringOffset/ApplyMergeStringOffset: RISC-V's
// r_addend already carries a plain input-section-relative byte offset, so
// this backend's merge-string hooks are the textbook case spec §6
// describes, not a RISC-V-specific encoding.
func (r *relocator) IsMergeStringSection(sectionFlags uint64) bool {
	return sectionFlags&backend.SHF_MERGE != 0 && sectionFlags&backend.SHF_STRINGS != 0
}

func (r *relocator) MergeStringOffset(symValue uint64, addend int64) uint32 {
	return uint32(int64(symValue) + addend)
}

func (r *relocator) ApplyMergeStringOffset(ctx *backend.RelocContext, mergeOutputAddr, outOffset uint64) {
	ctx.S = mergeOutputAddr + outOffset
	ctx.A = 0
}

// Apply writes the computed value for every supported type without a range
// check: a value that does not fit its field is truncated, and Apply never
// returns diag.RelocOverflow.
func (r *relocator) Apply(loc []byte, relType uint32, rc backend.RelocContext) error {
	S, A, P := rc.S, rc.A, rc.P

	switch relType {
	case R_RISCV_NONE, R_RISCV_RELAX:
		return nil
	case R_RISCV_32:
		utils.Write[uint32](loc, uint32(S+A))
	case R_RISCV_64:
		utils.Write[uint64](loc, S+A)
	case R_RISCV_BRANCH:
		writeBtype(loc, uint32(S+A-P))
	case R_RISCV_JAL:
		writeJtype(loc, uint32(S+A-P))
	case R_RISCV_CALL, R_RISCV_CALL_PLT:
		val := uint32(S + A - P)
		writeUtype(loc, val)
		writeItype(loc[4:], val)
	case R_RISCV_TLS_GOT_HI20:
		utils.Write[uint32](loc, uint32(rc.GotTp+A-P))
	case R_RISCV_GOT_HI20:
		utils.Write[uint32](loc, uint32(S+A-P))
	case R_RISCV_PCREL_HI20:
		utils.Write[uint32](loc, uint32(S+A-P))
	case R_RISCV_HI20:
		writeUtype(loc, uint32(S+A))
	case R_RISCV_LO12_I, R_RISCV_LO12_S:
		val := S + A
		if relType == R_RISCV_LO12_I {
			writeItype(loc, uint32(val))
		} else {
			writeStype(loc, uint32(val))
		}
		if utils.SignExtend(val, 11) == val {
			setRs1(loc, 0)
		}
	case R_RISCV_TPREL_LO12_I, R_RISCV_TPREL_LO12_S:
		val := S + A - rc.TPAddr
		if relType == R_RISCV_TPREL_LO12_I {
			writeItype(loc, uint32(val))
		} else {
			writeStype(loc, uint32(val))
		}
		if utils.SignExtend(val, 11) == val {
			setRs1(loc, 4)
		}
	case R_RISCV_PCREL_LO12_I, R_RISCV_PCREL_LO12_S:
		// Resolved against the paired HI20's value rather than rc.S/A/P;
		// internal/reloc handles this pairing in its third relocation
		// pass (spec §4.5) and calls Apply with rc.S pre-set to that
		// value, mirroring the teacher's third ApplyRelocAlloc loop.
		val := uint32(S)
		if relType == R_RISCV_PCREL_LO12_I {
			writeItype(loc, val)
		} else {
			writeStype(loc, val)
		}
	default:
		return backend.ErrUnknownReloc(r.Name(relType), relType)
	}
	return nil
}

func itype(val uint32) uint32 { return val << 20 }

func stype(val uint32) uint32 {
	return uint32(utils.Bits(uint64(val), 11, 5)<<25 | utils.Bits(uint64(val), 4, 0)<<7)
}

func btype(val uint32) uint32 {
	return uint32(utils.Bit(uint64(val), 12))<<31 | uint32(utils.Bits(uint64(val), 10, 5))<<25 |
		uint32(utils.Bits(uint64(val), 4, 1))<<8 | uint32(utils.Bit(uint64(val), 11))<<7
}

func utype(val uint32) uint32 {
	return (val + 0x800) & 0xffff_f000
}

func jtype(val uint32) uint32 {
	return uint32(utils.Bit(uint64(val), 20))<<31 | uint32(utils.Bits(uint64(val), 10, 1))<<21 |
		uint32(utils.Bit(uint64(val), 11))<<20 | uint32(utils.Bits(uint64(val), 19, 12))<<12
}

func writeItype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_11111_111_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|itype(val))
}

func writeStype(loc []byte, val uint32) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|stype(val))
}

func writeBtype(loc []byte, val uint32) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|btype(val))
}

func writeUtype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|utype(val))
}

func writeJtype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|jtype(val))
}

func setRs1(loc []byte, rs1 uint32) {
	utils.Write[uint32](loc, utils.Read[uint32](loc)&0b111111_11111_00000_111_11111_1111111)
	utils.Write[uint32](loc, utils.Read[uint32](loc)|(rs1<<15))
}
