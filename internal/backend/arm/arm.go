// Package arm is the second backend.Backend this core wires, grounded on
// original_source/test/PLT/ARM/got0.ts's R_ARM_CALL/R_ARM_JUMP24/
// R_ARM_PLT32 relocation set and on the generic ARM32 BL encoding (a
// 24-bit, word-aligned, +/-32MiB signed branch offset packed into the low
// 24 bits of a 4-byte instruction).
//
// Unlike riscv64, ARM's BL/B branch-class relocations have a genuinely
// bounded reach, so this backend is what gives internal/stub a real
// caller: branches outside +/-32MiB need a branch-island veneer (spec
// §4.6) to reach their target.
package arm

import (
	"encoding/binary"

	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/utils"
)

const (
	R_ARM_NONE    = 0
	R_ARM_PC24    = 1
	R_ARM_ABS32   = 2
	R_ARM_CALL    = 28
	R_ARM_JUMP24  = 29
	R_ARM_PLT32   = 27
	R_ARM_V4BX    = 40
)

const Machine = 0x28 // EM_ARM

// branchReach is the signed displacement a 24-bit word-offset BL/B
// instruction can encode: 24 bits of word offset (<<2) sign-extended,
// i.e. +/-32MiB.
const branchReach = 1 << 25

type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string                        { return "arm" }
func (b *Backend) Machine() uint16                      { return Machine }
func (b *Backend) BitClass() int                        { return 32 }
func (b *Backend) LittleEndian() bool                   { return true }
func (b *Backend) OSABI() uint8                         { return 0 }
func (b *Backend) ABIVersion() uint8                    { return 0 }
func (b *Backend) Flags() uint32                        { return 0x05000000 } // EF_ARM_EABI_VER5
func (b *Backend) Relocator() backend.Relocator         { return &relocator{} }
func (b *Backend) StubPrototype() backend.StubPrototype { return stubPrototype{} }

type relocator struct{}

func (r *relocator) Name(relType uint32) string {
	switch relType {
	case R_ARM_NONE:
		return "R_ARM_NONE"
	case R_ARM_PC24:
		return "R_ARM_PC24"
	case R_ARM_ABS32:
		return "R_ARM_ABS32"
	case R_ARM_CALL:
		return "R_ARM_CALL"
	case R_ARM_JUMP24:
		return "R_ARM_JUMP24"
	case R_ARM_PLT32:
		return "R_ARM_PLT32"
	case R_ARM_V4BX:
		return "R_ARM_V4BX"
	default:
		return "R_ARM_UNKNOWN"
	}
}

func (r *relocator) IsNone(relType uint32) bool { return relType == R_ARM_NONE }

func (r *relocator) NeedsGot(relType uint32) bool { return false }

func (r *relocator) NeedsGotTp(relType uint32) bool { return false }

func (r *relocator) NeedsPlt(relType uint32) bool {
	return relType == R_ARM_CALL || relType == R_ARM_JUMP24 || relType == R_ARM_PLT32
}

func (r *relocator) BranchReach(relType uint32) (int64, bool) {
	switch relType {
	case R_ARM_PC24, R_ARM_CALL, R_ARM_JUMP24, R_ARM_PLT32:
		return branchReach, true
	default:
		return 0, false
	}
}

// IsMergeStringSection/MergeStringOffset/ApplyMergeStringOffset: ARM's
// r_addend is, like RISC-V's, a plain input-section-relative byte offset,
// so both backends implement spec §6's merge-string hooks identically --
// the split exists to prove the surface is pluggable, not because these
// two architectures actually diverge on it.
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

func (r *relocator) Apply(loc []byte, relType uint32, rc backend.RelocContext) error {
	S, A, P := rc.S, rc.A, rc.P

	switch relType {
	case R_ARM_NONE, R_ARM_V4BX:
		return nil
	case R_ARM_ABS32:
		utils.Write[uint32](loc, uint32(S+A))
		return nil
	case R_ARM_PC24, R_ARM_CALL, R_ARM_JUMP24, R_ARM_PLT32:
		val := int64(S) + int64(A) - int64(P)
		if val >= branchReach || val < -branchReach {
			return backend.ErrOverflow(r.Name(relType), relType, val)
		}
		insn := binary.LittleEndian.Uint32(loc)
		imm24 := uint32(val>>2) & 0x00ff_ffff
		insn = (insn &^ 0x00ff_ffff) | imm24
		binary.LittleEndian.PutUint32(loc, insn)
		return nil
	default:
		return backend.ErrUnknownReloc(r.Name(relType), relType)
	}
}

// stubPrototype is a classic ARM "far branch" veneer: LDR pc, [pc, #-4]
// followed by the absolute target address as a literal word, reaching any
// 32-bit address regardless of the original branch's +/-32MiB limit (spec
// §4.6: a prototype "keyed by (prototype, symbol-info)" -- every branch
// to the same out-of-range target shares one of these).
type stubPrototype struct{}

func (stubPrototype) Size() uint32  { return 8 }
func (stubPrototype) Align() uint32 { return 4 }

func (stubPrototype) Encode(stubAddr, targetAddr uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 0xe51ff004) // ldr pc, [pc, #-4]
	binary.LittleEndian.PutUint32(buf[4:8], uint32(targetAddr))
	return buf
}
