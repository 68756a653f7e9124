// Package output is the emission collaborator (spec §6.1): given the
// module's finalized output sections, it orders and lays out chunks and
// builds the ELF header, program headers and section-name pool.
// Assembling the final byte buffer, and spec §1's flat binary output
// kind, are done by internal/module.
//
// Grounded on unicornx-rvld's Chunker interface (GetShdr/UpdateShdr/
// CopyBuf) for the chunk-based emission shape, and on
// SetOutputSectionOffsets (pkg/linker/passes.go) for the
// address-then-file-offset layout algorithm PT_LOAD packing needs (spec
// §4.7 phase 10, "Layout").
package output

import (
	"sort"

	"github.com/nyxlink/rvld/internal/elfconst"
	"github.com/nyxlink/rvld/internal/section"
	"github.com/nyxlink/rvld/internal/utils"
)

const imageBase = 0x200000

// Chunk is anything that contributes a section header and raw bytes to the
// final file: an output section, or a synthetic chunk (ELF/program/section
// header tables themselves).
type Chunk interface {
	Shdr() *elfconst.Shdr
	Name() string
	CopyBuf(buf []byte)
}

// SectionChunk adapts a *section.OutputSection (with its data already laid
// out in the fragment arena) to the Chunk interface.
type SectionChunk struct {
	Out     *section.OutputSection
	shdr    elfconst.Shdr
	Content []byte // already-assembled bytes for this section, from internal/module
}

func NewSectionChunk(out *section.OutputSection, content []byte) *SectionChunk {
	c := &SectionChunk{Out: out, Content: content}
	c.shdr.Type = out.Type
	c.shdr.Flags = out.Flags
	c.shdr.AddrAlign = uint64(out.Align)
	if c.shdr.AddrAlign == 0 {
		c.shdr.AddrAlign = 1
	}
	c.shdr.Size = out.Size
	return c
}

func (c *SectionChunk) Shdr() *elfconst.Shdr { return &c.shdr }
func (c *SectionChunk) Name() string         { return c.Out.Name }
func (c *SectionChunk) CopyBuf(buf []byte) {
	if c.shdr.Type == objfileSHT_NOBITS {
		return
	}
	copy(buf, c.Content)
}

const objfileSHT_NOBITS = 8

// Layout assigns virtual addresses and file offsets to every chunk, in the
// order given, following the teacher's SetOutputSectionOffsets shape:
// SHF_ALLOC chunks get addresses first (packed from imageBase, SHT_NOBITS
// consuming no file space), then file offsets are assigned -- ALLOC
// chunks' offsets track their address deltas (for PT_LOAD packing),
// non-ALLOC chunks simply pack sequentially.
func Layout(chunks []Chunk) uint64 {
	addr := uint64(imageBase)
	for _, c := range chunks {
		shdr := c.Shdr()
		if shdr.Flags&uint64(elfconst.SHF_EXCLUDE) != 0 {
			continue
		}
		if !isAlloc(shdr) {
			continue
		}
		addr = utils.AlignTo(addr, shdr.AddrAlign)
		shdr.Addr = addr
		if !isNobits(shdr) {
			addr += shdr.Size
		}
	}

	i := 0
	var first *elfconst.Shdr
	if len(chunks) > 0 {
		first = chunks[0].Shdr()
	}
	for i < len(chunks) && isAlloc(chunks[i].Shdr()) {
		shdr := chunks[i].Shdr()
		shdr.Offset = shdr.Addr - first.Addr
		i++
	}

	fileoff := uint64(0)
	if i > 0 {
		last := chunks[i-1].Shdr()
		fileoff = last.Offset + last.Size
	}
	for ; i < len(chunks); i++ {
		shdr := chunks[i].Shdr()
		fileoff = utils.AlignTo(fileoff, shdr.AddrAlign)
		shdr.Offset = fileoff
		fileoff += shdr.Size
	}

	return fileoff
}

func isAlloc(shdr *elfconst.Shdr) bool { return shdr.Flags&0x2 != 0 }
func isNobits(shdr *elfconst.Shdr) bool { return shdr.Type == objfileSHT_NOBITS }

// Rank orders chunks for emission the way the teacher's SortOutputSections
// does: non-alloc sections last, NOTE sections early, then
// writable/exec/tls/bss bucketed by bit pattern so PT_LOAD segments group
// cleanly.
func Rank(shdr *elfconst.Shdr) int32 {
	const (
		shfWrite = 0x1
		shfExec  = 0x4
		shfTLS   = 0x400
		shtNote  = 7
	)
	if shdr.Flags&0x2 == 0 { // !SHF_ALLOC
		return 1<<30 - 1
	}
	if shdr.Type == shtNote {
		return 2
	}
	b2i := func(b bool) int32 {
		if b {
			return 1
		}
		return 0
	}
	writeable := b2i(shdr.Flags&shfWrite != 0)
	notExec := b2i(shdr.Flags&shfExec == 0)
	notTLS := b2i(shdr.Flags&shfTLS == 0)
	isBss := b2i(shdr.Type == objfileSHT_NOBITS)
	return writeable<<7 | notExec<<6 | notTLS<<5 | isBss<<4
}

func SortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return Rank(chunks[i].Shdr()) < Rank(chunks[j].Shdr())
	})
}

// BuildEhdr synthesizes the ELF64 file header for an executable or shared
// object (spec §1's output kinds: "executables, shared objects,
// relocatable objects").
func BuildEhdr(entry uint64, etype uint16, machine uint16, phoff, phnum uint64, shoff uint64, shnum uint64, shstrndx uint16) elfconst.Ehdr {
	var e elfconst.Ehdr
	e.Ident[0], e.Ident[1], e.Ident[2], e.Ident[3] = 0x7f, 'E', 'L', 'F'
	e.Ident[4] = 2 // ELFCLASS64
	e.Ident[5] = 1 // ELFDATA2LSB
	e.Ident[6] = 1 // EV_CURRENT
	e.Type = etype
	e.Machine = machine
	e.Version = 1
	e.Entry = entry
	e.PhOff = phoff
	e.ShOff = shoff
	e.EhSize = elfconst.EhdrSize
	e.PhEntSize = elfconst.PhdrSize
	e.PhNum = uint16(phnum)
	e.ShEntSize = elfconst.ShdrSize
	e.ShNum = uint16(shnum)
	e.ShStrndx = shstrndx
	return e
}

// BuildProgramHeaders packs contiguous ALLOC chunks sharing the same
// writable/executable bits into PT_LOAD segments, grounded on
// Fl0k3n-gocc's getNextSegmentPhysicalAndVirtualOffsets packing rule:
// segment boundaries fall wherever the permission bits change.
func BuildProgramHeaders(chunks []Chunk) []elfconst.Phdr {
	const (
		ptLoad = 1
		pfX    = 1
		pfW    = 2
		pfR    = 4
	)
	var phdrs []elfconst.Phdr
	var cur *elfconst.Phdr

	permOf := func(shdr *elfconst.Shdr) uint32 {
		p := uint32(pfR)
		if shdr.Flags&0x1 != 0 {
			p |= pfW
		}
		if shdr.Flags&0x4 != 0 {
			p |= pfX
		}
		return p
	}

	for _, c := range chunks {
		shdr := c.Shdr()
		if !isAlloc(shdr) {
			continue
		}
		perm := permOf(shdr)
		if cur != nil && cur.Flags == perm && shdr.Offset == cur.Offset+cur.FileSize {
			if isNobits(shdr) {
				cur.FileSize = shdr.Offset - cur.Offset
			} else {
				cur.FileSize = shdr.Offset + shdr.Size - cur.Offset
			}
			cur.MemSize = shdr.Addr + shdr.Size - cur.VAddr
			continue
		}
		ph := elfconst.Phdr{
			Type:     ptLoad,
			Flags:    perm,
			Offset:   shdr.Offset,
			VAddr:    shdr.Addr,
			PAddr:    shdr.Addr,
			FileSize: shdr.Size,
			MemSize:  shdr.Size,
			Align:    elfconst.PageSize,
		}
		if isNobits(shdr) {
			ph.FileSize = 0
		}
		phdrs = append(phdrs, ph)
		cur = &phdrs[len(phdrs)-1]
	}
	return phdrs
}

// NamePool builds a NUL-separated ELF string table and returns, for each
// input name in order, its byte offset within the pool (spec §4.7's
// "size name pools" backend hook).
func NamePool(names []string) (pool []byte, offsets []uint32) {
	pool = []byte{0}
	offsets = make([]uint32, len(names))
	for i, n := range names {
		offsets[i] = uint32(len(pool))
		pool = append(pool, []byte(n)...)
		pool = append(pool, 0)
	}
	return pool, offsets
}
