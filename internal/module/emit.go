package module

import (
	"github.com/nyxlink/rvld/internal/elfconst"
	"github.com/nyxlink/rvld/internal/output"
	"github.com/nyxlink/rvld/internal/section"
	"github.com/nyxlink/rvld/internal/utils"
)

// emitFlat concatenates every SHF_ALLOC output section's bytes in layout
// order with no ELF framing at all, per spec §1's "flat binary" kind --
// the format a boot loader or ROM image consumes directly.
func (m *Module) emitFlat() []byte {
	if len(m.sortedOutputs) == 0 {
		return nil
	}
	base := m.sortedOutputs[0].Addr
	var size uint64
	for _, out := range m.sortedOutputs {
		if out.Flags&0x2 == 0 { // !SHF_ALLOC
			continue
		}
		end := out.Addr - base + out.Size
		if end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	for _, out := range m.sortedOutputs {
		if out.Flags&0x2 == 0 {
			continue
		}
		if out.Type == objfileNOBITS {
			continue
		}
		copy(buf[out.Addr-base:], m.content[out])
	}
	return buf
}

const objfileNOBITS = 8

// emitELF assembles a full ELF64 image: an ELF header, section contents
// placed after the header area, a name pool + section header table, and
// -- unless this is a partial link -- PT_LOAD program headers (spec §4.7's
// final emission phase).
func (m *Module) emitELF() []byte {
	col := m.ApplyRelocations(m.content)
	for _, e := range col.Errors() {
		m.Diags.Add(e)
	}

	var phdrs []elfconst.Phdr
	if m.Opts.Kind != KindRelocatable {
		phdrs = output.BuildProgramHeaders(sectionChunksOf(m.sortedOutputs))
	}

	// Layout packs section contents from file offset 0; move them past the
	// ELF header and program header table by a whole number of pages so
	// file offsets stay congruent to addresses.
	hdrShift := utils.AlignTo(elfconst.EhdrSize+uint64(len(phdrs))*elfconst.PhdrSize, elfconst.PageSize)
	for _, out := range m.sortedOutputs {
		out.Offset += hdrShift
	}
	for i := range phdrs {
		phdrs[i].Offset += hdrShift
	}

	names := make([]string, len(m.sortedOutputs))
	for i, out := range m.sortedOutputs {
		names[i] = out.Name
	}
	names = append(names, ".shstrtab")
	pool, offsets := output.NamePool(names)
	shstrtabOff := offsets[len(offsets)-1]

	// shstrtab itself is appended after every real section's content, at
	// the next free, 1-aligned file offset.
	tail := uint64(0)
	for _, out := range m.sortedOutputs {
		end := out.Offset + out.Size
		if out.Type == objfileNOBITS {
			end = out.Offset
		}
		if end > tail {
			tail = end
		}
	}
	shstrtabOffset := tail

	chunks := make([]*elfconst.Shdr, 0, len(m.sortedOutputs)+2)
	chunks = append(chunks, &elfconst.Shdr{}) // SHN_UNDEF's null entry
	for i, out := range m.sortedOutputs {
		chunks = append(chunks, &elfconst.Shdr{
			Name:      offsets[i],
			Type:      out.Type,
			Flags:     out.Flags,
			Addr:      out.Addr,
			Offset:    out.Offset,
			Size:      out.Size,
			AddrAlign: uint64(out.Align),
		})
	}
	chunks = append(chunks, &elfconst.Shdr{
		Name:      shstrtabOff,
		Type:      3, // SHT_STRTAB
		Offset:    shstrtabOffset,
		Size:      uint64(len(pool)),
		AddrAlign: 1,
	})
	shstrndx := uint16(len(chunks) - 1)

	const phdrAlign = 8
	shoff := utils.AlignTo(shstrtabOffset+uint64(len(pool)), phdrAlign)
	phoff := uint64(0)
	if len(phdrs) > 0 {
		phoff = elfconst.EhdrSize
		shoff = utils.AlignTo(shoff+uint64(len(phdrs))*elfconst.PhdrSize, phdrAlign)
	}

	etype := uint16(2) // ET_EXEC
	switch m.Opts.Kind {
	case KindSharedObject:
		etype = 3 // ET_DYN
	case KindRelocatable:
		etype = 1 // ET_REL
	}

	entry := uint64(0)
	if info, ok := m.Symbols.Lookup(m.Opts.Entry); ok && info.OutSymbol != nil {
		entry = info.OutSymbol.Value
	}

	ehdr := output.BuildEhdr(entry, etype, m.Opts.Backend.Machine(), phoff, uint64(len(phdrs)),
		shoff, uint64(len(chunks)), shstrndx)

	total := shoff + uint64(len(chunks))*elfconst.ShdrSize
	buf := make([]byte, total)

	utils.Write(buf, ehdr)
	if len(phdrs) > 0 {
		poff := phoff
		for _, ph := range phdrs {
			utils.Write(buf[poff:], ph)
			poff += elfconst.PhdrSize
		}
	}

	for _, out := range m.sortedOutputs {
		if out.Type == objfileNOBITS {
			continue
		}
		copy(buf[out.Offset:], m.content[out])
	}
	copy(buf[shstrtabOffset:], pool)

	soff := shoff
	for _, sh := range chunks {
		utils.Write(buf[soff:], *sh)
		soff += elfconst.ShdrSize
	}

	return buf
}

// sectionChunksOf adapts already-laid-out output sections back to
// output.Chunk so BuildProgramHeaders, which only needs Shdr(), can reuse
// its contiguous-same-permission packing rule here too.
func sectionChunksOf(outs []*section.OutputSection) []output.Chunk {
	chunks := make([]output.Chunk, len(outs))
	for i, out := range outs {
		sh := elfconst.Shdr{
			Type:      out.Type,
			Flags:     out.Flags,
			Addr:      out.Addr,
			Offset:    out.Offset,
			Size:      out.Size,
			AddrAlign: uint64(out.Align),
		}
		chunks[i] = &laidOutChunk{out: out, shdr: sh}
	}
	return chunks
}

type laidOutChunk struct {
	out  *section.OutputSection
	shdr elfconst.Shdr
}

func (c *laidOutChunk) Shdr() *elfconst.Shdr { return &c.shdr }
func (c *laidOutChunk) Name() string         { return c.out.Name }
func (c *laidOutChunk) CopyBuf(buf []byte)   {}
