package elfconst

// Ehdr32, Shdr32, Phdr32 and Sym32 are the ELF32 wire layouts. The rest of
// the core works on the ELF64 Ehdr/Shdr/Phdr/Sym/Rela types in elf64.go.
// No package in this module reads these ELF32 layouts: internal/objfile
// decodes every input with the ELF64 structs.
type Ehdr32 struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	PhOff     uint32
	ShOff     uint32
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

type Phdr32 struct {
	Type     uint32
	Offset   uint32
	VAddr    uint32
	PAddr    uint32
	FileSize uint32
	MemSize  uint32
	Flags    uint32
	Align    uint32
}

type Sym32 struct {
	Name  uint32
	Val   uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

type Rel32 struct {
	Offset uint32
	Info   uint32
}

type Rela32 struct {
	Offset uint32
	Info   uint32
	Addend int32
}

const (
	Ehdr32Size = 52
	Shdr32Size = 40
	Phdr32Size = 32
	Sym32Size  = 16
	Rela32Size = 12
)

func (s *Shdr32) Widen() Shdr {
	return Shdr{
		Name: s.Name, Type: s.Type, Flags: uint64(s.Flags),
		Addr: uint64(s.Addr), Offset: uint64(s.Offset), Size: uint64(s.Size),
		Link: s.Link, Info: s.Info, AddrAlign: uint64(s.AddrAlign),
		EntSize: uint64(s.EntSize),
	}
}

func (s *Sym32) Widen() Sym {
	return Sym{
		Name: s.Name, Info: s.Info, Other: s.Other, Shndx: s.Shndx,
		Val: uint64(s.Val), Size: uint64(s.Size),
	}
}

func (r *Rela32) Widen() Rela {
	return Rela{
		Offset: uint64(r.Offset),
		Type:   r.Info & 0xff,
		Sym:    r.Info >> 8,
		Addend: int64(r.Addend),
	}
}

func (e *Ehdr32) Widen() Ehdr {
	return Ehdr{
		Ident: e.Ident, Type: e.Type, Machine: e.Machine, Version: e.Version,
		Entry: uint64(e.Entry), PhOff: uint64(e.PhOff), ShOff: uint64(e.ShOff),
		Flags: e.Flags, EhSize: e.EhSize, PhEntSize: e.PhEntSize, PhNum: e.PhNum,
		ShEntSize: e.ShEntSize, ShNum: e.ShNum, ShStrndx: e.ShStrndx,
	}
}
