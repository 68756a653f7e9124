// Package elfconst holds the ELF32/ELF64 wire-format structs and the small
// set of constants the core reads or writes directly. No package in this
// module imports the standard library's debug/elf; the section type/flag,
// relocation type and machine numbers the core needs are declared as local
// constants in the packages that use them.
package elfconst

const (
	// SHF_EXCLUDE and SHT_LLVM_ADDRSIG are not in debug/elf.
	SHF_EXCLUDE     uint32 = 0x80000000
	SHT_LLVM_ADDRSIG uint32 = 0x6fff4c03

	VER_NDX_LOCAL uint16 = 0

	PageSize = 4096
)

// Ehdr is the ELF64 file header.
type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

// Shdr is an ELF64 section header.
type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// Phdr is an ELF64 program header.
type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// Sym is an ELF64 symbol table entry.
type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

func (s *Sym) IsUndef() bool    { return s.Shndx == uint16(SHN_UNDEF) }
func (s *Sym) IsDefined() bool  { return !s.IsUndef() }
func (s *Sym) IsCommon() bool   { return s.Shndx == uint16(SHN_COMMON) }
func (s *Sym) IsAbs() bool      { return s.Shndx == uint16(SHN_ABS) }
func (s *Sym) Bind() uint8      { return s.Info >> 4 }
func (s *Sym) Type() uint8      { return s.Info & 0xf }
func (s *Sym) IsWeak() bool     { return s.Bind() == STB_WEAK }
func (s *Sym) IsGlobal() bool   { return s.Bind() == STB_GLOBAL }
func (s *Sym) IsLocal() bool    { return s.Bind() == STB_LOCAL }
func (s *Sym) IsUndefWeak() bool { return s.IsUndef() && s.IsWeak() }

func (s *Sym) SetType(t uint8) { s.Info = (s.Info & 0xf0) | (t & 0xf) }
func (s *Sym) SetBind(b uint8) { s.Info = (s.Info & 0xf) | (b << 4) }

func (s *Sym) Visibility() uint8     { return s.Other & 0b11 }
func (s *Sym) SetVisibility(v uint8) { s.Other = (s.Other &^ 0b11) | (v & 0b11) }

// Rela is an ELF64 Elf64_Rela relocation-with-addend entry.
type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

// Minimal symbol-table constants not exposed as typed values by debug/elf
// in a form convenient for Shndx/Info comparisons.
const (
	SHN_UNDEF  = 0
	SHN_ABS    = 0xfff1
	SHN_COMMON = 0xfff2
	SHN_XINDEX = 0xffff

	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2

	STV_DEFAULT   = 0
	STV_INTERNAL  = 1
	STV_HIDDEN    = 2
	STV_PROTECTED = 3

	STT_NOTYPE  = 0
	STT_OBJECT  = 1
	STT_FUNC    = 2
	STT_SECTION = 3
	STT_FILE    = 4
	STT_TLS     = 6
)

const (
	EhdrSize = 64
	ShdrSize = 64
	PhdrSize = 56
	SymSize  = 24
	RelaSize = 24
)
