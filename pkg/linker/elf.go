package linker

import (
	"bytes"
	"unsafe"
)

type Ehdr struct {
	Ident     [16]byte /* File identification. */
	Type      uint16   /* File type. */
	Machine   uint16   /* Machine architecture. */
	Version   uint32   /* ELF format version. */
	Entry     uint64   /* Entry point. */
	Phoff     uint64   /* Program header file offset. */
	Shoff     uint64   /* Section header file offset. */
	Flags     uint32   /* Architecture-specific flags. */
	Ehsize    uint16   /* Size of ELF header in bytes. */
	Phentsize uint16   /* Size of program header entry. */
	Phnum     uint16   /* Number of program header entries. */
	Shentsize uint16   /* Size of section header entry. */
	Shnum     uint16   /* Number of section header entries. */
	Shstrndx  uint16   /* Section name strings section. */
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

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

type Sym struct {
	Name  uint32 /* String table index of name. */
	Info  uint8  /* Type and binding information. */
	Other uint8  /* Reserved (not used). */
	Shndx uint16 /* Section index of symbol. */
	Value uint64 /* Symbol value. */
	Size  uint64 /* Size of associated object. */
}

type Dyn struct {
	Tag int64  /* Entry type. */
	Val uint64 /* Integer or address value. */
}

// 32-bit wire forms of the records above.

type Ehdr32 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
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
	Addralign uint32
	Entsize   uint32
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
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

type Dyn32 struct {
	Tag int32
	Val uint32
}

const ELFHeaderSize = uint64(unsafe.Sizeof(Ehdr{}))
const SectionHeaderSize = uint64(unsafe.Sizeof(Shdr{}))
const ProgramHeaderSize = uint64(unsafe.Sizeof(Phdr{}))
const SymbolSize = uint64(unsafe.Sizeof(Sym{}))
const DynamicEntrySize = uint64(unsafe.Sizeof(Dyn{}))

const ELFHeaderSize32 = uint64(unsafe.Sizeof(Ehdr32{}))
const SectionHeaderSize32 = uint64(unsafe.Sizeof(Shdr32{}))
const ProgramHeaderSize32 = uint64(unsafe.Sizeof(Phdr32{}))
const SymbolSize32 = uint64(unsafe.Sizeof(Sym32{}))
const DynamicEntrySize32 = uint64(unsafe.Sizeof(Dyn32{}))

var magic = []byte("\177ELF")

func WriteMagic(contents []byte) {
	copy(contents, magic)
}

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, magic)
}

func GetNameFromTable(strTable []byte, offset uint32) string {
	length := uint32(bytes.Index(strTable[offset:], []byte{0}))
	return string(strTable[offset : offset+length])
}
