package linker

import (
	"encoding/binary"

	"eld/pkg/utils"
)

// ELFKind tags a writer instantiation with its class and data encoding.
// One value stands in for each of the four output flavors the factory
// can produce.
type ELFKind struct {
	Is64  bool
	Order binary.ByteOrder
}

func (k ELFKind) EhdrSize() uint64 {
	if k.Is64 {
		return ELFHeaderSize
	}
	return ELFHeaderSize32
}

func (k ELFKind) ShdrSize() uint64 {
	if k.Is64 {
		return SectionHeaderSize
	}
	return SectionHeaderSize32
}

func (k ELFKind) PhdrSize() uint64 {
	if k.Is64 {
		return ProgramHeaderSize
	}
	return ProgramHeaderSize32
}

func (k ELFKind) SymSize() uint64 {
	if k.Is64 {
		return SymbolSize
	}
	return SymbolSize32
}

func (k ELFKind) DynSize() uint64 {
	if k.Is64 {
		return DynamicEntrySize
	}
	return DynamicEntrySize32
}

func (k ELFKind) PutEhdr(data []byte, h *Ehdr) {
	if k.Is64 {
		utils.Write(data, k.Order, *h)
		return
	}
	utils.Write(data, k.Order, Ehdr32{
		Ident:     h.Ident,
		Type:      h.Type,
		Machine:   h.Machine,
		Version:   h.Version,
		Entry:     uint32(h.Entry),
		Phoff:     uint32(h.Phoff),
		Shoff:     uint32(h.Shoff),
		Flags:     h.Flags,
		Ehsize:    h.Ehsize,
		Phentsize: h.Phentsize,
		Phnum:     h.Phnum,
		Shentsize: h.Shentsize,
		Shnum:     h.Shnum,
		Shstrndx:  h.Shstrndx,
	})
}

func (k ELFKind) PutShdr(data []byte, s *Shdr) {
	if k.Is64 {
		utils.Write(data, k.Order, *s)
		return
	}
	utils.Write(data, k.Order, Shdr32{
		Name:      s.Name,
		Type:      s.Type,
		Flags:     uint32(s.Flags),
		Addr:      uint32(s.Addr),
		Offset:    uint32(s.Offset),
		Size:      uint32(s.Size),
		Link:      s.Link,
		Info:      s.Info,
		Addralign: uint32(s.Addralign),
		Entsize:   uint32(s.Entsize),
	})
}

func (k ELFKind) PutPhdr(data []byte, p *Phdr) {
	if k.Is64 {
		utils.Write(data, k.Order, *p)
		return
	}
	utils.Write(data, k.Order, Phdr32{
		Type:     p.Type,
		Offset:   uint32(p.Offset),
		VAddr:    uint32(p.VAddr),
		PAddr:    uint32(p.PAddr),
		FileSize: uint32(p.FileSize),
		MemSize:  uint32(p.MemSize),
		Flags:    p.Flags,
		Align:    uint32(p.Align),
	})
}

func (k ELFKind) PutSym(data []byte, s *Sym) {
	if k.Is64 {
		utils.Write(data, k.Order, *s)
		return
	}
	utils.Write(data, k.Order, Sym32{
		Name:  s.Name,
		Value: uint32(s.Value),
		Size:  uint32(s.Size),
		Info:  s.Info,
		Other: s.Other,
		Shndx: s.Shndx,
	})
}

func (k ELFKind) PutDyn(data []byte, d *Dyn) {
	if k.Is64 {
		utils.Write(data, k.Order, *d)
		return
	}
	utils.Write(data, k.Order, Dyn32{
		Tag: int32(d.Tag),
		Val: uint32(d.Val),
	})
}

func (k ELFKind) PutWord(data []byte, v uint32) {
	k.Order.PutUint32(data, v)
}
