package linker

import (
	"debug/elf"
	"eld/pkg/utils"
)

// Output section properties keyed by well-known names. Anything else
// derives its type and flags from the atoms routed into it.
var knownSections = map[string]struct {
	typ   elf.SectionType
	flags elf.SectionFlag
}{
	".text":          {elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_EXECINSTR},
	".rodata":        {elf.SHT_PROGBITS, elf.SHF_ALLOC},
	".data":          {elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE},
	".bss":           {elf.SHT_NOBITS, elf.SHF_ALLOC | elf.SHF_WRITE},
	".tbss":          {elf.SHT_NOBITS, elf.SHF_ALLOC | elf.SHF_WRITE | elf.SHF_TLS},
	".tdata":         {elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE | elf.SHF_TLS},
	".init_array":    {elf.SHT_INIT_ARRAY, elf.SHF_ALLOC | elf.SHF_WRITE},
	".fini_array":    {elf.SHT_FINI_ARRAY, elf.SHF_ALLOC | elf.SHF_WRITE},
	".preinit_array": {elf.SHT_PREINIT_ARRAY, elf.SHF_ALLOC | elf.SHF_WRITE},
	".got":           {elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE},
	".rela.plt":      {elf.SHT_RELA, elf.SHF_ALLOC},
}

func permFlags(perm AtomPerm) elf.SectionFlag {
	switch perm {
	case PermRW:
		return elf.SHF_ALLOC | elf.SHF_WRITE
	case PermRX:
		return elf.SHF_ALLOC | elf.SHF_EXECINSTR
	}
	return elf.SHF_ALLOC
}

// AtomSection collects the defined atoms routed to one output section
// and positions them relative to its start.
type AtomSection struct {
	Chunk

	Atoms []*AtomRef

	content []byte
}

func NewAtomSection(name string) *AtomSection {
	s := &AtomSection{
		Chunk: NewChunk(name, ChunkKindAtomSection),
	}
	s.Shdr.Type = uint32(elf.SHT_PROGBITS)
	return s
}

func (s *AtomSection) AddAtom(atom DefinedAtom) *AtomRef {
	if props, ok := knownSections[s.Name]; ok {
		s.Shdr.Type = uint32(props.typ)
		s.Shdr.Flags = uint64(props.flags)
	} else {
		s.Shdr.Flags = uint64(permFlags(atom.Perm()))
		if atom.IsZeroFill() {
			s.Shdr.Type = uint32(elf.SHT_NOBITS)
		}
	}

	ref := &AtomRef{
		Atom:    atom,
		Ordinal: int64(len(s.Atoms)),
	}
	s.Atoms = append(s.Atoms, ref)
	return ref
}

func (s *AtomSection) UpdateShdr(l *Layout) {
	size := uint64(0)
	for _, ref := range s.Atoms {
		atom := ref.Atom.(DefinedAtom)
		align := atom.Alignment()
		if align == 0 {
			align = 1
		}
		if align > s.Shdr.Addralign {
			s.Shdr.Addralign = align
		}
		size = utils.AlignTo(size, align)
		ref.FileOffset = size
		size += atom.Size()
	}
	s.Shdr.Size = size
}

// AssignAtomAddresses turns the relative atom offsets into absolute file
// offsets and virtual addresses once the section itself is placed.
func (s *AtomSection) AssignAtomAddresses() {
	for _, ref := range s.Atoms {
		ref.VirtualAddr = s.Shdr.Addr + ref.FileOffset
		ref.FileOffset += s.Shdr.Offset
	}
}

// Finalize copies atom content into a section-local buffer and lets the
// target apply relocations to it. Input atom content is never mutated.
func (s *AtomSection) Finalize(l *Layout) error {
	if s.IsNoBits() {
		return nil
	}
	s.content = make([]byte, s.Shdr.Size)
	for _, ref := range s.Atoms {
		atom := ref.Atom.(DefinedAtom)
		if atom.IsZeroFill() {
			continue
		}
		off := ref.FileOffset - s.Shdr.Offset
		copy(s.content[off:], atom.Content())
		if err := l.handler.ApplyRelocation(l, ref, s.content[off:off+atom.Size()]); err != nil {
			return err
		}
	}
	return nil
}

func (s *AtomSection) CopyBuf(l *Layout) {
	if s.IsNoBits() {
		return
	}
	copy(l.Buf[s.Shdr.Offset:], s.content)
}

// RawSection carries target-provided bytes (a GOT or PLT seed, for
// instance) through layout unchanged.
type RawSection struct {
	Chunk

	Contents []byte
}

func NewRawSection(name string, typ elf.SectionType, flags elf.SectionFlag, contents []byte) *RawSection {
	s := &RawSection{
		Chunk:    NewChunk(name, ChunkKindELFSection),
		Contents: contents,
	}
	s.Shdr.Type = uint32(typ)
	s.Shdr.Flags = uint64(flags)
	s.Shdr.Size = uint64(len(contents))
	return s
}

func (s *RawSection) UpdateShdr(l *Layout) {
	if !s.IsNoBits() {
		s.Shdr.Size = uint64(len(s.Contents))
	}
}

func (s *RawSection) CopyBuf(l *Layout) {
	if s.IsNoBits() {
		return
	}
	copy(l.Buf[s.Shdr.Offset:], s.Contents)
}
