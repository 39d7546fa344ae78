package linker

import "debug/elf"

// InterpSection holds the NUL-terminated dynamic loader path.
type InterpSection struct {
	Chunk

	interpreter string
}

func NewInterpSection(interpreter string) *InterpSection {
	s := &InterpSection{
		Chunk:       NewChunk(".interp", ChunkKindELFSection),
		interpreter: interpreter,
	}
	s.Shdr.Type = uint32(elf.SHT_PROGBITS)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC)
	return s
}

func (s *InterpSection) UpdateShdr(l *Layout) {
	s.Shdr.Size = uint64(len(s.interpreter)) + 1
}

func (s *InterpSection) CopyBuf(l *Layout) {
	copy(l.Buf[s.Shdr.Offset:], s.interpreter)
}
