package linker

import (
	"debug/elf"
)

// OutputEhdr owns the ELF header. The writer fills the fields in after
// layout; targets that override the header mutate Ehdr directly.
type OutputEhdr struct {
	Chunk

	Ehdr Ehdr
}

func NewOutputEhdr(kind ELFKind) *OutputEhdr {
	o := &OutputEhdr{
		Chunk: NewChunk("", ChunkKindHeader),
	}
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.Size = kind.EhdrSize()
	o.Shdr.Addralign = 8
	return o
}

func (o *OutputEhdr) CopyBuf(l *Layout) {
	l.Kind.PutEhdr(l.Buf[o.Shdr.Offset:], &o.Ehdr)
}
