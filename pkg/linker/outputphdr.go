package linker

import (
	"debug/elf"
)

// Segment is a loader-visible run of chunks sharing permissions. LOAD
// segments are formed by the layout; PHDR, INTERP, DYNAMIC and NOTE
// segments reference chunks that already belong to a LOAD.
type Segment struct {
	Phdr   Phdr
	Chunks []Chunker
}

func NewSegment(typ elf.ProgType, flags elf.ProgFlag, align uint64) *Segment {
	return &Segment{
		Phdr: Phdr{
			Type:  uint32(typ),
			Flags: uint32(flags),
			Align: align,
		},
	}
}

func (s *Segment) Add(chunk Chunker) {
	s.Chunks = append(s.Chunks, chunk)
	if align := chunk.GetShdr().Addralign; align > s.Phdr.Align {
		s.Phdr.Align = align
	}
}

// coverChunks sizes a non-LOAD segment to the extent of its chunks once
// the layout has placed them.
func (s *Segment) coverChunks() {
	if len(s.Chunks) == 0 {
		return
	}
	first := s.Chunks[0].GetShdr()
	s.Phdr.Offset = first.Offset
	s.Phdr.VAddr = first.Addr
	s.Phdr.PAddr = first.Addr
	end := first.Addr
	fileEnd := first.Addr
	for _, chunk := range s.Chunks {
		shdr := chunk.GetShdr()
		if shdr.Addr+shdr.Size > end {
			end = shdr.Addr + shdr.Size
		}
		if !isNoBits(chunk) && shdr.Addr+shdr.Size > fileEnd {
			fileEnd = shdr.Addr + shdr.Size
		}
	}
	s.Phdr.MemSize = end - first.Addr
	s.Phdr.FileSize = fileEnd - first.Addr
}

func isNoBits(chunk Chunker) bool {
	return chunk.GetShdr().Type == uint32(elf.SHT_NOBITS)
}

func isAlloc(chunk Chunker) bool {
	return chunk.GetShdr().Flags&uint64(elf.SHF_ALLOC) != 0
}

func isTls(chunk Chunker) bool {
	return chunk.GetShdr().Flags&uint64(elf.SHF_TLS) != 0
}

func ToPhdrFlags(chunk Chunker) elf.ProgFlag {
	ret := elf.PF_R
	if chunk.GetShdr().Flags&uint64(elf.SHF_WRITE) != 0 {
		ret |= elf.PF_W
	}
	if chunk.GetShdr().Flags&uint64(elf.SHF_EXECINSTR) != 0 {
		ret |= elf.PF_X
	}
	return ret
}

// OutputPhdr serializes the program header table from the layout's
// segment list.
type OutputPhdr struct {
	Chunk

	Segments []*Segment
}

func NewOutputPhdr() *OutputPhdr {
	o := &OutputPhdr{
		Chunk: NewChunk("", ChunkKindProgramHeader),
	}
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.Addralign = 8
	return o
}

func (o *OutputPhdr) NumHeaders() uint64 {
	return uint64(len(o.Segments))
}

// FindProgramHeader locates the first segment of the given type whose
// flags contain flags.
func (o *OutputPhdr) FindProgramHeader(typ elf.ProgType, flags elf.ProgFlag) *Segment {
	for _, seg := range o.Segments {
		if seg.Phdr.Type == uint32(typ) && seg.Phdr.Flags&uint32(flags) == uint32(flags) {
			return seg
		}
	}
	return nil
}

func (o *OutputPhdr) UpdateShdr(l *Layout) {
	o.Shdr.Size = uint64(len(o.Segments)) * l.Kind.PhdrSize()
}

func (o *OutputPhdr) Finalize(l *Layout) error {
	for _, seg := range o.Segments {
		if seg.Phdr.Type != uint32(elf.PT_LOAD) {
			seg.coverChunks()
		}
	}
	return nil
}

func (o *OutputPhdr) CopyBuf(l *Layout) {
	base := l.Buf[o.Shdr.Offset:]
	entSize := l.Kind.PhdrSize()
	for i, seg := range o.Segments {
		l.Kind.PutPhdr(base[uint64(i)*entSize:], &seg.Phdr)
	}
}
