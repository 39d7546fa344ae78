package linker

import "debug/elf"

type ChunkKind uint8

const (
	ChunkKindHeader ChunkKind = iota
	ChunkKindProgramHeader
	ChunkKindSectionHeader
	ChunkKindELFSection
	ChunkKindAtomSection
)

type Chunker interface {
	GetName() string
	GetKind() ChunkKind
	GetShdr() *Shdr
	GetShndx() int64
	SetShndx(shndx int64)
	HasSegment() bool
	SetSegment(seg *Segment)
	// UpdateShdr computes the section size before file offsets are handed
	// out; Finalize computes final content once addresses are known.
	UpdateShdr(l *Layout)
	Finalize(l *Layout) error
	CopyBuf(l *Layout)
}

type Chunk struct {
	Name string
	Kind ChunkKind
	Shdr Shdr

	shndx int64
	seg   *Segment
}

func NewChunk(name string, kind ChunkKind) Chunk {
	return Chunk{
		Name: name,
		Kind: kind,
		Shdr: Shdr{
			Addralign: 1,
		},
		shndx: -1,
	}
}

func (c *Chunk) GetName() string {
	return c.Name
}

func (c *Chunk) GetKind() ChunkKind {
	return c.Kind
}

func (c *Chunk) GetShdr() *Shdr {
	return &c.Shdr
}

func (c *Chunk) GetShndx() int64 {
	return c.shndx
}

func (c *Chunk) SetShndx(shndx int64) {
	c.shndx = shndx
}

func (c *Chunk) HasSegment() bool {
	return c.seg != nil
}

func (c *Chunk) SetSegment(seg *Segment) {
	c.seg = seg
}

func (c *Chunk) UpdateShdr(l *Layout) {}

func (c *Chunk) Finalize(l *Layout) error {
	return nil
}

func (c *Chunk) CopyBuf(l *Layout) {}

func (c *Chunk) IsAlloc() bool {
	return c.Shdr.Flags&uint64(elf.SHF_ALLOC) != 0
}

func (c *Chunk) IsNoBits() bool {
	return c.Shdr.Type == uint32(elf.SHT_NOBITS)
}
