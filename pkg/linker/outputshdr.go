package linker

// OutputShdr serializes the section header table. Sections are appended
// in layout order; index 0 stays the reserved null entry.
type OutputShdr struct {
	Chunk

	sections []Chunker
	shstrtab *StringTable
}

func NewOutputShdr(shstrtab *StringTable) *OutputShdr {
	o := &OutputShdr{
		Chunk:    NewChunk("", ChunkKindSectionHeader),
		shstrtab: shstrtab,
	}
	o.Shdr.Addralign = 8
	return o
}

// AppendSection hands the section its ordinal and interns its name.
func (o *OutputShdr) AppendSection(chunk Chunker) {
	chunk.SetShndx(int64(len(o.sections)) + 1)
	chunk.GetShdr().Name = o.shstrtab.AddString(chunk.GetName())
	o.sections = append(o.sections, chunk)
}

func (o *OutputShdr) NumHeaders() uint64 {
	return uint64(len(o.sections)) + 1
}

func (o *OutputShdr) UpdateShdr(l *Layout) {
	o.Shdr.Size = o.NumHeaders() * l.Kind.ShdrSize()
}

func (o *OutputShdr) CopyBuf(l *Layout) {
	base := l.Buf[o.Shdr.Offset:]
	l.Kind.PutShdr(base, &Shdr{})

	entSize := l.Kind.ShdrSize()
	for _, chunk := range o.sections {
		l.Kind.PutShdr(base[uint64(chunk.GetShndx())*entSize:], chunk.GetShdr())
	}
}
