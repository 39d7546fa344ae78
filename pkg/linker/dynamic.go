package linker

import "debug/elf"

// DynamicTable builds the .dynamic section. Entries whose values are not
// known until after layout are reserved first and patched later through
// their slot index.
type DynamicTable struct {
	Chunk

	entries []Dyn
}

func NewDynamicTable() *DynamicTable {
	t := &DynamicTable{
		Chunk: NewChunk(".dynamic", ChunkKindELFSection),
	}
	t.Shdr.Type = uint32(elf.SHT_DYNAMIC)
	t.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	t.Shdr.Addralign = 8
	return t
}

func (t *DynamicTable) AddEntry(tag elf.DynTag, val uint64) int {
	t.entries = append(t.entries, Dyn{
		Tag: int64(tag),
		Val: val,
	})
	return len(t.entries) - 1
}

// ReserveEntry records a slot for a tag whose value is patched after
// layout.
func (t *DynamicTable) ReserveEntry(tag elf.DynTag) int {
	return t.AddEntry(tag, 0)
}

func (t *DynamicTable) Patch(slot int, val uint64) {
	t.entries[slot].Val = val
}

func (t *DynamicTable) Entry(slot int) Dyn {
	return t.entries[slot]
}

func (t *DynamicTable) UpdateShdr(l *Layout) {
	// one extra slot for the terminating DT_NULL
	t.Shdr.Size = uint64(len(t.entries)+1) * l.Kind.DynSize()
	t.Shdr.Entsize = l.Kind.DynSize()
}

func (t *DynamicTable) CopyBuf(l *Layout) {
	base := l.Buf[t.Shdr.Offset:]
	entSize := l.Kind.DynSize()
	for i := range t.entries {
		l.Kind.PutDyn(base[uint64(i)*entSize:], &t.entries[i])
	}
	l.Kind.PutDyn(base[uint64(len(t.entries))*entSize:], &Dyn{Tag: int64(elf.DT_NULL)})
}
