package linker

import "debug/elf"

// StringTable interns NUL-terminated strings. Offsets are stable for the
// lifetime of the table; a deduplicating table hands equal strings the
// same offset.
type StringTable struct {
	Chunk

	dedup   bool
	offsets map[string]uint32
	buf     []byte
}

func NewStringTable(name string, alloc bool, dedup bool) *StringTable {
	t := &StringTable{
		Chunk:   NewChunk(name, ChunkKindELFSection),
		dedup:   dedup,
		offsets: make(map[string]uint32),
		buf:     []byte{0},
	}
	t.Shdr.Type = uint32(elf.SHT_STRTAB)
	if alloc {
		t.Shdr.Flags = uint64(elf.SHF_ALLOC)
	}
	return t
}

func (t *StringTable) AddString(s string) uint32 {
	if t.dedup {
		if off, ok := t.offsets[s]; ok {
			return off
		}
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	if t.dedup {
		t.offsets[s] = off
	}
	return off
}

func (t *StringTable) MemSize() uint64 {
	return uint64(len(t.buf))
}

func (t *StringTable) UpdateShdr(l *Layout) {
	t.Shdr.Size = uint64(len(t.buf))
}

func (t *StringTable) CopyBuf(l *Layout) {
	copy(l.Buf[t.Shdr.Offset:], t.buf)
}
