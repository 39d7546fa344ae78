package linker

import (
	"debug/elf"
	"sort"
)

type symbolEntry struct {
	name    string
	nameOff uint32
	value   uint64
	size    uint64
	binding elf.SymBind
	typ     elf.SymType
	chunk   Chunker // section the symbol lives in, nil for ABS/UNDEF
	shndx   elf.SectionIndex
}

// Atoms may opt into a non-global binding through these.
type localAtom interface {
	IsLocal() bool
}

type weakAtom interface {
	IsWeak() bool
}

func atomBinding(atom Atom) elf.SymBind {
	if a, ok := atom.(localAtom); ok && a.IsLocal() {
		return elf.STB_LOCAL
	}
	if a, ok := atom.(weakAtom); ok && a.IsWeak() {
		return elf.STB_WEAK
	}
	return elf.STB_GLOBAL
}

// SymbolTable accumulates symbol entries and serializes them as ELF Sym
// records, locals ahead of globals.
type SymbolTable struct {
	Chunk

	strtab  *StringTable
	entries []*symbolEntry
}

func NewSymbolTable(name string, strtab *StringTable, dynamic bool) *SymbolTable {
	t := &SymbolTable{
		Chunk:  NewChunk(name, ChunkKindELFSection),
		strtab: strtab,
	}
	if dynamic {
		t.Shdr.Type = uint32(elf.SHT_DYNSYM)
		t.Shdr.Flags = uint64(elf.SHF_ALLOC)
	} else {
		t.Shdr.Type = uint32(elf.SHT_SYMTAB)
	}
	t.Shdr.Addralign = 8
	return t
}

// AddSymbol appends an entry for atom. chunk carries the owning section
// for defined atoms; ABS and UNDEF entries pass nil and a special shndx.
func (t *SymbolTable) AddSymbol(atom Atom, chunk Chunker, shndx elf.SectionIndex, value uint64) {
	e := &symbolEntry{
		name:    atom.Name(),
		value:   value,
		binding: atomBinding(atom),
		typ:     elf.STT_NOTYPE,
		chunk:   chunk,
		shndx:   shndx,
	}
	if atom.Name() == "" {
		e.binding = elf.STB_LOCAL
	}
	if def, ok := atom.(DefinedAtom); ok {
		e.size = def.Size()
		if chunk != nil && chunk.GetShdr().Flags&uint64(elf.SHF_EXECINSTR) != 0 {
			e.typ = elf.STT_FUNC
		} else {
			e.typ = elf.STT_OBJECT
		}
	}
	e.nameOff = t.strtab.AddString(atom.Name())
	t.entries = append(t.entries, e)
}

func (t *SymbolTable) NumSymbols() int {
	return len(t.entries) + 1
}

// SymbolName reports the name of the i-th serialized symbol; index 0 is
// the reserved null entry.
func (t *SymbolTable) SymbolName(i int) string {
	if i == 0 {
		return ""
	}
	return t.entries[i-1].name
}

func (t *SymbolTable) UpdateShdr(l *Layout) {
	t.Shdr.Size = uint64(t.NumSymbols()) * l.Kind.SymSize()
	t.Shdr.Entsize = l.Kind.SymSize()
}

// Finalize orders locals before non-locals and records the index of the
// first non-local in sh_info.
func (t *SymbolTable) Finalize(l *Layout) error {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].binding == elf.STB_LOCAL &&
			t.entries[j].binding != elf.STB_LOCAL
	})
	firstNonLocal := len(t.entries) + 1
	for i, e := range t.entries {
		if e.binding != elf.STB_LOCAL {
			firstNonLocal = i + 1
			break
		}
	}
	t.Shdr.Info = uint32(firstNonLocal)
	t.UpdateShdr(l)
	return nil
}

func (t *SymbolTable) CopyBuf(l *Layout) {
	base := l.Buf[t.Shdr.Offset:]
	l.Kind.PutSym(base, &Sym{})

	entSize := l.Kind.SymSize()
	for i, e := range t.entries {
		shndx := e.shndx
		if e.chunk != nil {
			shndx = elf.SectionIndex(e.chunk.GetShndx())
		}
		l.Kind.PutSym(base[uint64(i+1)*entSize:], &Sym{
			Name:  e.nameOff,
			Info:  uint8(e.binding)<<4 | uint8(e.typ),
			Shndx: uint16(shndx),
			Value: e.value,
			Size:  e.size,
		})
	}
}
