package linker

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLocalAtom struct {
	name string
}

func (a *testLocalAtom) Name() string {
	return a.name
}

func (a *testLocalAtom) IsLocal() bool {
	return true
}

func TestSymbolTableOrdering(t *testing.T) {
	l := NewLayout(ELFKind{Is64: true, Order: binary.LittleEndian}, 0, 0)

	strtab := NewStringTable(".strtab", false, true)
	symtab := NewSymbolTable(".symtab", strtab, false)

	symtab.AddSymbol(&testUndefAtom{name: "globalA"}, nil, elf.SHN_UNDEF, 0)
	symtab.AddSymbol(&testLocalAtom{name: "localA"}, nil, elf.SHN_ABS, 0x10)
	symtab.AddSymbol(&testUndefAtom{name: "globalB"}, nil, elf.SHN_UNDEF, 0)
	symtab.AddSymbol(&testLocalAtom{name: "localB"}, nil, elf.SHN_ABS, 0x20)

	require.NoError(t, symtab.Finalize(l))

	// null entry + two locals precede the globals
	assert.Equal(t, uint32(3), symtab.Shdr.Info)
	assert.Equal(t, "localA", symtab.SymbolName(1))
	assert.Equal(t, "localB", symtab.SymbolName(2))
	assert.Equal(t, "globalA", symtab.SymbolName(3))
	assert.Equal(t, "globalB", symtab.SymbolName(4))
	assert.Equal(t, uint64(5)*SymbolSize, symtab.Shdr.Size)
}

func TestSymbolTableSerialization(t *testing.T) {
	kind := ELFKind{Is64: true, Order: binary.LittleEndian}
	l := NewLayout(kind, 0, 0)

	strtab := NewStringTable(".strtab", false, true)
	symtab := NewSymbolTable(".symtab", strtab, false)

	text := NewAtomSection(".text")
	atom := &testAtom{
		name:    "main",
		section: ".text",
		content: []byte{0xC3},
		align:   1,
		perm:    PermRX,
	}
	text.AddAtom(atom)
	text.SetShndx(1)

	symtab.AddSymbol(atom, text, 0, 0x401000)
	require.NoError(t, symtab.Finalize(l))

	l.Buf = make([]byte, symtab.Shdr.Size)
	symtab.CopyBuf(l)

	bo := kind.Order
	entry := l.Buf[SymbolSize:]
	nameOff := bo.Uint32(entry)
	info := entry[4]
	shndx := bo.Uint16(entry[6:])
	value := bo.Uint64(entry[8:])

	assert.Equal(t, elf.STB_GLOBAL, elf.ST_BIND(info))
	assert.Equal(t, elf.STT_FUNC, elf.ST_TYPE(info))
	assert.Equal(t, uint16(1), shndx)
	assert.Equal(t, uint64(0x401000), value)

	strtabBuf := make([]byte, strtab.MemSize())
	l.Buf = strtabBuf
	strtab.UpdateShdr(l)
	strtab.CopyBuf(l)
	assert.Equal(t, "main", GetNameFromTable(strtabBuf, nameOff))
}
