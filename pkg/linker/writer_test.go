package linker

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAtom struct {
	name     string
	section  string
	content  []byte
	size     uint64
	align    uint64
	perm     AtomPerm
	zeroFill bool
}

func (a *testAtom) Name() string {
	return a.name
}

func (a *testAtom) SectionName() string {
	return a.section
}

func (a *testAtom) Content() []byte {
	return a.content
}

func (a *testAtom) Size() uint64 {
	if a.zeroFill {
		return a.size
	}
	return uint64(len(a.content))
}

func (a *testAtom) Alignment() uint64 {
	return a.align
}

func (a *testAtom) Perm() AtomPerm {
	return a.perm
}

func (a *testAtom) IsZeroFill() bool {
	return a.zeroFill
}

type testUndefAtom struct {
	name string
}

func (a *testUndefAtom) Name() string {
	return a.name
}

type testSharedAtom struct {
	name     string
	loadName string
}

func (a *testSharedAtom) Name() string {
	return a.name
}

func (a *testSharedAtom) LoadName() string {
	return a.loadName
}

type testFile struct {
	defined   []DefinedAtom
	absolute  []AbsoluteAtom
	undefined []UndefinedAtom
	shared    []SharedLibraryAtom
}

func (f *testFile) Defined() []DefinedAtom {
	return f.defined
}

func (f *testFile) Absolute() []AbsoluteAtom {
	return f.absolute
}

func (f *testFile) Undefined() []UndefinedAtom {
	return f.undefined
}

func (f *testFile) SharedLibrary() []SharedLibraryAtom {
	return f.shared
}

type testTargetInfo struct {
	is64    bool
	little  bool
	dynamic bool
	machine uint16
	handler TargetHandler
}

func (t *testTargetInfo) Is64Bits() bool {
	return t.is64
}

func (t *testTargetInfo) IsLittleEndian() bool {
	return t.little
}

func (t *testTargetInfo) IsDynamic() bool {
	return t.dynamic
}

func (t *testTargetInfo) OutputType() uint16 {
	return uint16(elf.ET_EXEC)
}

func (t *testTargetInfo) OutputMachine() uint16 {
	return t.machine
}

func (t *testTargetInfo) Entry() string {
	return "_start"
}

func (t *testTargetInfo) Interpreter() string {
	return "/lib64/ld-linux-x86-64.so.2"
}

func (t *testTargetInfo) BaseAddr() uint64 {
	return 0
}

func (t *testTargetInfo) PageSize() uint64 {
	return 0
}

func (t *testTargetInfo) Handler() TargetHandler {
	if t.handler != nil {
		return t.handler
	}
	return DefaultTargetHandler{}
}

func x8664TargetInfo() *testTargetInfo {
	return &testTargetInfo{
		is64:    true,
		little:  true,
		machine: uint16(elf.EM_X86_64),
	}
}

func textAtom() *testAtom {
	return &testAtom{
		name:    "main",
		section: ".text",
		content: bytes.Repeat([]byte{0x90}, 8),
		align:   8,
		perm:    PermRX,
	}
}

func minimalFile() *testFile {
	return &testFile{
		defined:   []DefinedAtom{textAtom()},
		undefined: []UndefinedAtom{&testUndefAtom{name: "_start"}},
	}
}

func writeAndParse(t *testing.T, ti TargetInfo, file File) (*elf.File, []byte) {
	t.Helper()

	writer, err := CreateWriterELF(ti)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a.out")
	require.NoError(t, writer.WriteFile(file, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	parsed, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	return parsed, raw
}

func findSymbol(t *testing.T, syms []elf.Symbol, name string) elf.Symbol {
	t.Helper()
	for _, sym := range syms {
		if sym.Name == name {
			return sym
		}
	}
	t.Fatalf("symbol %s not found", name)
	return elf.Symbol{}
}

func TestMinimalStaticExecutable(t *testing.T) {
	parsed, _ := writeAndParse(t, x8664TargetInfo(), minimalFile())

	assert.Equal(t, elf.ET_EXEC, parsed.Type)
	assert.Equal(t, elf.EM_X86_64, parsed.Machine)
	assert.Equal(t, elf.ELFCLASS64, parsed.Class)
	assert.Equal(t, elf.ELFDATA2LSB, parsed.Data)

	var phdrCount, loadCount int
	for _, prog := range parsed.Progs {
		switch prog.Type {
		case elf.PT_PHDR:
			phdrCount++
		case elf.PT_LOAD:
			loadCount++
			assert.Equal(t, elf.PF_R|elf.PF_X, prog.Flags)
		}
	}
	assert.Equal(t, 1, phdrCount, "PHDR segment count")
	assert.Equal(t, 1, loadCount, "LOAD segment count")

	assert.Nil(t, parsed.Section(".dynamic"))

	syms, err := parsed.Symbols()
	require.NoError(t, err)
	main := findSymbol(t, syms, "main")
	start := findSymbol(t, syms, "_start")
	text := parsed.Section(".text")
	require.NotNil(t, text)
	assert.Equal(t, text.Addr, main.Value)
	assert.Equal(t, start.Value, parsed.Entry)
}

func TestStaticWithBss(t *testing.T) {
	file := minimalFile()
	file.defined = append(file.defined, &testAtom{
		name:     "buf",
		section:  ".bss",
		size:     4096,
		align:    8,
		perm:     PermRW,
		zeroFill: true,
	})
	parsed, _ := writeAndParse(t, x8664TargetInfo(), file)

	var loads []*elf.Prog
	for _, prog := range parsed.Progs {
		if prog.Type == elf.PT_LOAD {
			loads = append(loads, prog)
		}
	}
	require.Len(t, loads, 2)
	assert.Equal(t, elf.PF_R|elf.PF_X, loads[0].Flags)
	assert.Equal(t, elf.PF_R|elf.PF_W, loads[1].Flags)

	rw := loads[1]
	assert.GreaterOrEqual(t, rw.Memsz-rw.Filesz, uint64(4096))

	syms, err := parsed.Symbols()
	require.NoError(t, err)
	bssStart := findSymbol(t, syms, "__bss_start")
	bssEnd := findSymbol(t, syms, "__bss_end")
	end := findSymbol(t, syms, "_end")
	plainEnd := findSymbol(t, syms, "end")

	assert.Equal(t, rw.Vaddr+rw.Filesz, bssStart.Value)
	assert.Equal(t, rw.Vaddr+rw.Memsz, bssEnd.Value)
	assert.Equal(t, bssEnd.Value, end.Value)
	assert.Equal(t, bssEnd.Value, plainEnd.Value)
	assert.Equal(t, elf.SHN_ABS, bssStart.Section)
}

func TestRodataSegmentNotExecutable(t *testing.T) {
	file := minimalFile()
	file.defined = append(file.defined, &testAtom{
		name:    "greeting",
		section: ".rodata",
		content: []byte("hello\x00"),
		align:   1,
		perm:    PermR,
	})
	parsed, _ := writeAndParse(t, x8664TargetInfo(), file)

	text := parsed.Section(".text")
	rodata := parsed.Section(".rodata")
	require.NotNil(t, text)
	require.NotNil(t, rodata)

	segFor := func(sec *elf.Section) *elf.Prog {
		for _, prog := range parsed.Progs {
			if prog.Type == elf.PT_LOAD && sec.Addr >= prog.Vaddr &&
				sec.Addr+sec.Size <= prog.Vaddr+prog.Memsz {
				return prog
			}
		}
		return nil
	}

	textSeg := segFor(text)
	rodataSeg := segFor(rodata)
	require.NotNil(t, textSeg)
	require.NotNil(t, rodataSeg)
	assert.Equal(t, elf.PF_R|elf.PF_X, textSeg.Flags)
	assert.Equal(t, elf.PF_R, rodataSeg.Flags)
	assert.NotSame(t, textSeg, rodataSeg)
}

func TestTlsSegment(t *testing.T) {
	file := minimalFile()
	file.defined = append(file.defined,
		&testAtom{
			name:    "tls_init",
			section: ".tdata",
			content: bytes.Repeat([]byte{0x11}, 8),
			align:   8,
			perm:    PermRW,
		},
		&testAtom{
			name:     "tls_zero",
			section:  ".tbss",
			size:     16,
			align:    8,
			perm:     PermRW,
			zeroFill: true,
		})
	parsed, _ := writeAndParse(t, x8664TargetInfo(), file)

	tdata := parsed.Section(".tdata")
	tbss := parsed.Section(".tbss")
	require.NotNil(t, tdata)
	require.NotNil(t, tbss)
	assert.NotZero(t, tdata.Flags&elf.SHF_TLS)
	assert.Equal(t, elf.SHT_NOBITS, tbss.Type)

	var tls *elf.Prog
	for _, prog := range parsed.Progs {
		if prog.Type == elf.PT_TLS {
			require.Nil(t, tls, "more than one PT_TLS segment")
			tls = prog
		}
	}
	require.NotNil(t, tls)
	assert.Equal(t, elf.PF_R|elf.PF_W, tls.Flags)
	assert.Equal(t, tdata.Offset, tls.Off)
	assert.Equal(t, tdata.Addr, tls.Vaddr)
	assert.Equal(t, tdata.Size, tls.Filesz)
	assert.Equal(t, tbss.Addr+tbss.Size-tdata.Addr, tls.Memsz)
	assert.Greater(t, tls.Memsz, tls.Filesz)
}

func TestDynamicExecutable(t *testing.T) {
	file := minimalFile()
	file.shared = []SharedLibraryAtom{
		&testSharedAtom{name: "printf", loadName: "libc.so.6"},
	}
	ti := x8664TargetInfo()
	ti.dynamic = true
	parsed, _ := writeAndParse(t, ti, file)

	for _, name := range []string{".interp", ".dynamic", ".dynstr", ".dynsym", ".hash"} {
		assert.NotNil(t, parsed.Section(name), name)
	}

	interp := parsed.Section(".interp")
	data, err := interp.Data()
	require.NoError(t, err)
	assert.Equal(t, "/lib64/ld-linux-x86-64.so.2\x00", string(data))

	needed, err := parsed.DynString(elf.DT_NEEDED)
	require.NoError(t, err)
	assert.Equal(t, []string{"libc.so.6"}, needed)

	dynstr := parsed.Section(".dynstr")
	strsz := dynTagValue(t, parsed, elf.DT_STRSZ)
	assert.Equal(t, dynstr.Size, strsz)
	assert.Equal(t, uint64(24), dynTagValue(t, parsed, elf.DT_SYMENT))

	dynsym := parsed.Section(".dynsym")
	assert.Equal(t, dynsym.Addr, dynTagValue(t, parsed, elf.DT_SYMTAB))
	assert.Equal(t, parsed.Section(".hash").Addr, dynTagValue(t, parsed, elf.DT_HASH))
	assert.Equal(t, dynstr.Addr, dynTagValue(t, parsed, elf.DT_STRTAB))
}

// dynTagValue pulls one dynamic entry's value back out of the written
// image.
func dynTagValue(t *testing.T, parsed *elf.File, tag elf.DynTag) uint64 {
	t.Helper()
	dynamic := parsed.Section(".dynamic")
	require.NotNil(t, dynamic)
	data, err := dynamic.Data()
	require.NoError(t, err)

	for len(data) > 0 {
		var entryTag, val uint64
		if parsed.Class == elf.ELFCLASS64 {
			entryTag = parsed.ByteOrder.Uint64(data)
			val = parsed.ByteOrder.Uint64(data[8:])
			data = data[16:]
		} else {
			entryTag = uint64(parsed.ByteOrder.Uint32(data))
			val = uint64(parsed.ByteOrder.Uint32(data[4:]))
			data = data[8:]
		}
		if entryTag == uint64(tag) {
			return val
		}
		if entryTag == uint64(elf.DT_NULL) {
			break
		}
	}
	t.Fatalf("dynamic tag %v not found", tag)
	return 0
}

func TestInitArraySymbols(t *testing.T) {
	file := minimalFile()
	file.defined = append(file.defined,
		&testAtom{
			name:    "ctor_a",
			section: ".init_array",
			content: make([]byte, 8),
			align:   8,
			perm:    PermRW,
		},
		&testAtom{
			name:    "ctor_b",
			section: ".init_array",
			content: make([]byte, 8),
			align:   8,
			perm:    PermRW,
		})
	parsed, _ := writeAndParse(t, x8664TargetInfo(), file)

	initArray := parsed.Section(".init_array")
	require.NotNil(t, initArray)
	assert.Equal(t, elf.SHT_INIT_ARRAY, initArray.Type)
	assert.Equal(t, uint64(16), initArray.Size)

	syms, err := parsed.Symbols()
	require.NoError(t, err)
	start := findSymbol(t, syms, "__init_array_start")
	end := findSymbol(t, syms, "__init_array_end")
	assert.Equal(t, initArray.Addr, start.Value)
	assert.Equal(t, initArray.Addr+16, end.Value)
}

func TestBigEndian32(t *testing.T) {
	ti := &testTargetInfo{
		is64:    false,
		little:  false,
		machine: uint16(elf.EM_PPC),
	}
	parsed, raw := writeAndParse(t, ti, minimalFile())

	assert.Equal(t, elf.ELFCLASS32, parsed.Class)
	assert.Equal(t, elf.ELFDATA2MSB, parsed.Data)
	assert.Equal(t, elf.EM_PPC, parsed.Machine)

	// e_type at offset 16 must be big-endian encoded
	assert.Equal(t, []byte{0x00, 0x02}, raw[16:18])

	syms, err := parsed.Symbols()
	require.NoError(t, err)
	findSymbol(t, syms, "main")
}

func TestDuplicateSharedLibraryNames(t *testing.T) {
	file := minimalFile()
	file.shared = []SharedLibraryAtom{
		&testSharedAtom{name: "sin", loadName: "libm.so.6"},
		&testSharedAtom{name: "cos", loadName: "libm.so.6"},
	}
	ti := x8664TargetInfo()
	ti.dynamic = true
	parsed, _ := writeAndParse(t, ti, file)

	needed, err := parsed.DynString(elf.DT_NEEDED)
	require.NoError(t, err)
	assert.Equal(t, []string{"libm.so.6"}, needed)

	dynsyms, err := parsed.DynamicSymbols()
	require.NoError(t, err)
	assert.Len(t, dynsyms, 2)
}

func TestHashChainReachesEverySymbol(t *testing.T) {
	file := minimalFile()
	file.shared = []SharedLibraryAtom{
		&testSharedAtom{name: "printf", loadName: "libc.so.6"},
		&testSharedAtom{name: "malloc", loadName: "libc.so.6"},
		&testSharedAtom{name: "free", loadName: "libc.so.6"},
		&testSharedAtom{name: "sin", loadName: "libm.so.6"},
	}
	ti := x8664TargetInfo()
	ti.dynamic = true
	parsed, _ := writeAndParse(t, ti, file)

	hashSec := parsed.Section(".hash")
	require.NotNil(t, hashSec)
	data, err := hashSec.Data()
	require.NoError(t, err)

	nbucket := parsed.ByteOrder.Uint32(data)
	nchain := parsed.ByteOrder.Uint32(data[4:])
	buckets := make([]uint32, nbucket)
	chains := make([]uint32, nchain)
	for i := range buckets {
		buckets[i] = parsed.ByteOrder.Uint32(data[8+4*i:])
	}
	for i := range chains {
		chains[i] = parsed.ByteOrder.Uint32(data[8+4*int(nbucket)+4*i:])
	}

	dynsyms, err := parsed.DynamicSymbols()
	require.NoError(t, err)
	require.Equal(t, int(nchain), len(dynsyms)+1)

	for i, sym := range dynsyms {
		want := uint32(i + 1)
		idx := buckets[ElfHash(sym.Name)%nbucket]
		for idx != 0 && idx != want {
			idx = chains[idx]
		}
		assert.Equal(t, want, idx, "hash chain lookup for %s", sym.Name)
	}
}

func TestPredefinedLinkerSymbolWins(t *testing.T) {
	file := minimalFile()
	file.absolute = append(file.absolute, &testAbsAtom{name: "__bss_start", value: 0x1234})
	parsed, _ := writeAndParse(t, x8664TargetInfo(), file)

	syms, err := parsed.Symbols()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), findSymbol(t, syms, "__bss_start").Value)
}

type testAbsAtom struct {
	name  string
	value uint64
}

func (a *testAbsAtom) Name() string {
	return a.name
}

func (a *testAbsAtom) Value() uint64 {
	return a.value
}

func allKinds() []*testTargetInfo {
	return []*testTargetInfo{
		{is64: true, little: true, machine: uint16(elf.EM_X86_64)},
		{is64: false, little: true, machine: uint16(elf.EM_386)},
		{is64: true, little: false, machine: uint16(elf.EM_SPARCV9)},
		{is64: false, little: false, machine: uint16(elf.EM_PPC)},
	}
}

func kindName(ti *testTargetInfo) string {
	name := "elf32"
	if ti.is64 {
		name = "elf64"
	}
	if ti.little {
		return name + "-lsb"
	}
	return name + "-msb"
}

func propertyFile() *testFile {
	file := minimalFile()
	file.defined = append(file.defined,
		&testAtom{
			name:    "table",
			section: ".data",
			content: bytes.Repeat([]byte{0xAA}, 32),
			align:   16,
			perm:    PermRW,
		},
		&testAtom{
			name:     "scratch",
			section:  ".bss",
			size:     256,
			align:    32,
			perm:     PermRW,
			zeroFill: true,
		})
	return file
}

func TestWriterInvariantsAllKinds(t *testing.T) {
	for _, ti := range allKinds() {
		ti := ti
		t.Run(kindName(ti), func(t *testing.T) {
			parsed, raw := writeAndParse(t, ti, propertyFile())

			assert.True(t, CheckMagic(raw))

			shoff, shnum, shent := headerShdrInfo(parsed, raw)
			assert.Equal(t, uint64(len(raw)), shoff+shnum*shent)

			const pageSize = uint64(DefaultPageSize)
			for _, prog := range parsed.Progs {
				if prog.Type != elf.PT_LOAD {
					continue
				}
				assert.Equal(t, prog.Off%pageSize, prog.Vaddr%pageSize)
				assert.GreaterOrEqual(t, prog.Memsz, prog.Filesz)

				for _, sec := range parsed.Sections {
					if sec.Flags&elf.SHF_ALLOC == 0 || sec.Addr < prog.Vaddr ||
						sec.Addr >= prog.Vaddr+prog.Memsz {
						continue
					}
					assert.GreaterOrEqual(t, sec.Offset, prog.Off)
					if sec.Type != elf.SHT_NOBITS {
						assert.LessOrEqual(t, sec.Offset+sec.Size, prog.Off+prog.Filesz)
					}
				}
			}

			syms, err := parsed.Symbols()
			require.NoError(t, err)
			sawNonLocal := false
			for _, sym := range syms {
				shndx := elf.SectionIndex(sym.Section)
				inRange := shndx < elf.SectionIndex(len(parsed.Sections))
				special := shndx == elf.SHN_ABS || shndx == elf.SHN_UNDEF
				assert.True(t, inRange || special, "section index of %s", sym.Name)

				if elf.ST_BIND(sym.Info) != elf.STB_LOCAL {
					sawNonLocal = true
				} else {
					assert.False(t, sawNonLocal, "local symbol %s after a non-local", sym.Name)
				}
			}
		})
	}
}

// headerShdrInfo reads e_shoff, e_shnum and e_shentsize straight from
// the identification-dependent header layout.
func headerShdrInfo(parsed *elf.File, raw []byte) (uint64, uint64, uint64) {
	bo := parsed.ByteOrder
	if parsed.Class == elf.ELFCLASS64 {
		return bo.Uint64(raw[0x28:]),
			uint64(bo.Uint16(raw[0x3C:])),
			uint64(bo.Uint16(raw[0x3A:]))
	}
	return uint64(bo.Uint32(raw[0x20:])),
		uint64(bo.Uint16(raw[0x30:])),
		uint64(bo.Uint16(raw[0x2E:]))
}

func TestWriteIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.out"), filepath.Join(dir, "b.out")}

	var images [][]byte
	for _, path := range paths {
		ti := x8664TargetInfo()
		ti.dynamic = true
		file := minimalFile()
		file.shared = []SharedLibraryAtom{
			&testSharedAtom{name: "printf", loadName: "libc.so.6"},
		}
		writer, err := CreateWriterELF(ti)
		require.NoError(t, err)
		require.NoError(t, writer.WriteFile(file, path))
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		images = append(images, raw)
	}
	assert.Equal(t, images[0], images[1])
}
