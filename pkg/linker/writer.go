package linker

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedConfig is returned by the factory for a class/endianness
// combination it has no writer for.
var ErrUnsupportedConfig = errors.New("unsupported ELF class/endianness configuration")

// InvariantError reports a broken writer invariant: a linker-defined
// atom lost between injection and layout, or a layout that cannot honor
// the loader contract. It indicates a bug, not bad input.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

// ExecutableWriter drives the full pipeline for one output: chunks,
// layout, linker symbols, metadata finalization, emission.
type ExecutableWriter struct {
	kind    ELFKind
	ti      TargetInfo
	handler TargetHandler
	layout  *Layout

	symtab   *SymbolTable
	strtab   *StringTable
	shstrtab *StringTable
	shdrtab  *OutputShdr

	dynamicTable *DynamicTable
	dynsym       *SymbolTable
	dynstr       *StringTable
	interp       *InterpSection
	hash         *HashSection

	dtHash   int
	dtStrtab int
	dtSymtab int
	dtStrsz  int
	dtSyment int

	runtimeFile *RuntimeFile
}

// CreateWriterELF dispatches on the target's class and endianness to one
// of the four writer instantiations.
func CreateWriterELF(ti TargetInfo) (*ExecutableWriter, error) {
	var kind ELFKind
	switch {
	case !ti.Is64Bits() && ti.IsLittleEndian():
		kind = ELFKind{Is64: false, Order: binary.LittleEndian}
	case ti.Is64Bits() && ti.IsLittleEndian():
		kind = ELFKind{Is64: true, Order: binary.LittleEndian}
	case !ti.Is64Bits() && !ti.IsLittleEndian():
		kind = ELFKind{Is64: false, Order: binary.BigEndian}
	case ti.Is64Bits() && !ti.IsLittleEndian():
		kind = ELFKind{Is64: true, Order: binary.BigEndian}
	}
	handler := ti.Handler()
	if kind.Order == nil || handler == nil {
		return nil, ErrUnsupportedConfig
	}

	layout := handler.TargetLayout(NewLayout(kind, ti.BaseAddr(), ti.PageSize()))
	layout.SetHandler(handler)

	return &ExecutableWriter{
		kind:    kind,
		ti:      ti,
		handler: handler,
		layout:  layout,
	}, nil
}

// WriteFile lays out the resolved input and emits the executable image
// at path. On error the partial output file is left for the caller.
func (w *ExecutableWriter) WriteFile(file File, path string) error {
	inputs := &InputFiles{Files: []File{file}}
	w.addFiles(file, inputs)

	w.buildChunks(inputs)

	// let the target mutate sections and atoms before placement
	w.layout.DoPreFlight()

	w.createDefaultSections()

	if w.ti.IsDynamic() {
		w.createDefaultDynamicEntries()
		w.buildDynamicSymbolTable(inputs)
	}

	if err := w.layout.AssignSectionsToSegments(); err != nil {
		return err
	}
	w.layout.AssignFileOffsets()
	w.layout.AssignVirtualAddresses()

	if err := w.finalizeDefaultAtomValues(); err != nil {
		return err
	}

	// addresses feed relocation application during finalize
	w.buildAtomToAddressMap()

	w.buildStaticSymbolTable(inputs)

	if err := w.layout.Finalize(); err != nil {
		return err
	}

	w.buildSectionHeaderTable()
	w.assignSectionsWithNoSegments()

	if w.ti.IsDynamic() {
		w.updateDynamicTable()
	}
	w.updateSectionLinks()

	totalSize := w.shdrtab.Shdr.Offset + w.shdrtab.Shdr.Size
	buffer, err := newOutputBuffer(path, totalSize)
	if err != nil {
		return err
	}

	w.populateHeader()

	w.layout.Buf = buffer.Data
	// the ELF header and program header are not enumerated in the
	// section header table, write them explicitly
	w.layout.Ehdr.CopyBuf(w.layout)
	w.layout.Phdr.CopyBuf(w.layout)
	for _, chunk := range w.layout.Chunks {
		switch chunk.GetKind() {
		case ChunkKindHeader, ChunkKindProgramHeader:
			continue
		}
		chunk.CopyBuf(w.layout)
	}
	w.layout.Buf = nil

	return buffer.Commit()
}

// addFiles prepends the runtime file carrying the linker-defined atoms
// and gives the target a chance to add its own.
func (w *ExecutableWriter) addFiles(file File, inputs *InputFiles) {
	w.runtimeFile = NewRuntimeFile(w.ti.Entry(), file)
	inputs.PrependFile(w.runtimeFile)
	w.handler.AddFiles(inputs)
}

func (w *ExecutableWriter) buildChunks(inputs *InputFiles) {
	for _, atom := range inputs.Defined() {
		w.layout.AddAtom(atom)
	}
	for _, atom := range inputs.Absolute() {
		w.layout.AddAbsoluteAtom(atom)
	}
}

func (w *ExecutableWriter) createDefaultSections() {
	w.layout.SetHeader(NewOutputEhdr(w.kind))
	w.layout.SetProgramHeader(NewOutputPhdr())

	w.shstrtab = NewStringTable(".shstrtab", false, true)
	w.strtab = NewStringTable(".strtab", false, true)
	w.symtab = NewSymbolTable(".symtab", w.strtab, false)
	w.shdrtab = NewOutputShdr(w.shstrtab)
	w.layout.AddSection(w.symtab)
	w.layout.AddSection(w.strtab)
	w.layout.AddSection(w.shstrtab)
	w.layout.SetSectionHeader(w.shdrtab)

	if w.ti.IsDynamic() {
		w.dynamicTable = NewDynamicTable()
		w.dynstr = NewStringTable(".dynstr", true, true)
		w.dynsym = NewSymbolTable(".dynsym", w.dynstr, true)
		w.interp = NewInterpSection(w.ti.Interpreter())
		w.hash = NewHashSection(w.dynsym)
		w.layout.AddSection(w.dynamicTable)
		w.layout.AddSection(w.dynstr)
		w.layout.AddSection(w.dynsym)
		w.layout.AddSection(w.interp)
		w.layout.AddSection(w.hash)
	}

	w.handler.CreateDefaultSections(w.layout)
}

func (w *ExecutableWriter) createDefaultDynamicEntries() {
	w.dtHash = w.dynamicTable.ReserveEntry(elf.DT_HASH)
	w.dtStrtab = w.dynamicTable.ReserveEntry(elf.DT_STRTAB)
	w.dtSymtab = w.dynamicTable.ReserveEntry(elf.DT_SYMTAB)
	w.dtStrsz = w.dynamicTable.ReserveEntry(elf.DT_STRSZ)
	w.dtSyment = w.dynamicTable.ReserveEntry(elf.DT_SYMENT)
}

// buildDynamicSymbolTable inserts one undefined dynamic symbol per
// shared-library reference and one DT_NEEDED per distinct load-name.
func (w *ExecutableWriter) buildDynamicSymbolTable(inputs *InputFiles) {
	var needed []string
	seen := make(map[string]bool)
	for _, sla := range inputs.SharedLibrary() {
		w.dynsym.AddSymbol(sla, nil, elf.SHN_UNDEF, 0)
		if !seen[sla.LoadName()] {
			seen[sla.LoadName()] = true
			needed = append(needed, sla.LoadName())
		}
	}
	for _, loadName := range needed {
		w.dynamicTable.AddEntry(elf.DT_NEEDED, uint64(w.dynstr.AddString(loadName)))
	}
}

// finalizeDefaultAtomValues resolves the linker-defined absolute symbols
// against the completed layout. Symbols an input file pre-defined are
// left untouched.
func (w *ExecutableWriter) finalizeDefaultAtomValues() error {
	assign := func(name string, value uint64) error {
		if !w.runtimeFile.HasAbsolute(name) {
			return nil
		}
		ref := w.layout.FindAbsoluteAtom(name)
		if ref == nil {
			return &InvariantError{
				Msg: fmt.Sprintf("linker-defined atom %s lost after layout", name),
			}
		}
		ref.VirtualAddr = value
		return nil
	}

	startEnd := func(sym string, secName string) error {
		start, end := uint64(0), uint64(0)
		if sec := w.layout.FindOutputSection(secName); sec != nil {
			shdr := sec.GetShdr()
			start = shdr.Addr
			end = shdr.Addr + shdr.Size
		}
		if err := assign("__"+sym+"_start", start); err != nil {
			return err
		}
		return assign("__"+sym+"_end", end)
	}

	if err := startEnd("preinit_array", ".preinit_array"); err != nil {
		return err
	}
	if err := startEnd("init_array", ".init_array"); err != nil {
		return err
	}
	// __rela_iplt_start/end bind to .rela.plt, matching what existing
	// runtimes expect
	if err := startEnd("rela_iplt", ".rela.plt"); err != nil {
		return err
	}
	if err := startEnd("fini_array", ".fini_array"); err != nil {
		return err
	}

	bssStart, bssEnd := uint64(0), uint64(0)
	if seg := w.layout.Phdr.FindProgramHeader(elf.PT_LOAD, elf.PF_W); seg != nil {
		bssStart = seg.Phdr.VAddr + seg.Phdr.FileSize
		bssEnd = seg.Phdr.VAddr + seg.Phdr.MemSize
	} else if w.ti.IsDynamic() {
		return &InvariantError{Msg: "dynamic output has no writable LOAD segment"}
	}
	if err := assign("__bss_start", bssStart); err != nil {
		return err
	}
	for _, name := range []string{"__bss_end", "_end", "end"} {
		if err := assign(name, bssEnd); err != nil {
			return err
		}
	}

	return w.handler.FinalizeSymbolValues(w.layout)
}

// buildAtomToAddressMap records the final virtual address of every atom;
// the layout consults it when applying relocations.
func (w *ExecutableWriter) buildAtomToAddressMap() {
	for _, sec := range w.layout.AtomSections() {
		for _, ref := range sec.Atoms {
			w.layout.SetAtomAddr(ref.Atom.Name(), ref.VirtualAddr)
		}
	}
	for _, ref := range w.layout.AbsoluteAtoms {
		w.layout.SetAtomAddr(ref.Atom.Name(), ref.VirtualAddr)
	}
}

func (w *ExecutableWriter) buildStaticSymbolTable(inputs *InputFiles) {
	for _, sec := range w.layout.AtomSections() {
		for _, ref := range sec.Atoms {
			w.symtab.AddSymbol(ref.Atom, sec, 0, ref.VirtualAddr)
		}
	}
	for _, ref := range w.layout.AbsoluteAtoms {
		w.symtab.AddSymbol(ref.Atom, nil, elf.SHN_ABS, ref.VirtualAddr)
	}
	for _, atom := range inputs.Undefined() {
		w.symtab.AddSymbol(atom, nil, elf.SHN_UNDEF, 0)
	}
}

func (w *ExecutableWriter) buildSectionHeaderTable() {
	for _, chunk := range w.layout.Chunks {
		switch chunk.GetKind() {
		case ChunkKindELFSection, ChunkKindAtomSection:
		default:
			continue
		}
		if chunk.HasSegment() {
			w.shdrtab.AppendSection(chunk)
		}
	}
}

func (w *ExecutableWriter) assignSectionsWithNoSegments() {
	for _, chunk := range w.layout.Chunks {
		switch chunk.GetKind() {
		case ChunkKindELFSection, ChunkKindAtomSection:
		default:
			continue
		}
		if !chunk.HasSegment() {
			w.shdrtab.AppendSection(chunk)
		}
	}
	w.layout.AssignOffsetsForMiscSections()
}

// updateDynamicTable patches the reserved slots with the addresses and
// sizes known only after layout.
func (w *ExecutableWriter) updateDynamicTable() {
	w.dynamicTable.Patch(w.dtHash, w.hash.Shdr.Addr)
	w.dynamicTable.Patch(w.dtStrtab, w.dynstr.Shdr.Addr)
	w.dynamicTable.Patch(w.dtSymtab, w.dynsym.Shdr.Addr)
	w.dynamicTable.Patch(w.dtStrsz, w.dynstr.MemSize())
	w.dynamicTable.Patch(w.dtSyment, w.kind.SymSize())
}

func (w *ExecutableWriter) updateSectionLinks() {
	w.symtab.Shdr.Link = uint32(w.strtab.GetShndx())
	if w.ti.IsDynamic() {
		w.dynsym.Shdr.Link = uint32(w.dynstr.GetShndx())
		w.hash.Shdr.Link = uint32(w.dynsym.GetShndx())
		w.dynamicTable.Shdr.Link = uint32(w.dynstr.GetShndx())
	}
}

func (w *ExecutableWriter) populateHeader() {
	ehdr := &w.layout.Ehdr.Ehdr
	WriteMagic(ehdr.Ident[:])
	if w.kind.Is64 {
		ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	} else {
		ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS32)
	}
	if w.ti.IsLittleEndian() {
		ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	} else {
		ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2MSB)
	}
	ehdr.Type = w.ti.OutputType()
	ehdr.Machine = w.ti.OutputMachine()

	if !w.handler.DoesOverrideHeader() {
		ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
		ehdr.Ident[elf.EI_OSABI] = 0
		ehdr.Version = uint32(elf.EV_CURRENT)
	} else {
		w.handler.SetHeaderInfo(w.layout.Ehdr)
	}

	ehdr.Phoff = w.layout.Phdr.Shdr.Offset
	ehdr.Shoff = w.shdrtab.Shdr.Offset
	ehdr.Ehsize = uint16(w.kind.EhdrSize())
	ehdr.Phentsize = uint16(w.kind.PhdrSize())
	ehdr.Phnum = uint16(w.layout.Phdr.NumHeaders())
	ehdr.Shentsize = uint16(w.kind.ShdrSize())
	ehdr.Shnum = uint16(w.shdrtab.NumHeaders())
	ehdr.Shstrndx = uint16(w.shstrtab.GetShndx())

	if addr, ok := w.layout.FindAtomAddrByName(w.ti.Entry()); ok {
		ehdr.Entry = addr
	}
}
