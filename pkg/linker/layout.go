package linker

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"eld/pkg/utils"
)

const DefaultBaseAddr = 0x400000
const DefaultPageSize = 0x1000

// Section ordering ranks. Chunks are laid out in rank order; equal ranks
// keep insertion order.
const (
	orderEhdr = iota
	orderPhdr
	orderInterp
	orderNote
	orderHash
	orderDynamicSymbols
	orderDynamicStrings
	orderRelaPlt
	orderText
	orderRodata
	orderPreinitArray
	orderInitArray
	orderFiniArray
	orderData
	orderDynamic
	orderGot
	orderTdata
	orderTbss
	orderBss
	orderOther
	orderSymbolTable
	orderStringTable
	orderSectionStrings
	orderSectionHeaders
)

var sectionOrders = map[string]int{
	".interp":        orderInterp,
	".hash":          orderHash,
	".dynsym":        orderDynamicSymbols,
	".dynstr":        orderDynamicStrings,
	".rela.plt":      orderRelaPlt,
	".text":          orderText,
	".rodata":        orderRodata,
	".preinit_array": orderPreinitArray,
	".init_array":    orderInitArray,
	".fini_array":    orderFiniArray,
	".data":          orderData,
	".dynamic":       orderDynamic,
	".got":           orderGot,
	".tdata":         orderTdata,
	".tbss":          orderTbss,
	".bss":           orderBss,
	".symtab":        orderSymbolTable,
	".strtab":        orderStringTable,
	".shstrtab":      orderSectionStrings,
}

func sectionRank(chunk Chunker) int {
	switch chunk.GetKind() {
	case ChunkKindHeader:
		return orderEhdr
	case ChunkKindProgramHeader:
		return orderPhdr
	case ChunkKindSectionHeader:
		return orderSectionHeaders
	}

	if order, ok := sectionOrders[chunk.GetName()]; ok {
		return order
	}

	shdr := chunk.GetShdr()
	if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
		return orderOther
	}
	if shdr.Type == uint32(elf.SHT_NOTE) {
		return orderNote
	}
	if isNoBits(chunk) {
		return orderBss
	}
	if shdr.Flags&uint64(elf.SHF_EXECINSTR) != 0 {
		return orderText
	}
	if shdr.Flags&uint64(elf.SHF_WRITE) != 0 {
		return orderData
	}
	return orderRodata
}

var outputNamePrefixes = []string{
	".text.", ".data.rel.ro.", ".data.", ".rodata.", ".bss.rel.ro.",
	".bss.", ".init_array.", ".fini_array.", ".preinit_array.",
	".tbss.", ".tdata.", ".ctors.", ".dtors.",
}

// GetOutputName maps an input section name onto the output section that
// collects it.
func GetOutputName(name string) string {
	for _, prefix := range outputNamePrefixes {
		stem := prefix[:len(prefix)-1]
		if name == stem || strings.HasPrefix(name, prefix) {
			return stem
		}
	}
	return name
}

// Layout owns the section graph for one WriteFile call: it routes atoms
// into sections, forms segments and assigns file offsets and virtual
// addresses.
type Layout struct {
	Kind ELFKind

	Chunks        []Chunker
	AbsoluteAtoms []*AtomRef

	Ehdr    *OutputEhdr
	Phdr    *OutputPhdr
	Shdrtab *OutputShdr

	Buf []byte

	atomSections      []*AtomSection
	atomSectionByName map[string]*AtomSection
	loads             []*Segment
	baseAddr          uint64
	pageSize          uint64
	fileEnd           uint64
	addrByName        map[string]uint64
	handler           TargetHandler
}

func NewLayout(kind ELFKind, baseAddr uint64, pageSize uint64) *Layout {
	if baseAddr == 0 {
		baseAddr = DefaultBaseAddr
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Layout{
		Kind:              kind,
		atomSectionByName: make(map[string]*AtomSection),
		baseAddr:          baseAddr,
		pageSize:          pageSize,
		addrByName:        make(map[string]uint64),
	}
}

func (l *Layout) SetHandler(handler TargetHandler) {
	l.handler = handler
}

func (l *Layout) SetHeader(ehdr *OutputEhdr) {
	l.Ehdr = ehdr
	l.AddSection(ehdr)
}

func (l *Layout) SetProgramHeader(phdr *OutputPhdr) {
	l.Phdr = phdr
	l.AddSection(phdr)
}

func (l *Layout) SetSectionHeader(shdrtab *OutputShdr) {
	l.Shdrtab = shdrtab
	l.AddSection(shdrtab)
}

func (l *Layout) AddSection(chunk Chunker) {
	l.Chunks = append(l.Chunks, chunk)
}

// AddAtom routes a defined atom into the section its name selects.
func (l *Layout) AddAtom(atom DefinedAtom) *AtomRef {
	name := GetOutputName(atom.SectionName())
	sec := l.atomSectionByName[name]
	if sec == nil {
		sec = NewAtomSection(name)
		l.atomSectionByName[name] = sec
		l.atomSections = append(l.atomSections, sec)
		l.AddSection(sec)
	}
	return sec.AddAtom(atom)
}

func (l *Layout) AddAbsoluteAtom(atom AbsoluteAtom) *AtomRef {
	ref := &AtomRef{
		Atom:        atom,
		VirtualAddr: atom.Value(),
	}
	l.AbsoluteAtoms = append(l.AbsoluteAtoms, ref)
	return ref
}

func (l *Layout) AtomSections() []*AtomSection {
	return l.atomSections
}

func (l *Layout) FindAbsoluteAtom(name string) *AtomRef {
	for _, ref := range l.AbsoluteAtoms {
		if ref.Atom.Name() == name {
			return ref
		}
	}
	return nil
}

func (l *Layout) FindOutputSection(name string) Chunker {
	for _, chunk := range l.Chunks {
		switch chunk.GetKind() {
		case ChunkKindELFSection, ChunkKindAtomSection:
			if chunk.GetName() == name {
				return chunk
			}
		}
	}
	return nil
}

func (l *Layout) DoPreFlight() {
	l.handler.PreFlight(l)
}

// AssignSectionsToSegments orders the chunks, groups the allocatable run
// into LOAD segments by exact permission flags (R, RX and RW runs land in
// distinct LOADs) and creates the PHDR, INTERP, DYNAMIC, NOTE and TLS
// segments over the placed chunks.
func (l *Layout) AssignSectionsToSegments() error {
	sort.SliceStable(l.Chunks, func(i, j int) bool {
		return sectionRank(l.Chunks[i]) < sectionRank(l.Chunks[j])
	})

	for _, chunk := range l.Chunks {
		if chunk.GetKind() != ChunkKindProgramHeader {
			chunk.UpdateShdr(l)
		}
	}

	l.loads = nil
	var cur *Segment
	var curFlags elf.ProgFlag
	// header chunks carry no permissions of their own, they ride in the
	// first LOAD segment that follows them
	var pending []Chunker
	for _, chunk := range l.Chunks {
		if !isAlloc(chunk) {
			continue
		}
		switch chunk.GetKind() {
		case ChunkKindHeader, ChunkKindProgramHeader:
			pending = append(pending, chunk)
			continue
		}
		flags := ToPhdrFlags(chunk)
		if cur == nil || flags != curFlags {
			cur = NewSegment(elf.PT_LOAD, flags, l.pageSize)
			curFlags = flags
			l.loads = append(l.loads, cur)
			for _, hdr := range pending {
				cur.Add(hdr)
				hdr.SetSegment(cur)
			}
			pending = nil
		}
		cur.Add(chunk)
		chunk.SetSegment(cur)
	}
	if len(pending) > 0 {
		cur = NewSegment(elf.PT_LOAD, elf.PF_R, l.pageSize)
		l.loads = append(l.loads, cur)
		for _, hdr := range pending {
			cur.Add(hdr)
			hdr.SetSegment(cur)
		}
	}

	var segments []*Segment

	phdrSeg := NewSegment(elf.PT_PHDR, elf.PF_R, 8)
	phdrSeg.Add(l.Phdr)
	segments = append(segments, phdrSeg)

	if interp := l.FindOutputSection(".interp"); interp != nil {
		seg := NewSegment(elf.PT_INTERP, elf.PF_R, 1)
		seg.Add(interp)
		segments = append(segments, seg)
	}

	segments = append(segments, l.loads...)

	if dynamic := l.FindOutputSection(".dynamic"); dynamic != nil {
		seg := NewSegment(elf.PT_DYNAMIC, elf.PF_R|elf.PF_W, 8)
		seg.Add(dynamic)
		segments = append(segments, seg)
	}

	for _, chunk := range l.Chunks {
		if isAlloc(chunk) && chunk.GetShdr().Type == uint32(elf.SHT_NOTE) {
			seg := NewSegment(elf.PT_NOTE, ToPhdrFlags(chunk), chunk.GetShdr().Addralign)
			seg.Add(chunk)
			segments = append(segments, seg)
		}
	}

	for i := 0; i < len(l.Chunks); i++ {
		if !isTls(l.Chunks[i]) {
			continue
		}
		seg := NewSegment(elf.PT_TLS, ToPhdrFlags(l.Chunks[i]), 1)
		seg.Add(l.Chunks[i])
		i++
		for i < len(l.Chunks) && isTls(l.Chunks[i]) {
			seg.Add(l.Chunks[i])
			i++
		}
		segments = append(segments, seg)
	}

	l.Phdr.Segments = segments
	l.Phdr.UpdateShdr(l)

	for _, chunk := range l.Chunks {
		if isAlloc(chunk) && !chunk.HasSegment() {
			return &InvariantError{
				Msg: fmt.Sprintf("allocatable section %q not assigned to any segment", chunk.GetName()),
			}
		}
	}
	return nil
}

// AssignFileOffsets walks the LOAD segments in order and hands out
// strictly increasing file offsets. NOBITS chunks consume no file bytes.
func (l *Layout) AssignFileOffsets() {
	off := uint64(0)
	for _, seg := range l.loads {
		off = utils.AlignTo(off, seg.Phdr.Align)
		seg.Phdr.Offset = off
		fileEnd := off
		for _, chunk := range seg.Chunks {
			shdr := chunk.GetShdr()
			if isNoBits(chunk) {
				shdr.Offset = utils.AlignTo(fileEnd, shdr.Addralign)
				continue
			}
			fileEnd = utils.AlignTo(fileEnd, shdr.Addralign)
			shdr.Offset = fileEnd
			fileEnd += shdr.Size
		}
		seg.Phdr.FileSize = fileEnd - seg.Phdr.Offset
		off = fileEnd
	}
	l.fileEnd = off
}

// AssignVirtualAddresses mirrors the file walk in memory, starting each
// LOAD at an address congruent to its file offset modulo the page size.
func (l *Layout) AssignVirtualAddresses() {
	vaddr := l.baseAddr
	for _, seg := range l.loads {
		vaddr = utils.AlignTo(vaddr, l.pageSize) + seg.Phdr.Offset%l.pageSize
		seg.Phdr.VAddr = vaddr
		seg.Phdr.PAddr = vaddr
		memOff := uint64(0)
		for _, chunk := range seg.Chunks {
			shdr := chunk.GetShdr()
			if isNoBits(chunk) {
				memOff = utils.AlignTo(memOff, shdr.Addralign)
			} else {
				memOff = shdr.Offset - seg.Phdr.Offset
			}
			shdr.Addr = vaddr + memOff
			memOff += shdr.Size
		}
		seg.Phdr.MemSize = memOff
		vaddr += memOff
	}

	for _, sec := range l.atomSections {
		sec.AssignAtomAddresses()
	}
}

// AssignOffsetsForMiscSections places the sections that belong to no
// segment past the last loadable byte. Their addresses stay zero.
func (l *Layout) AssignOffsetsForMiscSections() {
	off := l.fileEnd
	for _, chunk := range l.Chunks {
		if isAlloc(chunk) || chunk.GetKind() == ChunkKindHeader ||
			chunk.GetKind() == ChunkKindProgramHeader {
			continue
		}
		chunk.UpdateShdr(l)
		shdr := chunk.GetShdr()
		off = utils.AlignTo(off, shdr.Addralign)
		shdr.Offset = off
		shdr.Addr = 0
		off += shdr.Size
	}
}

func (l *Layout) Finalize() error {
	for _, chunk := range l.Chunks {
		if err := chunk.Finalize(l); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layout) SetAtomAddr(name string, addr uint64) {
	l.addrByName[name] = addr
}

func (l *Layout) FindAtomAddrByName(name string) (uint64, bool) {
	addr, ok := l.addrByName[name]
	return addr, ok
}

func (l *Layout) PageSize() uint64 {
	return l.pageSize
}
