package linker

// The linker-defined symbols with fixed semantics. The entry symbol is
// injected as an undefined atom; the rest are absolute atoms whose
// values are assigned after layout.
var defaultAbsoluteSymbols = []string{
	"__bss_start",
	"__bss_end",
	"_end",
	"end",
	"__preinit_array_start",
	"__preinit_array_end",
	"__init_array_start",
	"__init_array_end",
	"__rela_iplt_start",
	"__rela_iplt_end",
	"__fini_array_start",
	"__fini_array_end",
}

type runtimeAbsoluteAtom struct {
	name string
}

func (a *runtimeAbsoluteAtom) Name() string {
	return a.name
}

func (a *runtimeAbsoluteAtom) Value() uint64 {
	return 0
}

type runtimeUndefinedAtom struct {
	name string
}

func (a *runtimeUndefinedAtom) Name() string {
	return a.name
}

// RuntimeFile carries the atoms the linker itself contributes. Injection
// is conditional on absence: a symbol an input file already provides is
// left to that input, and the synthesizer will not re-assign it.
type RuntimeFile struct {
	absolute  []AbsoluteAtom
	undefined []UndefinedAtom
}

func NewRuntimeFile(entry string, input File) *RuntimeFile {
	taken := make(map[string]bool)
	for _, atom := range input.Defined() {
		taken[atom.Name()] = true
	}
	for _, atom := range input.Absolute() {
		taken[atom.Name()] = true
	}

	rf := &RuntimeFile{}
	entryTaken := taken[entry]
	for _, atom := range input.Undefined() {
		if atom.Name() == entry {
			entryTaken = true
		}
	}
	if entry != "" && !entryTaken {
		rf.undefined = append(rf.undefined, &runtimeUndefinedAtom{name: entry})
	}
	for _, name := range defaultAbsoluteSymbols {
		if !taken[name] {
			rf.absolute = append(rf.absolute, &runtimeAbsoluteAtom{name: name})
		}
	}
	return rf
}

func (rf *RuntimeFile) Defined() []DefinedAtom {
	return nil
}

func (rf *RuntimeFile) Absolute() []AbsoluteAtom {
	return rf.absolute
}

func (rf *RuntimeFile) Undefined() []UndefinedAtom {
	return rf.undefined
}

func (rf *RuntimeFile) SharedLibrary() []SharedLibraryAtom {
	return nil
}

// HasAbsolute reports whether the runtime file injected name itself.
func (rf *RuntimeFile) HasAbsolute(name string) bool {
	for _, atom := range rf.absolute {
		if atom.Name() == name {
			return true
		}
	}
	return false
}
