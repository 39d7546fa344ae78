package linker

// TargetInfo describes the output the caller wants. BaseAddr and
// PageSize may return zero to take the defaults.
type TargetInfo interface {
	Is64Bits() bool
	IsLittleEndian() bool
	IsDynamic() bool
	OutputType() uint16
	OutputMachine() uint16
	Entry() string
	Interpreter() string
	BaseAddr() uint64
	PageSize() uint64
	Handler() TargetHandler
}

// TargetHandler is the per-architecture hook surface. The writer makes
// no assumptions beyond it.
type TargetHandler interface {
	// TargetLayout may replace or wrap the default layout.
	TargetLayout(def *Layout) *Layout
	// AddFiles is the last chance to inject synthetic input files.
	AddFiles(files *InputFiles)
	// PreFlight runs after chunks are built, before any section or
	// segment placement.
	PreFlight(l *Layout)
	// CreateDefaultSections may instantiate extra sections (PLT, GOT).
	CreateDefaultSections(l *Layout)
	DoesOverrideHeader() bool
	SetHeaderInfo(ehdr *OutputEhdr)
	// FinalizeSymbolValues assigns target-specific linker symbols after
	// layout.
	FinalizeSymbolValues(l *Layout) error
	// ApplyRelocation patches one atom's bytes in place. buf aliases the
	// section content for exactly that atom.
	ApplyRelocation(l *Layout, ref *AtomRef, buf []byte) error
}

// DefaultTargetHandler is a no-op handler for targets without
// architecture-specific behavior; concrete handlers embed it and
// override what they need.
type DefaultTargetHandler struct{}

func (DefaultTargetHandler) TargetLayout(def *Layout) *Layout {
	return def
}

func (DefaultTargetHandler) AddFiles(files *InputFiles) {}

func (DefaultTargetHandler) PreFlight(l *Layout) {}

func (DefaultTargetHandler) CreateDefaultSections(l *Layout) {}

func (DefaultTargetHandler) DoesOverrideHeader() bool {
	return false
}

func (DefaultTargetHandler) SetHeaderInfo(ehdr *OutputEhdr) {}

func (DefaultTargetHandler) FinalizeSymbolValues(l *Layout) error {
	return nil
}

func (DefaultTargetHandler) ApplyRelocation(l *Layout, ref *AtomRef, buf []byte) error {
	return nil
}
