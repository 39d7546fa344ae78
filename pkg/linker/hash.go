package linker

import "debug/elf"

// ElfHash is the standard SysV ELF hash over a symbol name.
func ElfHash(name string) uint32 {
	h := uint32(0)
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		g := h & 0xF0000000
		if g != 0 {
			h ^= g >> 24
		}
		h &= ^g
	}
	return h
}

var hashPrimes = []uint32{
	1, 3, 17, 37, 67, 97, 131, 197, 263, 521, 1031, 2053, 4099, 8209,
	16411, 32771,
}

func selectBucketCount(nsyms uint32) uint32 {
	n := hashPrimes[0]
	for _, p := range hashPrimes {
		if p > nsyms {
			break
		}
		n = p
	}
	return n
}

// HashSection lays out the SysV hash table over the dynamic symbol
// table: nbucket, nchain, the bucket heads and the chain links.
type HashSection struct {
	Chunk

	dynsym  *SymbolTable
	buckets []uint32
	chains  []uint32
}

func NewHashSection(dynsym *SymbolTable) *HashSection {
	h := &HashSection{
		Chunk:  NewChunk(".hash", ChunkKindELFSection),
		dynsym: dynsym,
	}
	h.Shdr.Type = uint32(elf.SHT_HASH)
	h.Shdr.Flags = uint64(elf.SHF_ALLOC)
	h.Shdr.Addralign = 8
	h.Shdr.Entsize = 4
	return h
}

func (h *HashSection) UpdateShdr(l *Layout) {
	nchain := uint32(h.dynsym.NumSymbols())
	nbucket := selectBucketCount(nchain)
	h.Shdr.Size = uint64(2+nbucket+nchain) * 4
}

func (h *HashSection) Finalize(l *Layout) error {
	// settle the dynamic symbol order first, the chains index into it
	if err := h.dynsym.Finalize(l); err != nil {
		return err
	}

	nchain := uint32(h.dynsym.NumSymbols())
	nbucket := selectBucketCount(nchain)

	h.buckets = make([]uint32, nbucket)
	h.chains = make([]uint32, nchain)
	for i := uint32(1); i < nchain; i++ {
		b := ElfHash(h.dynsym.SymbolName(int(i))) % nbucket
		h.chains[i] = h.buckets[b]
		h.buckets[b] = i
	}
	return nil
}

func (h *HashSection) CopyBuf(l *Layout) {
	base := l.Buf[h.Shdr.Offset:]
	l.Kind.PutWord(base, uint32(len(h.buckets)))
	l.Kind.PutWord(base[4:], uint32(len(h.chains)))
	pos := uint64(8)
	for _, b := range h.buckets {
		l.Kind.PutWord(base[pos:], b)
		pos += 4
	}
	for _, c := range h.chains {
		l.Kind.PutWord(base[pos:], c)
		pos += 4
	}
}
