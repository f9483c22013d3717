package bin

import (
	"debug/elf"
	"debug/pe"
	"io"
	"os"
	"sort"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
)

// Image is a loaded binary executable image. Addresses within the image are
// specified relative to its base address (RVA).
type Image struct {
	// Path of the binary executable; empty for in-memory images.
	Path string
	// Preferred base address of the image.
	Base Addr
	// Entry point RVA of the image.
	Entry Addr
	// Architecture name of the image ("x86", "x86_64", "arm64"); empty if
	// unknown.
	Arch string
	// Sections of the image, sorted by RVA.
	Sections []*Section
	// Maps from RVA to symbol name.
	Symbols map[Addr]string

	closer io.Closer
}

// Section is a mapped section of an image.
type Section struct {
	// Section name.
	Name string
	// RVA of the first byte of the section.
	RVA Addr
	// Section contents.
	Data []byte
	// Specifies whether the section contains executable code.
	Exec bool
}

// Contains reports whether the given RVA is mapped by the section.
func (sect *Section) Contains(rva Addr) bool {
	return rva >= sect.RVA && rva-sect.RVA < Addr(len(sect.Data))
}

// NewRaw returns a new image consisting of a single executable section
// containing data, mapped at RVA 0.
func NewRaw(base Addr, arch string, data []byte) *Image {
	return &Image{
		Base: base,
		Arch: arch,
		Sections: []*Section{
			{Name: ".text", Data: data, Exec: true},
		},
		Symbols: make(map[Addr]string),
	}
}

// Open opens the given binary executable. PE and ELF files are recognized
// based on their magic bytes; any other file is loaded as a raw blob mapped at
// base address 0.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unable to read magic of %q", path)
	}
	var img *Image
	switch {
	case string(magic[:2]) == "MZ":
		img, err = openPE(f)
	case string(magic) == elf.ELFMAG:
		img, err = openELF(f)
	default:
		img, err = openRaw(f)
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unable to load %q", path)
	}
	img.Path = path
	img.closer = f
	sort.Slice(img.Sections, func(i, j int) bool {
		return img.Sections[i].RVA < img.Sections[j].RVA
	})
	return img, nil
}

// Close releases the file backing the image.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	err := img.closer.Close()
	img.closer = nil
	return errors.WithStack(err)
}

// BaseAddress returns the preferred base address of the image.
func (img *Image) BaseAddress() uint64 {
	return uint64(img.Base)
}

// Slice returns the mapped bytes of the image starting at the given RVA and
// extending to the end of the containing section. The returned slice is empty
// if rva is not mapped.
func (img *Image) Slice(rva uint64) []byte {
	sect := img.SectionAt(Addr(rva))
	if sect == nil {
		return nil
	}
	return sect.Data[Addr(rva)-sect.RVA:]
}

// SectionAt returns the section mapping the given RVA, or nil if unmapped.
func (img *Image) SectionAt(rva Addr) *Section {
	i := sort.Search(len(img.Sections), func(i int) bool {
		sect := img.Sections[i]
		return sect.RVA+Addr(len(sect.Data)) > rva
	})
	if i < len(img.Sections) && img.Sections[i].Contains(rva) {
		return img.Sections[i]
	}
	return nil
}

// SymbolName returns the demangled name of the symbol at the given RVA.
func (img *Image) SymbolName(rva Addr) (string, bool) {
	name, ok := img.Symbols[rva]
	if !ok {
		return "", false
	}
	return demangle.Filter(name), true
}

// ### [ Helper functions ] ####################################################

// openPE loads the sections and symbols of the given PE file.
func openPE(r io.ReaderAt) (*Image, error) {
	file, err := pe.NewFile(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	img := &Image{Symbols: make(map[Addr]string)}
	switch optHdr := file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.Base = Addr(optHdr.ImageBase)
		img.Entry = Addr(optHdr.AddressOfEntryPoint)
	case *pe.OptionalHeader64:
		img.Base = Addr(optHdr.ImageBase)
		img.Entry = Addr(optHdr.AddressOfEntryPoint)
	default:
		return nil, errors.New("missing PE optional header")
	}
	switch file.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		img.Arch = "x86"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		img.Arch = "x86_64"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		img.Arch = "arm64"
	}
	for _, sect := range file.Sections {
		data, err := sect.Data()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		img.Sections = append(img.Sections, &Section{
			Name: sect.Name,
			RVA:  Addr(sect.VirtualAddress),
			Data: data,
			Exec: isExec(sect),
		})
	}
	for _, sym := range file.Symbols {
		// Symbols of section N are relative to the start of that section.
		if sym.SectionNumber <= 0 || int(sym.SectionNumber) > len(file.Sections) {
			continue
		}
		sect := file.Sections[sym.SectionNumber-1]
		img.Symbols[Addr(sect.VirtualAddress)+Addr(sym.Value)] = sym.Name
	}
	return img, nil
}

// openELF loads the allocated sections and function symbols of the given ELF
// file.
func openELF(r io.ReaderAt) (*Image, error) {
	file, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	img := &Image{Symbols: make(map[Addr]string)}
	base := ^uint64(0)
	for _, prog := range file.Progs {
		if prog.Type == elf.PT_LOAD && prog.Vaddr < base {
			base = prog.Vaddr
		}
	}
	if base == ^uint64(0) {
		base = 0
	}
	img.Base = Addr(base)
	img.Entry = Addr(file.Entry - base)
	switch file.Machine {
	case elf.EM_386:
		img.Arch = "x86"
	case elf.EM_X86_64:
		img.Arch = "x86_64"
	case elf.EM_AARCH64:
		img.Arch = "arm64"
	}
	for _, sect := range file.Sections {
		if sect.Flags&elf.SHF_ALLOC == 0 || sect.Type != elf.SHT_PROGBITS {
			continue
		}
		data, err := sect.Data()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		img.Sections = append(img.Sections, &Section{
			Name: sect.Name,
			RVA:  Addr(sect.Addr - base),
			Data: data,
			Exec: sect.Flags&elf.SHF_EXECINSTR != 0,
		})
	}
	// Stripped binaries have no static symbol table; fall back to dynamic
	// symbols.
	syms, err := file.Symbols()
	if err != nil || len(syms) == 0 {
		syms, _ = file.DynamicSymbols()
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 {
			continue
		}
		img.Symbols[Addr(sym.Value-base)] = sym.Name
	}
	return img, nil
}

// openRaw loads the contents of the given file as a single executable
// section.
func openRaw(f *os.File) (*Image, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewRaw(0, "", data), nil
}

// isExec reports whether the given section is executable.
func isExec(sect *pe.Section) bool {
	const codeMask = 0x00000020
	return sect.Characteristics&codeMask != 0
}
