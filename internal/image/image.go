// Package image loads RAM images for the boot loader.
//
// Raw binaries (.bin and anything unrecognised) are loaded as-is at the
// configured entry address. Intel HEX files (.hex, .ihex) are flattened
// from their lowest address, with gaps between segments filled with 0xFF,
// and are loaded at that lowest address.
//
// Usage:
//
//	img, err := image.Load("app.bin", image.Options{EntryAddress: 0x40000100})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d bytes at 0x%08X\n", img.Len(), img.EntryAddress)
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
)

// DefaultEntryAddress is the RAM address raw binaries are loaded at when no
// address is given.
const DefaultEntryAddress = 0x40000100

// MaxLength is the largest image the address/size header can describe.
const MaxLength = 0x7FFFFFFF

// MaxHexSpan limits how far apart Intel HEX segments may be. Larger spans are
// almost always a flash image given by mistake.
const MaxHexSpan = 16 << 20

// GapFill is written between Intel HEX segments.
const GapFill = 0xFF

// ErrEmpty is returned for images without any bytes.
var ErrEmpty = errors.New("image is empty")

// Format identifies the file format an image was loaded from.
type Format int

const (
	FormatBinary Format = iota
	FormatIntelHex
)

// String returns the format name
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatIntelHex:
		return "ihex"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Image is a RAM image ready for transfer. Data is not modified by the loader
// after Load returns.
type Image struct {
	EntryAddress uint32
	Data         []byte
	Source       string
	Format       Format
}

// Len returns the image length in bytes.
func (img *Image) Len() int {
	return len(img.Data)
}

// End returns the first address past the image.
func (img *Image) End() uint64 {
	return uint64(img.EntryAddress) + uint64(len(img.Data))
}

// Options controls how an image file is interpreted.
type Options struct {
	// EntryAddress is the load address for raw binaries (default
	// DefaultEntryAddress). For Intel HEX files a set value must match the
	// lowest address in the file.
	EntryAddress uint32

	// HasEntry marks EntryAddress as set even when it is zero.
	HasEntry bool
}

// Entry returns the requested load address and whether one was given.
func (o Options) Entry() (uint32, bool) {
	return o.EntryAddress, o.HasEntry || o.EntryAddress != 0
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return FormatIntelHex
	default:
		return FormatBinary
	}
}

// Load reads the whole file at path.
func Load(path string, opts Options) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	var img *Image
	if DetectFormat(path) == FormatIntelHex {
		img, err = ReadIntelHex(f, opts)
	} else {
		img, err = ReadBinary(f, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Source = path
	return img, nil
}

// ReadBinary reads a raw binary image.
func ReadBinary(r io.Reader, opts Options) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxLength+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	entry, ok := opts.Entry()
	if !ok {
		entry = DefaultEntryAddress
	}
	return New(entry, data)
}

// ReadIntelHex reads an Intel HEX image and flattens its segments.
func ReadIntelHex(r io.Reader, opts Options) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("failed to parse Intel HEX: %w", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, ErrEmpty
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Address < segments[j].Address
	})

	low := segments[0].Address
	var high uint64
	for _, s := range segments {
		if end := uint64(s.Address) + uint64(len(s.Data)); end > high {
			high = end
		}
	}
	span := high - uint64(low)
	if span > MaxHexSpan {
		return nil, fmt.Errorf("segments span %d bytes (0x%08X-0x%08X), more than %d",
			span, low, high, MaxHexSpan)
	}
	if entry, ok := opts.Entry(); ok && entry != low {
		return nil, fmt.Errorf("image starts at 0x%08X, not at entry address 0x%08X",
			low, entry)
	}

	img, err := New(low, mem.ToBinary(low, uint32(span), GapFill))
	if err != nil {
		return nil, err
	}
	img.Format = FormatIntelHex
	return img, nil
}

// New builds an image from bytes already in memory. The data is copied.
func New(entry uint32, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxLength {
		return nil, fmt.Errorf("image is %d bytes, maximum is %d", len(data), MaxLength)
	}
	if uint64(entry)+uint64(len(data)) > 1<<32 {
		return nil, fmt.Errorf("image of %d bytes at 0x%08X wraps the address space", len(data), entry)
	}
	return &Image{
		EntryAddress: entry,
		Data:         bytes.Clone(data),
		Format:       FormatBinary,
	}, nil
}

// WriteIntelHex writes img as Intel HEX with 16-byte records.
func WriteIntelHex(w io.Writer, img *Image) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(img.EntryAddress, img.Data); err != nil {
		return fmt.Errorf("failed to add image data: %w", err)
	}
	mem.SetStartAddress(img.EntryAddress)
	if err := mem.DumpIntelHex(w, 16); err != nil {
		return fmt.Errorf("failed to write Intel HEX: %w", err)
	}
	return nil
}
