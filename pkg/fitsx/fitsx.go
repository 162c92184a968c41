package fitsx

// Reading and writing the primary image of a FITS file, as FloatGrids
// (for calculation) or int16 arrays (for the corrected outputs).

import (
	"errors"
	"fmt"
	"os"

	"github.com/astrogo/fitsio"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
)

var (
	ErrNotImage = errors.New("primary HDU is not a 2-D image")
	ErrBitpix   = errors.New("unsupported BITPIX")
)

// Read loads the primary image from a FITS file, applying BSCALE/BZERO.
func Read(filename string) (g emath.FloatGrid, err error) {
	r, err := os.Open(filename)
	if err != nil {
		return g, fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return g, fmt.Errorf("fits open '%s': %w", filename, err)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return g, fmt.Errorf("'%s': %w", filename, ErrNotImage)
	}

	axes := img.Header().Axes()
	if len(axes) != 2 || axes[0] <= 0 || axes[1] <= 0 {
		return g, fmt.Errorf("'%s' has axes %v: %w", filename, axes, ErrNotImage)
	}

	data, err := readFloats(img, axes[0]*axes[1])
	if err != nil {
		return g, fmt.Errorf("fits read '%s': %w", filename, err)
	}

	bscale, bzero := cardFloat(img.Header(), "BSCALE", 1), cardFloat(img.Header(), "BZERO", 0)
	if bscale != 1 || bzero != 0 {
		for i := range data {
			data[i] = bzero + bscale*data[i]
		}
	}

	return emath.NewFloatGridFrom(axes[0], data)
}

// ReadInt16 loads an int16 primary image, as written by WriteInt16.
func ReadInt16(filename string) (data []int16, w, h int, err error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("fits open '%s': %w", filename, err)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, 0, 0, fmt.Errorf("'%s': %w", filename, ErrNotImage)
	}
	axes := img.Header().Axes()
	if len(axes) != 2 || axes[0] <= 0 || axes[1] <= 0 {
		return nil, 0, 0, fmt.Errorf("'%s' has axes %v: %w", filename, axes, ErrNotImage)
	}
	if bp := img.Header().Bitpix(); bp != 16 {
		return nil, 0, 0, fmt.Errorf("'%s' has BITPIX=%d, want 16: %w", filename, bp, ErrBitpix)
	}

	data = make([]int16, axes[0]*axes[1])
	if err := img.Read(&data); err != nil {
		return nil, 0, 0, fmt.Errorf("fits read '%s': %w", filename, err)
	}

	return data, axes[0], axes[1], nil
}

// WriteInt16 writes a w-wide int16 image as the primary HDU of a new file.
func WriteInt16(filename string, data []int16, w int) error {
	if w <= 0 || len(data)%w != 0 {
		return fmt.Errorf("WriteInt16 '%s': %d values can't be %d wide", filename, len(data), w)
	}
	return write(filename, 16, []int{w, len(data) / w}, data)
}

// WriteGrid writes a grid as a float64 (BITPIX=-64) primary image.
func WriteGrid(filename string, g emath.FloatGrid) error {
	return write(filename, -64, []int{g.Dx(), g.Dy()}, g.Values())
}

func write(filename string, bitpix int, axes []int, data interface{}) (err error) {
	w, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close '%s': %w", filename, cerr)
		}
	}()

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits create '%s': %w", filename, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("fits close '%s': %w", filename, cerr)
		}
	}()

	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()

	if err := img.Write(data); err != nil {
		return fmt.Errorf("fits encode '%s': %w", filename, err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("fits write '%s': %w", filename, err)
	}
	return nil
}

// readFloats decodes n pixels in the image's native BITPIX type, then
// widens them to float64. fitsio won't convert between element sizes.
func readFloats(img fitsio.Image, n int) ([]float64, error) {
	switch bp := img.Header().Bitpix(); bp {
	case 8:
		return readAs[uint8](img, n)
	case 16:
		return readAs[int16](img, n)
	case 32:
		return readAs[int32](img, n)
	case 64:
		return readAs[int64](img, n)
	case -32:
		return readAs[float32](img, n)
	case -64:
		data := make([]float64, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("BITPIX=%d: %w", bp, ErrBitpix)
	}
}

func readAs[T uint8 | int16 | int32 | int64 | float32](img fitsio.Image, n int) ([]float64, error) {
	raw := make([]T, n)
	if err := img.Read(&raw); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

func cardFloat(hdr *fitsio.Header, name string, dflt float64) float64 {
	card := hdr.Get(name)
	if card == nil {
		return dflt
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return dflt
}
