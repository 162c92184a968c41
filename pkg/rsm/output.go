package rsm

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/plot/palette"

	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/framekey"
	"github.com/abworrall/rsm-calibrate/pkg/suntools"
)

const (
	OutputPNG  = "png"
	OutputFITS = "fts"
)

// LoadColormap returns the colormap for png output: the configured file,
// or the default black body map.
func LoadColormap(cfg Config) (palette.ColorMap, error) {
	if cfg.ColormapFile == "" {
		return suntools.DefaultColormap(), nil
	}
	ct, err := suntools.LoadColormap(cfg.ColormapFile)
	if err != nil {
		return nil, fmt.Errorf("%w: colormap: %w", ErrSetup, err)
	}
	return ct, nil
}

// WriteSummaries writes each accumulator into dir as sum<idx>.<mode>. The
// colormap is only used for png.
func WriteSummaries(dir, mode string, accs []*Accumulator, cmap palette.ColorMap, m *Metrics) error {
	for _, acc := range accs {
		fn := filepath.Join(dir, framekey.SummaryName(acc.ScanIndex, mode))
		var err error
		switch mode {
		case OutputPNG:
			err = WritePNG(acc, cmap, fn)
		case OutputFITS:
			err = fitsx.WriteInt16(fn, acc.Data, acc.Width)
		default:
			err = fmt.Errorf("no output mode named '%s'", mode)
		}
		if err != nil {
			return err
		}
		m.summaryWritten()
	}
	return nil
}

// RenderImage maps the accumulator through cmap, scaled so that its
// smallest value gets the bottom color and its largest the top.
func RenderImage(acc *Accumulator, cmap palette.ColorMap) image.Image {
	lo, hi := 0.0, 0.0
	for i, v := range acc.Data {
		if f := float64(v); i == 0 || f < lo {
			lo = f
		}
		if f := float64(v); i == 0 || f > hi {
			hi = f
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	cmap.SetMin(lo)
	cmap.SetMax(hi)

	img := image.NewNRGBA(image.Rect(0, 0, acc.Width, acc.Rows))
	for y := 0; y < acc.Rows; y++ {
		for x, v := range acc.Row(y) {
			c, err := cmap.At(float64(v))
			if err != nil {
				c = color.Black
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func WritePNG(acc *Accumulator, cmap palette.ColorMap, filename string) error {
	img := RenderImage(acc, cmap)
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	} else {
		defer writer.Close()
		if err := png.Encode(writer, img); err != nil {
			return fmt.Errorf("png '%s': %w", filename, err)
		}
		return writer.Close()
	}
}
