package suntools

import (
	"bufio"
	"fmt"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// A ColorTable is a palette.ColorMap built from a list of color stops,
// evenly spaced over [Min, Max] and linearly interpolated in RGB (which
// is what matplotlib does with a listed colormap).
type ColorTable struct {
	stops    []colorful.Color
	min, max float64
	alpha    float64
}

// DefaultColormap is used when no colormap file is configured.
func DefaultColormap() palette.ColorMap {
	return moreland.ExtendedBlackBody()
}

// LoadColormap reads color stops, one per line: either "#rrggbb", or
// three numbers "r g b" (in [0,1], or in [0,255] if any exceeds 1).
func LoadColormap(filename string) (*ColorTable, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer r.Close()

	ct := &ColorTable{max: 1, alpha: 1}
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		c, err := parseStop(line)
		if err != nil {
			return nil, fmt.Errorf("'%s' line %d: %w", filename, lineNo, err)
		}
		ct.stops = append(ct.stops, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read '%s': %w", filename, err)
	}
	if len(ct.stops) < 2 {
		return nil, fmt.Errorf("'%s' has %d color stops, need at least 2", filename, len(ct.stops))
	}

	return ct, nil
}

func parseStop(line string) (colorful.Color, error) {
	if strings.HasPrefix(line, "#") {
		return colorful.Hex(line)
	}

	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(fields) != 3 {
		return colorful.Color{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	var rgb [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return colorful.Color{}, err
		}
		rgb[i] = v
	}
	if rgb[0] > 1 || rgb[1] > 1 || rgb[2] > 1 {
		for i := range rgb {
			rgb[i] /= 255
		}
	}
	return colorful.Color{R: rgb[0], G: rgb[1], B: rgb[2]}.Clamped(), nil
}

// Implement palette.ColorMap
func (ct *ColorTable) Max() float64        { return ct.max }
func (ct *ColorTable) Min() float64        { return ct.min }
func (ct *ColorTable) SetMax(v float64)    { ct.max = v }
func (ct *ColorTable) SetMin(v float64)    { ct.min = v }
func (ct *ColorTable) Alpha() float64      { return ct.alpha }
func (ct *ColorTable) SetAlpha(a float64)  { ct.alpha = a }
func (ct *ColorTable) NumStops() int       { return len(ct.stops) }

func (ct *ColorTable) At(v float64) (color.Color, error) {
	switch {
	case math.IsNaN(v):
		return nil, palette.ErrNaN
	case v < ct.min:
		return nil, palette.ErrUnderflow
	case v > ct.max:
		return nil, palette.ErrOverflow
	}

	t := 0.0
	if ct.max > ct.min {
		t = (v - ct.min) / (ct.max - ct.min)
	}
	pos := t * float64(len(ct.stops)-1)
	i := int(pos)
	if i >= len(ct.stops)-1 {
		i = len(ct.stops) - 2
	}
	c := ct.stops[i].BlendRgb(ct.stops[i+1], pos-float64(i)).Clamped()

	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(ct.alpha * 255))}, nil
}

func (ct *ColorTable) Palette(n int) palette.Palette {
	cols := make(colorList, n)
	for i := range cols {
		v := ct.min
		if n > 1 {
			v += (ct.max - ct.min) * float64(i) / float64(n-1)
		}
		cols[i], _ = ct.At(v)
	}
	return cols
}

type colorList []color.Color

func (cl colorList) Colors() []color.Color { return cl }
