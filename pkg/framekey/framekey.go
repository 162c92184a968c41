package framekey

// The RSM instrument encodes where a frame sits in a scan in its filename,
// at fixed character offsets. Every stage uses this package to read and
// write those names, so the offsets live in exactly one place.
//
//   RSM 2021   12     22T060105   -   0008-     0001       .fts
//   012 3456   78     901234567   8   90123     4567       8901
//       [year] [mon]  [day_seq]       [index]   [position]

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrBadName = errors.New("not an RSM frame name")

// Window is one of the two spectral windows a corrected frame is split into.
type Window string

const (
	WindowHa Window = "HA"
	WindowFe Window = "FE"
)

const (
	RawExt       = ".fts"
	CorrectedExt = ".fits"

	rawLen       = 32
	correctedLen = 38
)

// A FrameKey is everything the filename tells us about a frame.
type FrameKey struct {
	Year         string
	Month        string
	DaySeq       string
	ScanIndex    int
	ScanPosition int
}

func (k FrameKey) String() string {
	return fmt.Sprintf("%s-%s-%s[%04d/%04d]", k.Year, k.Month, k.DaySeq, k.ScanIndex, k.ScanPosition)
}

// ParseRaw decodes a raw frame name, e.g. RSM20211222T060105-0008-0001.fts
func ParseRaw(name string) (FrameKey, error) {
	if len(name) != rawLen || name[0:3] != "RSM" || name[18] != '-' || name[23] != '-' || name[28:] != RawExt {
		return FrameKey{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return decode(name, name[3:7], name[7:9], name[9:18], name[19:23], name[24:28])
}

// RawName is the inverse of ParseRaw.
func RawName(k FrameKey) string {
	return fmt.Sprintf("RSM%s%s%s-%04d-%04d%s", k.Year, k.Month, k.DaySeq, k.ScanIndex, k.ScanPosition, RawExt)
}

// ParseCorrected decodes a corrected window name, e.g. RSM2021-12-22T060105_0008_0001_HA.fits
func ParseCorrected(name string) (FrameKey, Window, error) {
	if len(name) != correctedLen || name[0:3] != "RSM" || name[7] != '-' || name[10] != '-' ||
		name[20] != '_' || name[25] != '_' || name[30] != '_' || name[33:] != CorrectedExt {
		return FrameKey{}, "", fmt.Errorf("%w: %q", ErrBadName, name)
	}

	w := Window(name[31:33])
	if w != WindowHa && w != WindowFe {
		return FrameKey{}, "", fmt.Errorf("%w: %q has window %q", ErrBadName, name, w)
	}

	k, err := decode(name, name[3:7], name[8:10], name[11:20], name[21:25], name[26:30])
	return k, w, err
}

// CorrectedName names the file holding window `w` of the frame `k`.
func CorrectedName(k FrameKey, w Window) string {
	return fmt.Sprintf("RSM%s-%s-%s_%04d_%04d_%s%s", k.Year, k.Month, k.DaySeq, k.ScanIndex, k.ScanPosition, w, CorrectedExt)
}

// SummaryName names the aggregated image for a scan index; ext is "png" or "fts".
func SummaryName(scanIndex int, ext string) string {
	return fmt.Sprintf("sum%d.%s", scanIndex, ext)
}

func decode(name, year, mon, daySeq, index, pos string) (FrameKey, error) {
	if !allDigits(year) || !allDigits(mon) || !allDigits(index) || !allDigits(pos) || !allAlnum(daySeq) {
		return FrameKey{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}

	k := FrameKey{Year: year, Month: mon, DaySeq: daySeq}
	k.ScanIndex, _ = strconv.Atoi(index)
	k.ScanPosition, _ = strconv.Atoi(pos)
	return k, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func allAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') {
			return false
		}
	}
	return len(s) > 0
}
