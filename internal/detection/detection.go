// Package detection provides the core domain model for equipment detections.
// RawCandidate is what a detector backend hands back and is never trusted;
// Detection is the validated form produced by Filter and used everywhere else.
package detection

import (
	"encoding/json"
	"fmt"
	"math"
)

// BBox is an axis aligned box in source image pixels, (X1,Y1) top-left.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Valid reports whether all coordinates are finite and the box is not inverted.
// Zero-area boxes are accepted.
func (b BBox) Valid() bool {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 <= b.X2 && b.Y1 <= b.Y2
}

// Ints returns the box as integer pixel coordinates, truncated toward zero.
func (b BBox) Ints() [4]int {
	return [4]int{int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)}
}

// Width returns X2-X1
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns Y2-Y1
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// RawCandidate is a single untrusted detector output row.
type RawCandidate struct {
	ClassID    int
	Confidence float64
	Box        BBox
}

// Detection is a validated candidate. ClassName is always a registry entry,
// Confidence is at or above the threshold in force when it was filtered and
// Box is valid.
type Detection struct {
	ClassName  string
	ClassID    int
	Confidence float64
	Box        BBox
}

// detectionJSON is the stable external shape consumed by renderers and exports
type detectionJSON struct {
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
}

// MarshalJSON encodes the detection as {"bbox":[x1,y1,x2,y2],"confidence","class","class_id"}
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal(detectionJSON{
		BBox:       d.Box.Ints(),
		Confidence: d.Confidence,
		Class:      d.ClassName,
		ClassID:    d.ClassID,
	})
}

// UnmarshalJSON decodes the external shape. Coordinates come back as whole pixels.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var dj detectionJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return err
	}
	*d = Detection{
		ClassName:  dj.Class,
		ClassID:    dj.ClassID,
		Confidence: dj.Confidence,
		Box: BBox{
			X1: float64(dj.BBox[0]),
			Y1: float64(dj.BBox[1]),
			X2: float64(dj.BBox[2]),
			Y2: float64(dj.BBox[3]),
		},
	}
	return nil
}

// String implements fmt.Stringer for log output
func (d Detection) String() string {
	return fmt.Sprintf("%s %.1f%% %v", d.ClassName, d.Confidence*100, d.Box.Ints())
}
