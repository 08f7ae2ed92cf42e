package detection

import "math"

// DropReason classifies why a raw candidate was rejected
type DropReason int

const (
	DropInvalidConfidence DropReason = iota // NaN, negative or above 1
	DropBelowThreshold
	DropUnknownClass
	DropInvalidBox
	numDropReasons
)

// String returns the metric label for the reason
func (r DropReason) String() string {
	switch r {
	case DropInvalidConfidence:
		return "invalid_confidence"
	case DropBelowThreshold:
		return "below_threshold"
	case DropUnknownClass:
		return "unknown_class"
	case DropInvalidBox:
		return "invalid_box"
	default:
		return "unknown"
	}
}

// Drops counts rejected candidates per reason
type Drops [numDropReasons]int

// Total returns the number of rejected candidates
func (d Drops) Total() int {
	n := 0
	for _, c := range d {
		n += c
	}
	return n
}

// Filter validates raw detector output against cfg. Candidates are checked in
// input order and survivors keep that order. Malformed candidates are dropped,
// never reported as errors.
func Filter(raw []RawCandidate, cfg Config) []Detection {
	out, _ := FilterWithDrops(raw, cfg)
	return out
}

// FilterWithDrops is Filter that also reports how many candidates were
// rejected and why.
func FilterWithDrops(raw []RawCandidate, cfg Config) ([]Detection, Drops) {
	var drops Drops
	out := make([]Detection, 0, len(raw))

	for _, c := range raw {
		reason, ok := check(c, cfg)
		if !ok {
			drops[reason]++
			continue
		}
		// check guarantees the index is in range
		name, _ := cfg.Registry.Name(c.ClassID)
		out = append(out, Detection{
			ClassName:  name,
			ClassID:    c.ClassID,
			Confidence: c.Confidence,
			Box:        c.Box,
		})
	}

	return out, drops
}

func check(c RawCandidate, cfg Config) (DropReason, bool) {
	switch {
	case math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1:
		return DropInvalidConfidence, false
	case c.Confidence < cfg.ConfidenceThreshold:
		return DropBelowThreshold, false
	case c.ClassID < 0 || c.ClassID >= cfg.Registry.Len():
		return DropUnknownClass, false
	case !c.Box.Valid():
		return DropInvalidBox, false
	}
	return 0, true
}
