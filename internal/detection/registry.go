package detection

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/stationsafe/scanner-go/internal/errors"
)

// ClassRegistry maps detector label indices to class names. Position i must be
// the label the model was trained with at index i; nothing here can verify that,
// so a mismatched registry silently mislabels detections.
type ClassRegistry []string

// NewClassRegistry copies names into a registry after checking that it is
// non-empty with unique, non-blank entries.
func NewClassRegistry(names []string) (ClassRegistry, error) {
	if len(names) == 0 {
		return nil, errors.Newf("class registry is empty").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, errors.Newf("class registry entry %d is blank", i).
				Component("detection").
				Category(errors.CategoryValidation).
				Context("index", i).
				Build()
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Newf("class registry contains %q more than once", name).
				Component("detection").
				Category(errors.CategoryValidation).
				Context("class", name).
				Build()
		}
		seen[name] = struct{}{}
	}

	return slices.Clone(ClassRegistry(names)), nil
}

// Len returns the number of classes
func (r ClassRegistry) Len() int { return len(r) }

// Name returns the class name for a detector label index.
func (r ClassRegistry) Name(id int) (string, bool) {
	if id < 0 || id >= len(r) {
		return "", false
	}
	return r[id], true
}

// Index returns the label index of name, or -1.
func (r ClassRegistry) Index(name string) int {
	return slices.Index(r, name)
}

// Names returns a copy of the registry in label order
func (r ClassRegistry) Names() []string {
	return slices.Clone(r)
}

// Config holds the filter parameters that may change at runtime.
type Config struct {
	ConfidenceThreshold float64
	Registry            ClassRegistry
}

// Validate checks the threshold range and that a registry is present.
func (c Config) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Newf("confidence threshold must be between 0 and 1, got %v", c.ConfidenceThreshold).
			Component("detection").
			Category(errors.CategoryValidation).
			Context("threshold", c.ConfidenceThreshold).
			Build()
	}
	if c.Registry.Len() == 0 {
		return errors.Newf("class registry is empty").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// WithThreshold returns a copy of c with a new threshold
func (c Config) WithThreshold(threshold float64) Config {
	c.ConfidenceThreshold = threshold
	return c
}

// String implements fmt.Stringer
func (c Config) String() string {
	return fmt.Sprintf("threshold=%.2f classes=%v", c.ConfidenceThreshold, []string(c.Registry))
}
