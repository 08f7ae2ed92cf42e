// Package buildinfo carries build-time metadata separate from user configuration
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not inject
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetSystemID() string
}

// Context contains build-time metadata that is not user-configurable.
// It is injected at startup from linker flags and the persisted system ID.
type Context struct {
	Version   string
	BuildDate string
	SystemID  string // anonymous station identifier for error reports
}

// NewContext creates a build context
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  systemID,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// GetSystemID implements BuildInfo.GetSystemID
func (c *Context) GetSystemID() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.SystemID)
}

// Release is the release name reported to error tracking
func (c *Context) Release() string {
	return fmt.Sprintf("scanner-go@%s", c.GetVersion())
}
