package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextGetters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		ctx           *Context
		wantVersion   string
		wantBuildDate string
		wantSystemID  string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty fields", NewContext("", "", ""), UnknownValue, UnknownValue, UnknownValue},
		{"populated", NewContext("1.2.0", "2026-10-01", "ABCD-1234-EF56"), "1.2.0", "2026-10-01", "ABCD-1234-EF56"},
		{"pre-release", NewContext("1.2.0-rc.1", "", ""), "1.2.0-rc.1", UnknownValue, UnknownValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantVersion, tt.ctx.GetVersion())
			assert.Equal(t, tt.wantBuildDate, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.wantSystemID, tt.ctx.GetSystemID())
		})
	}
}

func TestContextImplementsBuildInfo(t *testing.T) {
	t.Parallel()
	var info BuildInfo = NewContext("1.0.0", "2026-01-01", "")
	assert.Equal(t, "1.0.0", info.GetVersion())
}

func TestRelease(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "scanner-go@1.0.0", NewContext("1.0.0", "", "").Release())
	assert.Equal(t, "scanner-go@unknown", (*Context)(nil).Release())
}
