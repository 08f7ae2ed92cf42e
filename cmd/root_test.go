package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/buildinfo"
	"github.com/stationsafe/scanner-go/internal/conf"
)

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := RootCommand(settings, buildinfo.NewContext("1.2.0", "2026-10-01", ""))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{}, nil)
	t.Cleanup(viper.Reset)

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"realtime", "file", "config", "version"})
}

func TestVersionSkipsValidation(t *testing.T) {
	// empty settings fail validation, version must still run
	out, err := execute(t, &conf.Settings{}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scanner 1.2.0 (built 2026-10-01)")
}

func TestConfigSkipsValidation(t *testing.T) {
	settings := &conf.Settings{}
	settings.Detector.ModelPath = "best.onnx"
	out, err := execute(t, settings, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "best.onnx")
}

func TestFlagsOverrideSettings(t *testing.T) {
	settings := &conf.Settings{}
	_, err := execute(t, settings, "--threshold", "0.75", "--model", "weights/best.onnx", "--debug", "version")
	require.NoError(t, err)

	assert.InDelta(t, 0.75, settings.Detector.Threshold, 1e-9)
	assert.Equal(t, "weights/best.onnx", settings.Detector.ModelPath)
	assert.True(t, settings.Debug)
	assert.InDelta(t, 0.75, viper.GetFloat64("detector.threshold"), 1e-9)
}

func TestInvalidSettingsBlockPipelineCommands(t *testing.T) {
	settings := &conf.Settings{}
	settings.Detector.Threshold = 2
	_, err := execute(t, settings, "file", "image.png")
	require.Error(t, err)

	var ve conf.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Errors)
}
