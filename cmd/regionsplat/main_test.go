package main

import (
	"bytes"
	"flag"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionsplat/pkg/errs"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "c.yaml", []byte("processing:\n  workers: 6\noutput:\n  format: gif\n  elementType: uint16\n"), 0o644))

	var c common
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	c.register(set)
	require.NoError(t, set.Parse([]string{"-config", "c.yaml", "-format", "tiff"}))

	cfg, err := c.load(fs, set)
	require.NoError(t, err)
	assert.Equal(t, "tiff", cfg.Output.Format)
	assert.Equal(t, "uint16", cfg.Output.ElementType)
	assert.Equal(t, 6, cfg.Processing.Workers, "an unset -p must not override the file")
}

func TestLoadRejectsInvalidFlags(t *testing.T) {
	var c common
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	c.register(set)
	require.NoError(t, set.Parse([]string{"-format", "png", "-element-dtype", "float64"}))
	_, err := c.load(memfs.New(), set)
	assert.Error(t, err)
}

func TestLoadRequiresFormat(t *testing.T) {
	var c common
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	c.register(set)
	require.NoError(t, set.Parse(nil))
	_, err := c.load(memfs.New(), set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.format is required")

	var stderr bytes.Buffer
	err = runSplit(memfs.New(), []string{"missing.tif"}, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.format is required")
}

func TestRunMaskedNeedsArguments(t *testing.T) {
	var stderr bytes.Buffer
	err := runMasked(memfs.New(), []string{"mask.tif"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "usage: regionsplat masked")
}

func TestRunSplitReportsMissingMask(t *testing.T) {
	var stderr bytes.Buffer
	err := runSplit(memfs.New(), []string{"-format", "png", "-o", "out", "missing.tif"}, &stderr)
	assert.ErrorIs(t, err, errs.ErrResource)
}

func TestCommandTable(t *testing.T) {
	for _, name := range []string{"masked", "split"} {
		_, ok := commands[name]
		assert.True(t, ok, name)
	}
	var buf bytes.Buffer
	usage(&buf)
	assert.Contains(t, buf.String(), "masked")
	assert.Contains(t, buf.String(), "split")
}
