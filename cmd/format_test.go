package cmd

import (
	"testing"

	"github.com/apfscore/apfsro/apfs"
	"github.com/stretchr/testify/require"
)

func TestFormatEntry(t *testing.T) {
	require.Equal(t, "docs/", formatEntry(apfs.DirEntry{Name: "docs", Kind: apfs.EntryDirectory}))
	require.Equal(t, "link@", formatEntry(apfs.DirEntry{Name: "link", Kind: apfs.EntrySymlink}))
	require.Equal(t, "readme.txt", formatEntry(apfs.DirEntry{Name: "readme.txt", Kind: apfs.EntryFile}))
}

func TestEffectivePassphraseFlagTakesPriority(t *testing.T) {
	old := passphrase
	defer func() { passphrase = old }()

	passphrase = "flag-value"
	require.Equal(t, "flag-value", effectivePassphrase())
}
