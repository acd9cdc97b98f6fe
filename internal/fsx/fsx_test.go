package fsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)

	_, err = g.Resolve("../../etc/passwd")
	require.Error(t, err)

	ok, err := g.Resolve("acme_paris_nord/database/sales.sql.gz")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(ok))
}

func TestMoveRelocatesIntoNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)

	src := filepath.Join(root, "a.json")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	dst := filepath.Join(root, "sub", "b.json")
	require.NoError(t, g.Move(src, dst))

	_, statErr := os.Stat(src)
	require.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "content", string(data))
}

func TestCopyOverwritesAndPreservesContent(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)

	src := filepath.Join(root, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("xyz"), 0o644))
	dst := filepath.Join(root, "nested", "dst.bin")

	require.NoError(t, g.Copy(src, dst))
	require.NoError(t, g.Copy(src, dst)) // idempotent overwrite

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "xyz", string(data))
}

func TestDeleteMissingIsNoop(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)

	require.NoError(t, g.Delete(filepath.Join(root, "nope.json")))
}

func TestListDirMissingReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)

	entries, err := g.ListDir(filepath.Join(root, "nope"))
	require.NoError(t, err)
	require.Empty(t, entries)
}
