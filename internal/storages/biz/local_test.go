package biz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return abs
}

func publishedContext(path, name string) FileContext {
	return FileContext{
		Published: true,
		Path:      path,
		Name:      name,
		OwnerID:   uuid.New(),
		ProjectID: uuid.New(),
		FolderID:  uuid.New(),
	}
}

func TestTempPathLayout(t *testing.T) {
	owner := uuid.New()
	fc := FileContext{
		Name:       "scan.tiff",
		OwnerID:    owner,
		UploadedAt: time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "temp/"+owner.String()+"/2026/03/07/scan.tiff", fc.TempPath())
}

func TestLocalTargetPath(t *testing.T) {
	b := NewLocalBackend("/media", "local", zap.NewNop())

	fc := publishedContext("temp/x/scan.tiff", "scan.tiff")
	target, err := b.TargetPath(fc)
	require.NoError(t, err)
	assert.Equal(t, "local/"+fc.ProjectID.String()+"/"+fc.FolderID.String()+"/scan.tiff", target)

	fc.Published = false
	target, err = b.TargetPath(fc)
	require.NoError(t, err)
	assert.Equal(t, fc.TempPath(), target)
}

func TestLocalMoveFile(t *testing.T) {
	root := t.TempDir()
	b := NewLocalBackend(root, "local", zap.NewNop())

	fc := publishedContext("", "scan.tiff")
	fc.Path = fc.TempPath()
	writeFile(t, root, fc.Path, "payload")

	moved, newPath, err := b.MoveFile(context.Background(), fc)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "local/"+fc.ProjectID.String()+"/"+fc.FolderID.String()+"/scan.tiff", newPath)

	content, err := os.ReadFile(filepath.Join(root, newPath))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	_, err = os.Stat(filepath.Join(root, fc.Path))
	assert.True(t, os.IsNotExist(err), "source is removed")
}

func TestLocalMoveFileSameDirIsNoop(t *testing.T) {
	root := t.TempDir()
	b := NewLocalBackend(root, "local", zap.NewNop())

	fc := publishedContext("", "scan.tiff")
	fc.Path = filepath.ToSlash(filepath.Join("local", fc.ProjectID.String(), fc.FolderID.String(), "scan.tiff"))
	writeFile(t, root, fc.Path, "payload")

	moved, newPath, err := b.MoveFile(context.Background(), fc)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, fc.Path, newPath)
}

func TestLocalMoveFileMissingSource(t *testing.T) {
	root := t.TempDir()
	b := NewLocalBackend(root, "local", zap.NewNop())

	fc := publishedContext("", "absent.dat")
	fc.Path = fc.TempPath()

	moved, newPath, err := b.MoveFile(context.Background(), fc)
	require.NoError(t, err, "missing sources are logged, not fatal")
	assert.False(t, moved)
	assert.Equal(t, fc.Path, newPath)
}

func TestLocalMoveFileCollisionGetsSuffix(t *testing.T) {
	root := t.TempDir()
	b := NewLocalBackend(root, "local", zap.NewNop())

	fc := publishedContext("", "scan.tiff")
	fc.Path = fc.TempPath()
	writeFile(t, root, fc.Path, "new")

	occupied := filepath.Join("local", fc.ProjectID.String(), fc.FolderID.String(), "scan.tiff")
	writeFile(t, root, occupied, "old")

	moved, newPath, err := b.MoveFile(context.Background(), fc)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, filepath.ToSlash(filepath.Join("local", fc.ProjectID.String(), fc.FolderID.String(), "scan_1.tiff")), newPath)

	old, err := os.ReadFile(filepath.Join(root, occupied))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old), "existing file is preserved")
}

func TestLocalRemoveMissingIsSilent(t *testing.T) {
	b := NewLocalBackend(t.TempDir(), "local", zap.NewNop())
	assert.NoError(t, b.Remove(context.Background(), "temp/nope/gone.dat"))
}

func TestMountTargetPathReferenced(t *testing.T) {
	b := NewMountBackend("/mnt/dss", "groups/ag-wolf", "/media", zap.NewNop())

	fc := FileContext{
		Referenced:   true,
		OriginalPath: "raw/scan.tiff",
		Name:         "scan.tiff",
	}
	target, err := b.TargetPath(fc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/mnt/dss", "groups/ag-wolf", "raw/scan.tiff"), target)
}

func TestMountMoveFileReferencedNeverMoves(t *testing.T) {
	b := NewMountBackend(t.TempDir(), "sub", t.TempDir(), zap.NewNop())

	fc := FileContext{Referenced: true, Path: "/mnt/dss/sub/raw/scan.tiff"}
	moved, newPath, err := b.MoveFile(context.Background(), fc)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, fc.Path, newPath)
}

func TestMountMoveFilePublishes(t *testing.T) {
	mountRoot := t.TempDir()
	mediaRoot := t.TempDir()
	b := NewMountBackend(mountRoot, "ag-wolf", mediaRoot, zap.NewNop())

	fc := publishedContext("", "scan.tiff")
	fc.Path = fc.TempPath()
	writeFile(t, mediaRoot, fc.Path, "payload")

	moved, newPath, err := b.MoveFile(context.Background(), fc)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, filepath.Join(mountRoot, "ag-wolf", fc.ProjectID.String(), fc.FolderID.String(), "scan.tiff"), newPath)

	content, err := os.ReadFile(newPath)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestProbeMount(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, ProbeMount(dir, false, 1, time.Millisecond))
	assert.False(t, ProbeMount(filepath.Join(dir, "missing"), false, 2, time.Millisecond))
	assert.True(t, ProbeMount(filepath.Join(dir, "missing"), true, 1, time.Millisecond), "dev shortcut skips probing")
}
