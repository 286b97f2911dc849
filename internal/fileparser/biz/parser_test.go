package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	uploadsbiz "github.com/rdm-platform/rdm-backend/internal/uploads/biz"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestChecksumSHA256(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "data.txt", "hello world\n")

	sum, err := ChecksumSHA256(p)
	require.NoError(t, err)

	want := sha256.Sum256([]byte("hello world\n"))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
}

func TestChecksumMissingFile(t *testing.T) {
	_, err := ChecksumSHA256(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestDetectMime(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "page.html", "<!DOCTYPE html><html></html>")

	mime, err := DetectMime(p)
	require.NoError(t, err)
	assert.Contains(t, mime, "text/html")
}

func TestFileInfo(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "data.bin", "1234")

	info, err := FileInfo(p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info["size"])
}

func TestExtractExifNonImage(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "notes.txt", "no pixels here")

	fields, err := ExtractExif(p)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

type memTaskRepo struct {
	order []uuid.UUID
	tasks map[uuid.UUID]*Task
}

func (r *memTaskRepo) Create(ctx context.Context, t *Task) error {
	c := *t
	r.tasks[t.ID] = &c
	r.order = append(r.order, t.ID)
	return nil
}
func (r *memTaskRepo) Update(ctx context.Context, t *Task) error {
	c := *t
	r.tasks[t.ID] = &c
	return nil
}
func (r *memTaskRepo) ListPending(ctx context.Context, limit int) ([]*Task, error) {
	var out []*Task
	for _, id := range r.order {
		if len(out) == limit {
			break
		}
		if t, ok := r.tasks[id]; ok && t.Status == TaskScheduled {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *memTaskRepo) GetByFile(ctx context.Context, fileID uuid.UUID) (*Task, error) {
	for i := len(r.order) - 1; i >= 0; i-- {
		if t, ok := r.tasks[r.order[i]]; ok && t.FileID == fileID {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

type memFileStore struct {
	files map[uuid.UUID]*uploadsbiz.VersionFile
}

func (s *memFileStore) GetByID(ctx context.Context, id uuid.UUID) (*uploadsbiz.VersionFile, error) {
	if f, ok := s.files[id]; ok {
		c := *f
		return &c, nil
	}
	return nil, nil
}
func (s *memFileStore) Update(ctx context.Context, f *uploadsbiz.VersionFile) error {
	c := *f
	s.files[f.ID] = &c
	return nil
}

type memMetadataRepo struct {
	entries map[uuid.UUID]*metadatabiz.Metadata
}

func (r *memMetadataRepo) Create(ctx context.Context, m *metadatabiz.Metadata) error {
	c := *m
	r.entries[m.ID] = &c
	return nil
}
func (r *memMetadataRepo) Update(ctx context.Context, m *metadatabiz.Metadata) error {
	c := *m
	r.entries[m.ID] = &c
	return nil
}
func (r *memMetadataRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.entries, id)
	return nil
}
func (r *memMetadataRepo) GetByID(ctx context.Context, id uuid.UUID) (*metadatabiz.Metadata, error) {
	return r.entries[id], nil
}
func (r *memMetadataRepo) ListForTarget(ctx context.Context, target metadatabiz.TargetRef) ([]*metadatabiz.Metadata, error) {
	var out []*metadatabiz.Metadata
	for _, m := range r.entries {
		if m.Target == target {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *memMetadataRepo) DeleteForTarget(ctx context.Context, target metadatabiz.TargetRef) error {
	for id, m := range r.entries {
		if m.Target == target {
			delete(r.entries, id)
		}
	}
	return nil
}

func (r *memMetadataRepo) ReplaceForTarget(ctx context.Context, target metadatabiz.TargetRef, entries []*metadatabiz.Metadata) error {
	if err := r.DeleteForTarget(ctx, target); err != nil {
		return err
	}
	for _, m := range entries {
		if err := r.Create(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

type memFieldRepo struct{}

func (memFieldRepo) Create(ctx context.Context, f *metadatabiz.Field) error { return nil }
func (memFieldRepo) GetByID(ctx context.Context, id uuid.UUID) (*metadatabiz.Field, error) {
	return nil, nil
}
func (memFieldRepo) GetByKey(ctx context.Context, key string) (*metadatabiz.Field, error) {
	return nil, nil
}
func (memFieldRepo) List(ctx context.Context) ([]*metadatabiz.Field, error) { return nil, nil }

type parserFixture struct {
	uc       *ParserUseCase
	tasks    *memTaskRepo
	files    *memFileStore
	metadata *metadatabiz.MetadataUseCase
	root     string
}

func newParserFixture(t *testing.T) *parserFixture {
	t.Helper()
	log := zap.NewNop()
	tasks := &memTaskRepo{tasks: map[uuid.UUID]*Task{}}
	files := &memFileStore{files: map[uuid.UUID]*uploadsbiz.VersionFile{}}
	metadataUC := metadatabiz.NewMetadataUseCase(&memMetadataRepo{entries: map[uuid.UUID]*metadatabiz.Metadata{}}, memFieldRepo{}, log)
	root := t.TempDir()
	uc := NewParserUseCase(tasks, files, metadataUC, notify.NopNotifier{}, nil, root, log)
	return &parserFixture{uc: uc, tasks: tasks, files: files, metadata: metadataUC, root: root}
}

func (fx *parserFixture) addFile(t *testing.T, name, content string) *uploadsbiz.VersionFile {
	t.Helper()
	rel := "temp/owner/2026/08/26/" + name
	abs := filepath.Join(fx.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	f := &uploadsbiz.VersionFile{
		ID:        uuid.New(),
		Name:      name,
		Path:      rel,
		Status:    uploadsbiz.StatusScheduled,
		CreatedAt: time.Now(),
	}
	fx.files.files[f.ID] = f
	return f
}

func TestScheduleForFileDeduplicates(t *testing.T) {
	fx := newParserFixture(t)
	ctx := context.Background()
	fileID := uuid.New()

	require.NoError(t, fx.uc.ScheduleForFile(ctx, fileID))
	require.NoError(t, fx.uc.ScheduleForFile(ctx, fileID))
	assert.Len(t, fx.tasks.order, 1)
}

func TestRunBatchParsesFile(t *testing.T) {
	fx := newParserFixture(t)
	ctx := context.Background()
	f := fx.addFile(t, "readings.csv", "a,b\n1,2\n")
	require.NoError(t, fx.uc.ScheduleForFile(ctx, f.ID))

	started, err := fx.uc.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	stored, err := fx.files.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, uploadsbiz.StatusFinished, stored.Status)

	entries, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: f.ID})
	require.NoError(t, err)
	byKey := map[string]*metadatabiz.Metadata{}
	for _, e := range entries {
		byKey[e.Key()] = e
	}
	require.Contains(t, byKey, metadatabiz.KeyChecksumSHA256)
	require.Contains(t, byKey, metadatabiz.KeyMimeType)
	require.Contains(t, byKey, metadatabiz.KeyFileInformation)
	assert.True(t, byKey[metadatabiz.KeyChecksumSHA256].ReadOnly)
	assert.Len(t, byKey[metadatabiz.KeyChecksumSHA256].ValueString(), 64)

	task, err := fx.tasks.GetByFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskFinished, task.Status)
}

func TestRunBatchMarksErrorOnMissingBytes(t *testing.T) {
	fx := newParserFixture(t)
	ctx := context.Background()
	f := &uploadsbiz.VersionFile{
		ID:     uuid.New(),
		Name:   "ghost.dat",
		Path:   "temp/owner/2026/08/26/ghost.dat",
		Status: uploadsbiz.StatusScheduled,
	}
	fx.files.files[f.ID] = f
	require.NoError(t, fx.uc.ScheduleForFile(ctx, f.ID))

	_, err := fx.uc.RunBatch(ctx, 10)
	require.NoError(t, err)

	stored, err := fx.files.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, uploadsbiz.StatusError, stored.Status)

	task, err := fx.tasks.GetByFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskError, task.Status)
	assert.NotEmpty(t, task.LastError)
}

func TestRunBatchSkipsReferencedFiles(t *testing.T) {
	fx := newParserFixture(t)
	ctx := context.Background()
	f := &uploadsbiz.VersionFile{
		ID:         uuid.New(),
		Name:       "mounted.nc",
		Referenced: true,
		Status:     uploadsbiz.StatusScheduled,
	}
	fx.files.files[f.ID] = f
	require.NoError(t, fx.uc.ScheduleForFile(ctx, f.ID))

	_, err := fx.uc.RunBatch(ctx, 10)
	require.NoError(t, err)

	stored, err := fx.files.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, uploadsbiz.StatusFinished, stored.Status)

	entries, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: f.ID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunBatchHonorsLimit(t *testing.T) {
	fx := newParserFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f := fx.addFile(t, "f"+string(rune('a'+i))+".txt", "x")
		require.NoError(t, fx.uc.ScheduleForFile(ctx, f.ID))
	}

	started, err := fx.uc.RunBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
}
