package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	foldersbiz "github.com/rdm-platform/rdm-backend/internal/folders/biz"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	projectsbiz "github.com/rdm-platform/rdm-backend/internal/projects/biz"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
	storagesbiz "github.com/rdm-platform/rdm-backend/internal/storages/biz"
)

type fakeDatasetRepo struct {
	datasets map[uuid.UUID]*Dataset
}

func (r *fakeDatasetRepo) Create(ctx context.Context, d *Dataset) error {
	c := *d
	r.datasets[d.ID] = &c
	return nil
}
func (r *fakeDatasetRepo) Update(ctx context.Context, d *Dataset) error {
	c := *d
	r.datasets[d.ID] = &c
	return nil
}
func (r *fakeDatasetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.datasets, id)
	return nil
}
func (r *fakeDatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	if d, ok := r.datasets[id]; ok {
		c := *d
		return &c, nil
	}
	return nil, nil
}
func (r *fakeDatasetRepo) ListByFolder(ctx context.Context, folderID uuid.UUID) ([]*Dataset, error) {
	var out []*Dataset
	for _, d := range r.datasets {
		if d.FolderID != nil && *d.FolderID == folderID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *fakeDatasetRepo) CountByFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	list, _ := r.ListByFolder(ctx, folderID)
	return int64(len(list)), nil
}
func (r *fakeDatasetRepo) ListExpiredDrafts(ctx context.Context, now time.Time) ([]*Dataset, error) {
	var out []*Dataset
	for _, d := range r.datasets {
		if d.Expired(now) {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *fakeDatasetRepo) ListLocked(ctx context.Context) ([]*Dataset, error) {
	var out []*Dataset
	for _, d := range r.datasets {
		if d.Lock.Locked {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

// fakeVersionRepo 用插入顺序保证 Latest 的确定性,statusLog 记录状态流转
type fakeVersionRepo struct {
	order     []uuid.UUID
	versions  map[uuid.UUID]*Version
	statusLog []Status
}

func (r *fakeVersionRepo) Create(ctx context.Context, v *Version) error {
	c := *v
	r.versions[v.ID] = &c
	r.order = append(r.order, v.ID)
	return nil
}
func (r *fakeVersionRepo) Update(ctx context.Context, v *Version) error {
	c := *v
	r.versions[v.ID] = &c
	r.statusLog = append(r.statusLog, v.Status)
	return nil
}
func (r *fakeVersionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.versions, id)
	return nil
}
func (r *fakeVersionRepo) GetByID(ctx context.Context, id uuid.UUID) (*Version, error) {
	if v, ok := r.versions[id]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}
func (r *fakeVersionRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*Version, error) {
	var out []*Version
	for _, id := range r.order {
		if v, ok := r.versions[id]; ok && v.DatasetID == datasetID {
			c := *v
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *fakeVersionRepo) Latest(ctx context.Context, datasetID uuid.UUID) (*Version, error) {
	list, _ := r.ListByDataset(ctx, datasetID)
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}
func (r *fakeVersionRepo) CountByDataset(ctx context.Context, datasetID uuid.UUID) (int64, error) {
	list, _ := r.ListByDataset(ctx, datasetID)
	return int64(len(list)), nil
}
func (r *fakeVersionRepo) ListByStatus(ctx context.Context, status Status) ([]*Version, error) {
	var out []*Version
	for _, id := range r.order {
		if v, ok := r.versions[id]; ok && v.Status == status {
			c := *v
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *fakeVersionRepo) CountUsingFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	var n int64
	for _, v := range r.versions {
		if v.VersionFileID != nil && *v.VersionFileID == fileID {
			n++
		}
	}
	return n, nil
}
func (r *fakeVersionRepo) FirstUsingFile(ctx context.Context, fileID uuid.UUID) (*Version, error) {
	for _, id := range r.order {
		if v, ok := r.versions[id]; ok && v.VersionFileID != nil && *v.VersionFileID == fileID {
			c := *v
			return &c, nil
		}
	}
	return nil, nil
}

type fakeFileRepo struct {
	files map[uuid.UUID]*VersionFile
}

func (r *fakeFileRepo) Create(ctx context.Context, f *VersionFile) error {
	c := *f
	r.files[f.ID] = &c
	return nil
}
func (r *fakeFileRepo) Update(ctx context.Context, f *VersionFile) error {
	c := *f
	r.files[f.ID] = &c
	return nil
}
func (r *fakeFileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.files, id)
	return nil
}
func (r *fakeFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*VersionFile, error) {
	if f, ok := r.files[id]; ok {
		c := *f
		return &c, nil
	}
	return nil, nil
}
func (r *fakeFileRepo) ListForRelocation(ctx context.Context) ([]*VersionFile, error) {
	var out []*VersionFile
	for _, f := range r.files {
		if f.Status == StatusFinished && f.StorageRelocating == StatusScheduled {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}
func (r *fakeFileRepo) ScheduleRelocationForFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeFolders struct {
	folders map[uuid.UUID]*foldersbiz.Folder
	err     error
}

func (r *fakeFolders) GetByID(ctx context.Context, id uuid.UUID) (*foldersbiz.Folder, error) {
	if r.err != nil {
		return nil, r.err
	}
	if f, ok := r.folders[id]; ok {
		c := *f
		return &c, nil
	}
	return nil, nil
}

type fakeProjects struct {
	projects map[uuid.UUID]*projectsbiz.Project
}

func (r *fakeProjects) GetByID(ctx context.Context, id uuid.UUID) (*projectsbiz.Project, error) {
	if p, ok := r.projects[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

// recordingNotifier 记录锁状态事件,其余事件忽略
type recordingNotifier struct {
	notify.NopNotifier
	lockEvents []lockEvent
}

type lockEvent struct {
	contentType string
	id          string
	locked      bool
}

func (n *recordingNotifier) LockStatusChanged(ctx context.Context, contentType, id string, locked bool, user string) {
	n.lockEvents = append(n.lockEvents, lockEvent{contentType: contentType, id: id, locked: locked})
}

type fakeBackend struct {
	moved   bool
	newPath string
	err     error
	removed []string
}

func (b *fakeBackend) TargetPath(fc storagesbiz.FileContext) (string, error) {
	return b.newPath, nil
}
func (b *fakeBackend) MoveFile(ctx context.Context, fc storagesbiz.FileContext) (bool, string, error) {
	if b.err != nil {
		return false, fc.Path, b.err
	}
	return b.moved, b.newPath, nil
}
func (b *fakeBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}
func (b *fakeBackend) Remove(ctx context.Context, p string) error {
	b.removed = append(b.removed, p)
	return nil
}

type fakeResolver struct {
	backend storagesbiz.Backend
}

func (r *fakeResolver) ForStorage(ctx context.Context, id uuid.UUID) (storagesbiz.Backend, error) {
	return r.backend, nil
}

type recordingParser struct {
	scheduled []uuid.UUID
}

func (p *recordingParser) ScheduleForFile(ctx context.Context, fileID uuid.UUID) error {
	p.scheduled = append(p.scheduled, fileID)
	return nil
}

// 元数据层的内存实现,供完整性与继承测试使用

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
	if m, ok := r.entries[id]; ok {
		c := *m
		return &c, nil
	}
	return nil, nil
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

type memTemplateRepo struct {
	templates map[uuid.UUID]*metadatabiz.Template
	fields    map[uuid.UUID][]*metadatabiz.TemplateField
	snapshots int
}

func (r *memTemplateRepo) Create(ctx context.Context, t *metadatabiz.Template) error {
	r.templates[t.ID] = t
	return nil
}
func (r *memTemplateRepo) Update(ctx context.Context, t *metadatabiz.Template) error {
	r.templates[t.ID] = t
	return nil
}
func (r *memTemplateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.templates, id)
	return nil
}
func (r *memTemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*metadatabiz.Template, error) {
	return r.templates[id], nil
}
func (r *memTemplateRepo) List(ctx context.Context) ([]*metadatabiz.Template, error) {
	var out []*metadatabiz.Template
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out, nil
}
func (r *memTemplateRepo) ListFields(ctx context.Context, templateID uuid.UUID) ([]*metadatabiz.TemplateField, error) {
	return r.fields[templateID], nil
}
func (r *memTemplateRepo) CreateField(ctx context.Context, f *metadatabiz.TemplateField) error {
	r.fields[f.TemplateID] = append(r.fields[f.TemplateID], f)
	return nil
}
func (r *memTemplateRepo) CreateVersion(ctx context.Context, v *metadatabiz.TemplateVersion) error {
	r.snapshots++
	return nil
}
func (r *memTemplateRepo) ListLocked(ctx context.Context) ([]*metadatabiz.Template, error) {
	return nil, nil
}

type fakeSettingRepo struct{}

func (fakeSettingRepo) Get(ctx context.Context, key string) (*settingsbiz.Setting, error) {
	return nil, nil
}
func (fakeSettingRepo) Set(ctx context.Context, key, value string) error { return nil }

type uploadsFixture struct {
	uc        *UploadUseCase
	datasets  *fakeDatasetRepo
	versions  *fakeVersionRepo
	files     *fakeFileRepo
	folders   *fakeFolders
	projects  *fakeProjects
	backend   *fakeBackend
	parser    *recordingParser
	templates *memTemplateRepo
	metadata  *metadatabiz.MetadataUseCase
	notifier  *recordingNotifier
	mediaRoot string
}

func newUploadsFixture(t *testing.T) *uploadsFixture {
	t.Helper()
	log := zap.NewNop()
	datasets := &fakeDatasetRepo{datasets: map[uuid.UUID]*Dataset{}}
	versions := &fakeVersionRepo{versions: map[uuid.UUID]*Version{}}
	files := &fakeFileRepo{files: map[uuid.UUID]*VersionFile{}}
	folders := &fakeFolders{folders: map[uuid.UUID]*foldersbiz.Folder{}}
	projects := &fakeProjects{projects: map[uuid.UUID]*projectsbiz.Project{}}
	backend := &fakeBackend{}
	parser := &recordingParser{}
	notifier := &recordingNotifier{}
	templateRepo := &memTemplateRepo{
		templates: map[uuid.UUID]*metadatabiz.Template{},
		fields:    map[uuid.UUID][]*metadatabiz.TemplateField{},
	}
	metadataUC := metadatabiz.NewMetadataUseCase(&memMetadataRepo{entries: map[uuid.UUID]*metadatabiz.Metadata{}}, memFieldRepo{}, log)
	templateUC := metadatabiz.NewTemplateUseCase(templateRepo, metadataUC, notify.NopNotifier{}, log)
	settingsUC := settingsbiz.NewSettingUseCase(fakeSettingRepo{}, log)
	mediaRoot := t.TempDir()

	uc := NewUploadUseCase(UploadUseCaseParams{
		Datasets:  datasets,
		Versions:  versions,
		Files:     files,
		Folders:   folders,
		Projects:  projects,
		Metadata:  metadataUC,
		Templates: templateUC,
		Backends:  &fakeResolver{backend: backend},
		Settings:  settingsUC,
		Notifier:  notifier,
		Parsers:   parser,
		MediaRoot: mediaRoot,
		DraftTTL:  30 * 24 * time.Hour,
		Logger:    log,
	})
	return &uploadsFixture{
		uc: uc, datasets: datasets, versions: versions, files: files,
		folders: folders, projects: projects, backend: backend, parser: parser,
		templates: templateRepo, metadata: metadataUC, notifier: notifier,
		mediaRoot: mediaRoot,
	}
}

func (fx *uploadsFixture) addFolder() *foldersbiz.Folder {
	f := &foldersbiz.Folder{ID: uuid.New(), Name: "measurements", ProjectID: uuid.New(), StorageID: uuid.New()}
	fx.folders.folders[f.ID] = f
	return f
}

func TestDatasetDisplayNameFallback(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	// 未命名且无版本时回退为数据集 ID
	d, err := fx.uc.CreateDataset(ctx, actor, "", nil)
	require.NoError(t, err)
	assert.Equal(t, d.ID.String(), d.DisplayName)

	// 有文件后取最新版本文件的原始文件名
	_, err = fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &d.ID, Name: "v1", FileName: "ctd-cast.csv", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	got, err := fx.uc.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "ctd-cast.csv", got.DisplayName)

	// 显式名称优先
	got.Name = "salinity-profiles"
	require.NoError(t, fx.uc.SaveDataset(ctx, actor, got))
	got, err = fx.uc.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "salinity-profiles", got.DisplayName)
}

func TestCreateDatasetSetsExpiry(t *testing.T) {
	fx := newUploadsFixture(t)
	actor := core.Actor{ID: uuid.New()}

	d, err := fx.uc.CreateDataset(context.Background(), actor, "drafts", nil)
	require.NoError(t, err)
	require.NotNil(t, d.ExpiryDate)
	assert.False(t, d.Published())
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *d.ExpiryDate, time.Minute)
}

func TestPublishDatasetRequiresFolder(t *testing.T) {
	fx := newUploadsFixture(t)
	actor := core.Actor{ID: uuid.New()}
	d, err := fx.uc.CreateDataset(context.Background(), actor, "", nil)
	require.NoError(t, err)

	_, err = fx.uc.PublishDataset(context.Background(), actor, d.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatasetFolderRequired))
}

func TestPublishDatasetPublishesVersionsAndSchedulesRelocation(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New(), Email: "alice@example.org"}
	folder := fx.addFolder()

	d, err := fx.uc.CreateDataset(ctx, actor, "cruise-42", &folder.ID)
	require.NoError(t, err)
	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &d.ID,
		Name:      "v1",
		FileName:  "ctd.csv",
		Content:   strings.NewReader("depth,salinity\n"),
	})
	require.NoError(t, err)

	published, err := fx.uc.PublishDataset(ctx, actor, d.ID, nil)
	require.NoError(t, err)
	assert.True(t, published.Published())
	assert.Nil(t, published.ExpiryDate)

	stored, err := fx.uc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, stored.Published())

	f, err := fx.uc.GetFile(ctx, *stored.VersionFileID)
	require.NoError(t, err)
	assert.True(t, f.Published())
	assert.Equal(t, StatusScheduled, f.StorageRelocating)
}

func TestPublishDatasetTwiceFails(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	d, err := fx.uc.CreateDataset(ctx, actor, "once", &folder.ID)
	require.NoError(t, err)
	_, err = fx.uc.PublishDataset(ctx, actor, d.ID, nil)
	require.NoError(t, err)

	_, err = fx.uc.PublishDataset(ctx, actor, d.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatasetAlreadyPublished))
}

func TestPublishSnapshotsFolderTemplate(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()
	tmplID := uuid.New()
	fx.templates.templates[tmplID] = &metadatabiz.Template{ID: tmplID, Name: "minimal"}
	folder.MetadataTemplateID = &tmplID
	fx.folders.folders[folder.ID] = folder

	d, err := fx.uc.CreateDataset(ctx, actor, "snap", &folder.ID)
	require.NoError(t, err)
	_, err = fx.uc.PublishDataset(ctx, actor, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.templates.snapshots)
}

func TestPublishSynthesizesVersionWithTemplateDefaults(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	folderTmpl := uuid.New()
	fx.templates.templates[folderTmpl] = &metadatabiz.Template{ID: folderTmpl, Name: "folder-minimal"}
	fx.templates.fields[folderTmpl] = []*metadatabiz.TemplateField{
		{ID: uuid.New(), TemplateID: folderTmpl, CustomKey: "license", Mandatory: true,
			DefaultValue: json.RawMessage(`{"value":"CC-BY-4.0"}`)},
	}
	folder.MetadataTemplateID = &folderTmpl
	fx.folders.folders[folder.ID] = folder

	projectTmpl := uuid.New()
	fx.templates.templates[projectTmpl] = &metadatabiz.Template{ID: projectTmpl, Name: "project-wide"}
	fx.templates.fields[projectTmpl] = []*metadatabiz.TemplateField{
		{ID: uuid.New(), TemplateID: projectTmpl, CustomKey: "campaign",
			DefaultValue: json.RawMessage(`{"value":"PS-117"}`)},
	}
	fx.projects.projects[folder.ProjectID] = &projectsbiz.Project{
		ID: folder.ProjectID, Name: "polarstern", MetadataTemplateID: &projectTmpl,
	}

	v1, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.metadata.Set(ctx, actor, metadatabiz.SetParams{
		Target:    metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v1.ID},
		CustomKey: "instrument",
		Value:     "CTD-7",
	})
	require.NoError(t, err)

	_, err = fx.uc.PublishDataset(ctx, actor, v1.DatasetID, &folder.ID)
	require.NoError(t, err)

	// 发布生成一个新版本,继承既有元数据并补上两个模板的默认值
	versions, err := fx.uc.ListVersions(ctx, v1.DatasetID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	latest, err := fx.versions.Latest(ctx, v1.DatasetID)
	require.NoError(t, err)
	require.NotEqual(t, v1.ID, latest.ID)
	assert.True(t, latest.Published())

	entries, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: latest.ID})
	require.NoError(t, err)
	values := map[string]string{}
	for _, e := range entries {
		values[e.Key()] = e.ValueString()
	}
	assert.Equal(t, "CTD-7", values["instrument"])
	assert.Equal(t, "CC-BY-4.0", values["license"])
	assert.Equal(t, "PS-117", values["campaign"])
	assert.Equal(t, 2, fx.templates.snapshots)

	// 原版本的元数据保持不变
	orig, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v1.ID})
	require.NoError(t, err)
	assert.Len(t, orig, 1)
}

func TestSaveDatasetBroadcastsAutoRelease(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	d, err := fx.uc.CreateDataset(ctx, actor, "held", nil)
	require.NoError(t, err)
	require.NoError(t, fx.uc.LockDataset(ctx, actor, d.ID))

	d, err = fx.uc.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	require.NoError(t, fx.uc.SaveDataset(ctx, actor, d))

	var unlocks []lockEvent
	for _, e := range fx.notifier.lockEvents {
		if !e.locked {
			unlocks = append(unlocks, e)
		}
	}
	require.Len(t, unlocks, 1)
	assert.Equal(t, ContentTypeDataset, unlocks[0].contentType)
	assert.Equal(t, d.ID.String(), unlocks[0].id)
}

func TestReleaseExpiredLocksBroadcasts(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	d, err := fx.uc.CreateDataset(ctx, actor, "stale", nil)
	require.NoError(t, err)
	require.NoError(t, fx.uc.LockDataset(ctx, actor, d.ID))

	stored := fx.datasets.datasets[d.ID]
	past := time.Now().Add(-time.Hour)
	stored.Lock.LockedAt = &past

	released, err := fx.uc.ReleaseExpiredLocks(ctx, 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := fx.uc.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Lock.Locked)

	var unlocks []lockEvent
	for _, e := range fx.notifier.lockEvents {
		if !e.locked {
			unlocks = append(unlocks, e)
		}
	}
	require.Len(t, unlocks, 1)
	assert.Equal(t, d.ID.String(), unlocks[0].id)
}

func TestPublishRespectsForeignLock(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	alice := core.Actor{ID: uuid.New()}
	bob := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	d, err := fx.uc.CreateDataset(ctx, alice, "locked", &folder.ID)
	require.NoError(t, err)
	require.NoError(t, fx.uc.LockDataset(ctx, alice, d.ID))

	_, err = fx.uc.PublishDataset(ctx, bob, d.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrLocked))
}

func TestCreateVersionWithNewFileWritesTempAndSchedulesParsing(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name:     "initial",
		FileName: "readings.txt",
		Content:  strings.NewReader("42\n"),
	})
	require.NoError(t, err)
	require.NotNil(t, v.VersionFileID)

	f, err := fx.uc.GetFile(ctx, *v.VersionFileID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.Path, "temp/"+actor.ID.String()+"/"))

	data, err := os.ReadFile(filepath.Join(fx.mediaRoot, filepath.FromSlash(f.Path)))
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(data))

	require.Len(t, fx.parser.scheduled, 1)
	assert.Equal(t, f.ID, fx.parser.scheduled[0])

	entries, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: f.ID})
	require.NoError(t, err)
	keys := map[string]bool{}
	for _, e := range entries {
		keys[e.Key()] = e.ReadOnly
	}
	assert.True(t, keys[metadatabiz.KeyOriginalFileName])
}

func TestCreateVersionInheritsPreviousMetadata(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v1, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.metadata.Set(ctx, actor, metadatabiz.SetParams{
		Target:    metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v1.ID},
		CustomKey: "instrument",
		Value:     "CTD-7",
	})
	require.NoError(t, err)

	v2, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &v1.DatasetID,
		Name:      "v2", FileName: "b.txt", Content: strings.NewReader("b"),
	})
	require.NoError(t, err)

	entries, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v2.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "instrument", entries[0].Key())
	assert.Equal(t, "CTD-7", entries[0].ValueString())
}

func TestRestoreVersionGuards(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v1, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)

	// 只有一个版本时不可恢复
	_, err = fx.uc.RestoreVersion(ctx, actor, v1.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrVersionNotRestorable))

	v2, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &v1.DatasetID, Name: "v2", FileName: "b.txt", Content: strings.NewReader("b"),
	})
	require.NoError(t, err)

	// 最新版本不可恢复
	_, err = fx.uc.RestoreVersion(ctx, actor, v2.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrVersionNotRestorable))
}

func TestRestoreVersionSharesFileAndCopiesMetadata(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v1, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.metadata.Set(ctx, actor, metadatabiz.SetParams{
		Target:    metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v1.ID},
		CustomKey: "station",
		Value:     "PS-117",
	})
	require.NoError(t, err)

	_, err = fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &v1.DatasetID, Name: "v2", FileName: "b.txt", Content: strings.NewReader("b"),
	})
	require.NoError(t, err)

	restored, err := fx.uc.RestoreVersion(ctx, actor, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, *v1.VersionFileID, *restored.VersionFileID)

	entries, err := fx.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: restored.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PS-117", entries[0].ValueString())

	latest, err := fx.versions.Latest(ctx, v1.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, restored.ID, latest.ID)
}

func TestUpdateVersionRestrictedWhenPublishedAndNotLatest(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	v1, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.uc.PublishDataset(ctx, actor, v1.DatasetID, &folder.ID)
	require.NoError(t, err)
	_, err = fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &v1.DatasetID, Name: "v2", FileName: "b.txt", Content: strings.NewReader("b"),
	})
	require.NoError(t, err)

	// 改名允许
	old, err := fx.uc.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	old.Name = "v1-renamed"
	require.NoError(t, err)
	require.NoError(t, fx.uc.UpdateVersion(ctx, actor, old))

	// 换文件拒绝
	old, err = fx.uc.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	other := uuid.New()
	old.VersionFileID = &other
	err = fx.uc.UpdateVersion(ctx, actor, old)
	assert.True(t, apperrors.Is(err, apperrors.ErrVersionEditRestricted))
}

func TestMoveFileFinishesAndRewritesPath(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.uc.PublishDataset(ctx, actor, v.DatasetID, &folder.ID)
	require.NoError(t, err)

	fx.backend.moved = true
	fx.backend.newPath = fmt.Sprintf("local/%s/%s/a.txt", folder.ProjectID, folder.ID)

	require.NoError(t, fx.uc.MoveFile(ctx, *v.VersionFileID))

	f, err := fx.uc.GetFile(ctx, *v.VersionFileID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, f.StorageRelocating)
	assert.Equal(t, fx.backend.newPath, f.Path)
}

func TestMoveFileWithoutSourceStillFinishes(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.uc.PublishDataset(ctx, actor, v.DatasetID, &folder.ID)
	require.NoError(t, err)

	oldPath := func() string {
		f, err := fx.uc.GetFile(ctx, *v.VersionFileID)
		require.NoError(t, err)
		return f.Path
	}()

	// 后端报告未搬动(如源文件缺失):不视为失败,路径保持原样
	fx.backend.moved = false
	fx.backend.newPath = "local/somewhere/else/a.txt"

	require.NoError(t, fx.uc.MoveFile(ctx, *v.VersionFileID))

	f, err := fx.uc.GetFile(ctx, *v.VersionFileID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, f.StorageRelocating)
	assert.Equal(t, oldPath, f.Path)
}

func TestMoveFileMarksErrorOnBackendFailure(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.uc.PublishDataset(ctx, actor, v.DatasetID, &folder.ID)
	require.NoError(t, err)

	fx.backend.err = fmt.Errorf("disk full")
	oldPath := func() string {
		f, err := fx.uc.GetFile(ctx, *v.VersionFileID)
		require.NoError(t, err)
		return f.Path
	}()

	require.NoError(t, fx.uc.MoveFile(ctx, *v.VersionFileID))

	f, err := fx.uc.GetFile(ctx, *v.VersionFileID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, f.StorageRelocating)
	assert.Equal(t, oldPath, f.Path)
}

func TestDeleteDatasetGuards(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	owner := core.Actor{ID: uuid.New()}
	stranger := core.Actor{ID: uuid.New()}
	admin := core.Actor{ID: uuid.New(), CanHardDeleteDatasets: true}
	folder := fx.addFolder()

	d, err := fx.uc.CreateDataset(ctx, owner, "guarded", &folder.ID)
	require.NoError(t, err)

	// 他人的草稿不可删
	err = fx.uc.DeleteDataset(ctx, stranger, d.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	_, err = fx.uc.PublishDataset(ctx, owner, d.ID, nil)
	require.NoError(t, err)

	// 已发布的数据集创建者也不可删
	err = fx.uc.DeleteDataset(ctx, owner, d.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	// 硬删除权限放行
	require.NoError(t, fx.uc.DeleteDataset(ctx, admin, d.ID))
	got, err := fx.uc.GetDataset(ctx, d.ID)
	assert.Nil(t, got)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatasetNotFound))
}

func TestDeleteVersionKeepsSharedFile(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v1, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	_, err = fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		DatasetID: &v1.DatasetID, Name: "v2", FileName: "b.txt", Content: strings.NewReader("b"),
	})
	require.NoError(t, err)
	restored, err := fx.uc.RestoreVersion(ctx, actor, v1.ID)
	require.NoError(t, err)

	// v1 与恢复版共享文件,删 v1 不得删文件
	require.NoError(t, fx.uc.DeleteVersion(ctx, actor, v1.ID))
	f, err := fx.uc.GetFile(ctx, *restored.VersionFileID)
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestRemoveExpiredDrafts(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	expired, err := fx.uc.CreateDataset(ctx, actor, "old", nil)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	expired.ExpiryDate = &past
	require.NoError(t, fx.datasets.Update(ctx, expired))

	fresh, err := fx.uc.CreateDataset(ctx, actor, "new", nil)
	require.NoError(t, err)

	removed, err := fx.uc.RemoveExpiredDrafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = fx.uc.GetDataset(ctx, expired.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatasetNotFound))
	got, err := fx.uc.GetDataset(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCheckScheduledCompleteness(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()
	tmplID := uuid.New()
	fx.templates.templates[tmplID] = &metadatabiz.Template{ID: tmplID, Name: "strict"}
	fx.templates.fields[tmplID] = []*metadatabiz.TemplateField{
		{ID: uuid.New(), TemplateID: tmplID, CustomKey: "station", Mandatory: true},
	}
	folder.MetadataTemplateID = &tmplID
	fx.folders.folders[folder.ID] = folder

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	d, err := fx.uc.GetDataset(ctx, v.DatasetID)
	require.NoError(t, err)
	d.FolderID = &folder.ID
	require.NoError(t, fx.datasets.Update(ctx, d))

	checked, err := fx.uc.CheckScheduledCompleteness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)

	got, err := fx.uc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.False(t, got.MetadataIsComplete)

	// 补上必填字段后重检为完整
	_, err = fx.metadata.Set(ctx, actor, metadatabiz.SetParams{
		Target:    metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v.ID},
		CustomKey: "station",
		Value:     "PS-117",
	})
	require.NoError(t, err)
	got.Status = StatusScheduled
	require.NoError(t, fx.versions.Update(ctx, got))

	_, err = fx.uc.CheckScheduledCompleteness(ctx)
	require.NoError(t, err)
	got, err = fx.uc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.MetadataIsComplete)
}

func TestCheckScheduledCompletenessSkipsLockedDataset(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	require.NoError(t, fx.uc.LockDataset(ctx, actor, v.DatasetID))

	checked, err := fx.uc.CheckScheduledCompleteness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, checked)

	got, err := fx.uc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestCheckScheduledCompletenessMarksErrorOnFailure(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	folder := fx.addFolder()

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	d, err := fx.uc.GetDataset(ctx, v.DatasetID)
	require.NoError(t, err)
	d.FolderID = &folder.ID
	require.NoError(t, fx.datasets.Update(ctx, d))

	// 文件夹查询失败:先置处理中,再置出错
	fx.folders.err = fmt.Errorf("connection refused")
	fx.versions.statusLog = nil
	checked, err := fx.uc.CheckScheduledCompleteness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, checked)

	got, err := fx.uc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, []Status{StatusInProgress, StatusError}, fx.versions.statusLog)
}

func TestCheckScheduledCompletenessMarksErrorWhenDatasetGone(t *testing.T) {
	fx := newUploadsFixture(t)
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	v, err := fx.uc.CreateVersionWithNewFile(ctx, actor, CreateVersionParams{
		Name: "v1", FileName: "a.txt", Content: strings.NewReader("a"),
	})
	require.NoError(t, err)
	delete(fx.datasets.datasets, v.DatasetID)

	checked, err := fx.uc.CheckScheduledCompleteness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, checked)

	got, err := fx.uc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
}
