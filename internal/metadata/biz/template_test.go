package biz

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

func mandatoryField(key string) *TemplateField {
	return &TemplateField{ID: uuid.New(), CustomKey: key, Mandatory: true}
}

func entryWithValue(key, value string) *Metadata {
	m := &Metadata{ID: uuid.New(), CustomKey: key}
	if err := m.SetValue(value); err != nil {
		panic(err)
	}
	return m
}

func TestCheckCompleteness(t *testing.T) {
	fieldID := uuid.New()
	byField := &TemplateField{ID: uuid.New(), FieldID: &fieldID, Mandatory: true}

	tests := []struct {
		name    string
		fields  []*TemplateField
		entries []*Metadata
		want    bool
	}{
		{
			name: "no mandatory fields is vacuously complete",
			fields: []*TemplateField{
				{ID: uuid.New(), CustomKey: "optional"},
			},
			want: true,
		},
		{
			name:   "empty template is complete",
			fields: nil,
			want:   true,
		},
		{
			name:    "mandatory field with value",
			fields:  []*TemplateField{mandatoryField("author")},
			entries: []*Metadata{entryWithValue("author", "doe")},
			want:    true,
		},
		{
			name:    "mandatory field missing",
			fields:  []*TemplateField{mandatoryField("author")},
			entries: []*Metadata{entryWithValue("license", "MIT")},
			want:    false,
		},
		{
			name:   "mandatory field present but empty",
			fields: []*TemplateField{mandatoryField("author")},
			entries: []*Metadata{
				func() *Metadata {
					m := &Metadata{ID: uuid.New(), CustomKey: "author"}
					_ = m.SetValue(nil)
					return m
				}(),
			},
			want: false,
		},
		{
			name:   "field matched by field id",
			fields: []*TemplateField{byField},
			entries: []*Metadata{
				func() *Metadata {
					m := &Metadata{ID: uuid.New(), FieldID: &fieldID}
					_ = m.SetValue(42)
					return m
				}(),
			},
			want: true,
		},
		{
			name:   "duplicate keys resolve to the last entry",
			fields: []*TemplateField{mandatoryField("author")},
			entries: []*Metadata{
				entryWithValue("author", "first"),
				func() *Metadata {
					m := &Metadata{ID: uuid.New(), CustomKey: "author"}
					_ = m.SetValue(nil)
					return m
				}(),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCompleteness(tt.fields, tt.entries))
		})
	}
}

type fakeTemplateRepo struct {
	templates map[uuid.UUID]*Template
	fields    map[uuid.UUID][]*TemplateField
	versions  []*TemplateVersion
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{
		templates: map[uuid.UUID]*Template{},
		fields:    map[uuid.UUID][]*TemplateField{},
	}
}

func (f *fakeTemplateRepo) Create(ctx context.Context, t *Template) error {
	c := *t
	f.templates[t.ID] = &c
	return nil
}

func (f *fakeTemplateRepo) Update(ctx context.Context, t *Template) error {
	c := *t
	f.templates[t.ID] = &c
	return nil
}

func (f *fakeTemplateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.templates, id)
	delete(f.fields, id)
	return nil
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	if t, ok := f.templates[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (f *fakeTemplateRepo) List(ctx context.Context) ([]*Template, error) {
	var out []*Template
	for _, t := range f.templates {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeTemplateRepo) ListFields(ctx context.Context, templateID uuid.UUID) ([]*TemplateField, error) {
	return f.fields[templateID], nil
}

func (f *fakeTemplateRepo) CreateField(ctx context.Context, fl *TemplateField) error {
	f.fields[fl.TemplateID] = append(f.fields[fl.TemplateID], fl)
	return nil
}

func (f *fakeTemplateRepo) CreateVersion(ctx context.Context, v *TemplateVersion) error {
	f.versions = append(f.versions, v)
	return nil
}

func (f *fakeTemplateRepo) ListLocked(ctx context.Context) ([]*Template, error) {
	var out []*Template
	for _, t := range f.templates {
		if t.Lock.Locked {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func newTestTemplateUseCase() (*TemplateUseCase, *fakeTemplateRepo, *fakeMetadataRepo) {
	metadataRepo := newFakeMetadataRepo()
	metadataUC := NewMetadataUseCase(metadataRepo, &fakeFieldRepo{}, zap.NewNop())
	tplRepo := newFakeTemplateRepo()
	uc := NewTemplateUseCase(tplRepo, metadataUC, notify.NopNotifier{}, zap.NewNop())
	return uc, tplRepo, metadataRepo
}

func TestTemplateLockBlocksOtherUsers(t *testing.T) {
	ctx := context.Background()
	alice := core.Actor{ID: uuid.New(), Email: "alice@example.com"}
	bob := core.Actor{ID: uuid.New(), Email: "bob@example.com"}
	maxLock := 20 * time.Minute

	uc, _, _ := newTestTemplateUseCase()
	tpl, err := uc.Create(ctx, alice, "imaging")
	require.NoError(t, err)

	require.NoError(t, uc.Lock(ctx, alice, tpl.ID, maxLock))

	err = uc.Lock(ctx, bob, tpl.ID, maxLock)
	assert.True(t, apperrors.Is(err, apperrors.ErrLocked))

	err = uc.Unlock(ctx, bob, tpl.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrLocked))

	require.NoError(t, uc.Unlock(ctx, alice, tpl.ID))
	require.NoError(t, uc.Lock(ctx, bob, tpl.ID, maxLock))
}

func TestTemplateSaveRejectsForeignLock(t *testing.T) {
	ctx := context.Background()
	alice := core.Actor{ID: uuid.New()}
	bob := core.Actor{ID: uuid.New()}
	maxLock := 20 * time.Minute

	uc, repo, _ := newTestTemplateUseCase()
	tpl, err := uc.Create(ctx, alice, "imaging")
	require.NoError(t, err)
	require.NoError(t, uc.Lock(ctx, alice, tpl.ID, maxLock))

	locked, err := uc.Get(ctx, tpl.ID)
	require.NoError(t, err)
	locked.Name = "renamed"
	err = uc.Save(ctx, bob, locked, maxLock)
	assert.True(t, apperrors.Is(err, apperrors.ErrLocked))

	stored := repo.templates[tpl.ID]
	assert.Equal(t, "imaging", stored.Name)
}

func TestApplyToTargetInstantiatesDefaults(t *testing.T) {
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	uc, repo, metadataRepo := newTestTemplateUseCase()
	tpl, err := uc.Create(ctx, actor, "imaging")
	require.NoError(t, err)

	defaultValue, _ := json.Marshal(map[string]any{"value": "Zeiss"})
	require.NoError(t, repo.CreateField(ctx, &TemplateField{
		ID:           uuid.New(),
		TemplateID:   tpl.ID,
		CustomKey:    "microscope",
		FieldType:    FieldTypeText,
		Mandatory:    true,
		DefaultValue: defaultValue,
	}))

	target := TargetRef{Kind: TargetVersion, ID: uuid.New()}
	require.NoError(t, uc.ApplyToTarget(ctx, actor, tpl.ID, target, false))

	entries, err := metadataRepo.ListForTarget(ctx, target)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "microscope", entries[0].Key())
	assert.Equal(t, "Zeiss", entries[0].ValueString())
	assert.NotNil(t, entries[0].TemplateFieldID)
}

func TestMandatoryComplete(t *testing.T) {
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	uc, repo, _ := newTestTemplateUseCase()
	tpl, err := uc.Create(ctx, actor, "imaging")
	require.NoError(t, err)
	require.NoError(t, repo.CreateField(ctx, &TemplateField{
		ID:         uuid.New(),
		TemplateID: tpl.ID,
		CustomKey:  "author",
		Mandatory:  true,
	}))

	target := TargetRef{Kind: TargetVersion, ID: uuid.New()}
	complete, err := uc.MandatoryComplete(ctx, tpl.ID, target)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = uc.metadata.Set(ctx, actor, SetParams{Target: target, CustomKey: "author", Value: "doe"})
	require.NoError(t, err)

	complete, err = uc.MandatoryComplete(ctx, tpl.ID, target)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestSnapshotStoresFields(t *testing.T) {
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}

	uc, repo, _ := newTestTemplateUseCase()
	tpl, err := uc.Create(ctx, actor, "imaging")
	require.NoError(t, err)
	require.NoError(t, repo.CreateField(ctx, &TemplateField{
		ID:         uuid.New(),
		TemplateID: tpl.ID,
		CustomKey:  "author",
		Mandatory:  true,
	}))

	v, err := uc.Snapshot(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, v.TemplateID)
	assert.Contains(t, string(v.Fields), "author")
	require.Len(t, repo.versions, 1)
}
