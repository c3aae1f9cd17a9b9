package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paperplane/internal/assembly"
	"paperplane/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	h, err := e.registry.Create(ctx, CreateOptions{
		Filename: "Holiday.JPG",
		MimeType: "image/png",
		Visible:  false,
		Password: "hunter2",
	})
	require.NoError(t, err)

	assert.DirExists(t, h.Path())
	assert.Equal(t, filepath.Join(e.dataDir, "t1", "tmp", "chunks_"+h.ID()), h.Path())

	row, ok := e.store.get(h.ID())
	require.True(t, ok)
	assert.Equal(t, "Holiday.png", row.Filename)
	assert.Equal(t, StatusOpen, row.Status)
	assert.False(t, row.Visible)
	require.NotNil(t, row.Password)
	assert.Equal(t, "sealed:hunter2", *row.Password)
	assert.Equal(t, e.clock.Now(), row.CreatedAt)

	got, ok := e.registry.Get(h.ID())
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.True(t, e.scheduler.Pending(h.ID()))
}

func TestRegistryCreateGeneratesName(t *testing.T) {
	e := newEnv(t)
	h := e.create(t)
	assert.Regexp(t, `^[a-zA-Z0-9]{8}\.png$`, h.Snapshot().Filename)
}

func TestRegistryCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.registry.Create(ctx, CreateOptions{MimeType: "application/x-nope"})
	assert.ErrorIs(t, err, ErrInvalidMimeType)

	_, err = e.registry.Create(ctx, CreateOptions{MimeType: ""})
	assert.ErrorIs(t, err, ErrInvalidMimeType)

	_, err = e.registry.Create(ctx, CreateOptions{MimeType: "application/vnd.microsoft.portable-executable"})
	assert.ErrorIs(t, err, ErrDisallowedExtension)

	assert.Zero(t, e.registry.Len())
	entries, err := os.ReadDir(e.registry.TmpRoot())
	require.NoError(t, err)
	assert.Empty(t, entries, "validation failures must not touch the filesystem")
}

func TestRegistryCreatePersistFailureCleansUp(t *testing.T) {
	e := newEnv(t)
	e.store.failCreate = errors.New("db down")

	_, err := e.registry.Create(context.Background(), CreateOptions{MimeType: "image/png"})
	require.Error(t, err)

	entries, err := os.ReadDir(e.registry.TmpRoot())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, e.registry.Len())
}

func TestRegistryDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := e.create(t)
	_, err := h.RegisterChunk(e.tempChunk(t, "abc"), 3)
	require.NoError(t, err)

	removed, err := e.registry.Delete(ctx, h.ID())
	require.NoError(t, err)
	assert.True(t, removed)

	assert.NoDirExists(t, h.Path())
	_, ok := e.store.get(h.ID())
	assert.False(t, ok)
	_, ok = e.registry.Get(h.ID())
	assert.False(t, ok)
	assert.False(t, e.scheduler.Pending(h.ID()))

	removed, err = e.registry.Delete(ctx, h.ID())
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegistryDeleteToleratesMissingDir(t *testing.T) {
	e := newEnv(t)
	h := e.create(t)
	require.NoError(t, os.RemoveAll(h.Path()))

	removed, err := e.registry.Delete(context.Background(), h.ID())
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRegistryExpiresAfterTTL(t *testing.T) {
	e := newEnv(t)
	h := e.create(t)
	_, err := h.RegisterChunk(e.tempChunk(t, "abc"), 3)
	require.NoError(t, err)

	e.clock.Advance(DefaultExpiry - time.Second)
	_, ok := e.registry.Get(h.ID())
	require.True(t, ok)

	e.clock.Advance(time.Second)
	_, ok = e.registry.Get(h.ID())
	assert.False(t, ok)
	assert.NoDirExists(t, h.Path())
	_, ok = e.store.get(h.ID())
	assert.False(t, ok)
}

func TestRegistryFinishedHandleUnaffectedByExpiry(t *testing.T) {
	e := newEnv(t)
	h := e.create(t)
	_, err := h.RegisterChunk(e.tempChunk(t, "abc"), 3)
	require.NoError(t, err)

	_, err = h.Complete(context.Background())
	require.NoError(t, err)
	e.clock.Advance(time.Hour)
	e.submitter.resolve(0, assembly.Result{UploadID: h.ID(), FileID: "x.png"})
	waitSettled(t, h)

	e.clock.Advance(DefaultExpiry)
	got, ok := e.registry.Get(h.ID())
	require.True(t, ok)
	assert.Equal(t, StatusFinished, got.Snapshot().Status)
}

func TestManagerLoadReconcilesFromDisk(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dir := filepath.Join(e.registry.TmpRoot(), "chunks_restored")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"0", "1", "2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("12345"), 0o644))
	}
	require.NoError(t, e.store.Create(ctx, &repository.PartialUploadRecord{
		ID:        "restored",
		TenantID:  "t1",
		Path:      dir,
		Filename:  "big.png",
		MimeType:  "image/png",
		Status:    StatusOpen,
		CreatedAt: e.clock.Now().Add(-23 * time.Hour),
	}))

	require.NoError(t, e.manager.Load(ctx))

	reg, ok := e.manager.Lookup("t1")
	require.True(t, ok)
	h, ok := reg.Get("restored")
	require.True(t, ok)

	view := h.Snapshot()
	assert.Equal(t, []string{"0", "1", "2"}, view.Chunks)
	assert.Equal(t, 2, view.LastChunkID)
	assert.EqualValues(t, 15, view.ReceivedBytes)

	idx, err := h.RegisterChunk(e.tempChunk(t, "next"), 4)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	// 剩余存活时间按 createdAt 计算，而不是重新计满 24 小时
	e.clock.Advance(time.Hour)
	_, ok = reg.Get("restored")
	assert.False(t, ok)
}

func TestManagerLoadExpiresStaleAndKeepsFinished(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := "done.png"

	require.NoError(t, e.store.Create(ctx, &repository.PartialUploadRecord{
		ID:        "stale",
		TenantID:  "t1",
		Path:      filepath.Join(e.registry.TmpRoot(), "chunks_stale"),
		Filename:  "a.png",
		MimeType:  "image/png",
		Status:    StatusOpen,
		CreatedAt: e.clock.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, e.store.Create(ctx, &repository.PartialUploadRecord{
		ID:         "finished",
		TenantID:   "t1",
		Path:       filepath.Join(e.registry.TmpRoot(), "chunks_finished"),
		Filename:   "done.png",
		MimeType:   "image/png",
		Status:     StatusFinished,
		DocumentID: &doc,
		CreatedAt:  e.clock.Now().Add(-48 * time.Hour),
	}))

	require.NoError(t, e.manager.Load(ctx))
	e.clock.Advance(0)

	_, ok := e.registry.Get("stale")
	assert.False(t, ok)
	_, ok = e.store.get("stale")
	assert.False(t, ok)

	h, ok := e.registry.Get("finished")
	require.True(t, ok)
	assert.Equal(t, "done.png", h.Snapshot().DocumentID)
	assert.NoDirExists(t, h.Path())
}

func TestClientFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", ClientFilename("report.docx", "application/pdf"))
	assert.Equal(t, "", ClientFilename("", "application/pdf"))
	assert.Equal(t, "", ClientFilename("report", "application/x-nope"))
}
