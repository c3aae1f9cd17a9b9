package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"paperplane/internal/upload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pollFinished(t *testing.T, h *harness, uploadID string) CompleteResult {
	t.Helper()
	var res CompleteResult
	require.Eventually(t, func() bool {
		var err error
		res, err = h.uploads.Complete(context.Background(), "t1", uploadID)
		return err == nil && res.Status == upload.StatusFinished
	}, 5*time.Second, 10*time.Millisecond)
	return res
}

func sendChunks(t *testing.T, h *harness, uploadID string, parts ...string) {
	t.Helper()
	for i, part := range parts {
		idx, err := h.uploads.UploadChunk(context.Background(), "t1", uploadID, strings.NewReader(part), int64(len(part)))
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
}

func TestUploadLifecycle(t *testing.T) {
	h := newHarness(t, defaultTenant(), 0)
	ctx := context.Background()

	id, err := h.uploads.Create(ctx, "t1", upload.CreateOptions{Filename: "photo.jpeg", MimeType: "image/png", Visible: true})
	require.NoError(t, err)

	sendChunks(t, h, id, "aaa", "bbb", "cc")

	first, err := h.uploads.Complete(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusProcessing, first.Status)
	assert.Nil(t, first.URL)

	_, err = h.uploads.UploadChunk(ctx, "t1", id, strings.NewReader("late"), 4)
	assert.ErrorIs(t, err, upload.ErrNotOpen)

	done := pollFinished(t, h, id)
	require.NotNil(t, done.URL)
	assert.Equal(t, "https://files.example.com/photo.png", *done.URL)

	_, err = h.uploads.Complete(ctx, "t1", id)
	assert.ErrorIs(t, err, upload.ErrNotFound)

	record, err := h.files.GetByID(ctx, "t1", "photo.png")
	require.NoError(t, err)
	assert.EqualValues(t, 8, record.SizeBytes)
	assert.NotEmpty(t, record.AuthSecret)

	rc, err := h.store.Read(ctx, record.StoragePath)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbcc", string(body))

	rows, err := h.partials.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUploadCreateValidation(t *testing.T) {
	h := newHarness(t, defaultTenant(), 0)
	ctx := context.Background()

	_, err := h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "application/vnd.microsoft.portable-executable"})
	assert.ErrorIs(t, err, upload.ErrDisallowedExtension)

	_, err = h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "application/x-nope"})
	assert.ErrorIs(t, err, upload.ErrInvalidMimeType)

	_, err = h.uploads.Create(ctx, "missing", upload.CreateOptions{MimeType: "image/png"})
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = h.fileSvc.Upload(ctx, "t1", UploadFileInput{
		Filename: "taken", MimeType: "image/png", SizeBytes: 3, Visible: true, Reader: strings.NewReader("abc"),
	})
	require.NoError(t, err)

	_, err = h.uploads.Create(ctx, "t1", upload.CreateOptions{Filename: "taken", MimeType: "image/png"})
	assert.ErrorIs(t, err, upload.ErrDuplicateFilename)

	// 不指定名称时由命名策略生成，不做重名检查
	_, err = h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "image/png"})
	assert.NoError(t, err)
}

func TestUploadQuota(t *testing.T) {
	tenant := defaultTenant()
	tenant.MaxStorageBytes = 10
	h := newHarness(t, tenant, 0)
	ctx := context.Background()

	id, err := h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "image/png"})
	require.NoError(t, err)

	_, err = h.uploads.UploadChunk(ctx, "t1", id, strings.NewReader("123456"), 6)
	require.NoError(t, err)
	_, err = h.uploads.UploadChunk(ctx, "t1", id, strings.NewReader("123456"), 6)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// 未声明长度时按实际写入字节判断
	_, err = h.uploads.UploadChunk(ctx, "t1", id, strings.NewReader("123456"), -1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = h.fileSvc.Upload(ctx, "t1", UploadFileInput{
		MimeType: "image/png", SizeBytes: 10, Reader: strings.NewReader("0123456789"),
	})
	require.NoError(t, err)

	_, err = h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "image/png"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestUploadChunkLimits(t *testing.T) {
	h := newHarness(t, defaultTenant(), 4)
	ctx := context.Background()

	id, err := h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "image/png"})
	require.NoError(t, err)

	_, err = h.uploads.UploadChunk(ctx, "t1", id, strings.NewReader("12345"), 5)
	assert.ErrorIs(t, err, ErrChunkTooLarge)

	_, err = h.uploads.UploadChunk(ctx, "t1", id, strings.NewReader("12345"), -1)
	assert.ErrorIs(t, err, ErrChunkTooLarge)

	_, err = h.uploads.UploadChunk(ctx, "t1", "nope", strings.NewReader("1"), 1)
	assert.ErrorIs(t, err, upload.ErrNotFound)

	_, err = h.uploads.Complete(ctx, "t1", id)
	assert.ErrorIs(t, err, upload.ErrMissingChunks)

	_, err = h.uploads.Complete(ctx, "t1", "")
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestUploadCompleteAvoidsCollision(t *testing.T) {
	h := newHarness(t, defaultTenant(), 0)
	ctx := context.Background()

	id, err := h.uploads.Create(ctx, "t1", upload.CreateOptions{Filename: "clash", MimeType: "image/png"})
	require.NoError(t, err)
	sendChunks(t, h, id, "new")

	// 句柄创建之后同名文件被直接上传占用
	_, err = h.fileSvc.Upload(ctx, "t1", UploadFileInput{
		Filename: "clash", MimeType: "image/png", SizeBytes: 3, Reader: strings.NewReader("old"),
	})
	require.NoError(t, err)

	_, err = h.uploads.Complete(ctx, "t1", id)
	require.NoError(t, err)
	done := pollFinished(t, h, id)
	require.NotNil(t, done.URL)
	assert.NotEqual(t, "https://files.example.com/clash.png", *done.URL)
	assert.True(t, strings.HasSuffix(*done.URL, ".png"))

	original, err := h.files.GetByID(ctx, "t1", "clash.png")
	require.NoError(t, err)
	rc, err := h.store.Read(ctx, original.StoragePath)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "old", string(body))
}

func TestUploadCompleteRacingPollersGetOneURL(t *testing.T) {
	h := newHarness(t, defaultTenant(), 0)
	ctx := context.Background()

	id, err := h.uploads.Create(ctx, "t1", upload.CreateOptions{MimeType: "image/png"})
	require.NoError(t, err)
	sendChunks(t, h, id, "x")
	_, err = h.uploads.Complete(ctx, "t1", id)
	require.NoError(t, err)

	reg, ok := h.manager.Lookup("t1")
	require.True(t, ok)
	handle, ok := reg.Get(id)
	require.True(t, ok)
	select {
	case <-handle.Settled():
	case <-time.After(5 * time.Second):
		t.Fatal("assembly did not finish")
	}

	type outcome struct {
		res CompleteResult
		err error
	}
	results := make(chan outcome, 8)
	for range 8 {
		go func() {
			res, err := h.uploads.Complete(ctx, "t1", id)
			results <- outcome{res, err}
		}()
	}

	urls := 0
	for range 8 {
		o := <-results
		if o.err != nil {
			assert.ErrorIs(t, o.err, upload.ErrNotFound)
			continue
		}
		require.NotNil(t, o.res.URL)
		urls++
	}
	assert.Equal(t, 1, urls)
}
