package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"paperplane/internal/assembly"
	"paperplane/internal/metrics"
	"paperplane/internal/repository"
)

// Status 是句柄状态，与持久化记录共用取值。
type Status = repository.UploadStatus

const (
	StatusOpen       = repository.UploadStatusOpen
	StatusProcessing = repository.UploadStatusProcessing
	StatusFinished   = repository.UploadStatusFinished
)

// Submitter 把组装任务交给独立的工作协程，*assembly.Pool 为默认实现。
type Submitter interface {
	Submit(job assembly.Job) (<-chan assembly.Result, error)
}

// Handle 表示一次进行中的分片上传，独占其分片目录。
// 状态只能 OPEN → PROCESSING → FINISHED 单向推进。
type Handle struct {
	id             string
	tenantID       string
	path           string
	createdAt      time.Time
	filename       string
	mimeType       string
	password       *string
	visible        bool
	namingStrategy string
	nameLength     int

	store     repository.PartialUploadRepository
	submitter Submitter
	onSettled func(id string)
	logger    *slog.Logger

	mu            sync.Mutex
	status        Status
	documentID    *string
	chunks        []int
	lastChunkID   int
	receivedBytes int64
	settled       chan struct{}
}

// View 是句柄状态的只读快照。
type View struct {
	ID            string
	TenantID      string
	Filename      string
	MimeType      string
	CreatedAt     time.Time
	Status        Status
	DocumentID    string
	Chunks        []string
	LastChunkID   int
	ReceivedBytes int64
}

func (h *Handle) ID() string { return h.id }

// Path 返回分片目录。
func (h *Handle) Path() string { return h.path }

// Snapshot 返回当前状态的拷贝。
func (h *Handle) Snapshot() View {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := View{
		ID:            h.id,
		TenantID:      h.tenantID,
		Filename:      h.filename,
		MimeType:      h.mimeType,
		CreatedAt:     h.createdAt,
		Status:        h.status,
		Chunks:        chunkNames(h.chunks),
		LastChunkID:   h.lastChunkID,
		ReceivedBytes: h.receivedBytes,
	}
	if h.documentID != nil {
		v.DocumentID = *h.documentID
	}
	return v
}

// ReceivedBytes 返回本进程内已登记分片的字节数。
func (h *Handle) ReceivedBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receivedBytes
}

// RegisterChunk 把临时文件移动到 <dir>/<index> 并登记为下一个分片。
// 分片编号由服务端分配（lastChunkID+1，从 0 开始），整个读改写在句柄锁内完成。
func (h *Handle) RegisterChunk(src string, size int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusOpen {
		return -1, ErrNotOpen
	}

	index := h.lastChunkID + 1
	dst := filepath.Join(h.path, strconv.Itoa(index))
	if err := moveFile(src, dst); err != nil {
		return -1, fmt.Errorf("store chunk %d: %w", index, err)
	}

	h.chunks = append(h.chunks, index)
	h.lastChunkID = index
	h.receivedBytes += size

	metrics.ChunksReceived.Inc()
	metrics.ChunkBytes.Add(float64(size))
	return index, nil
}

// Complete 把句柄交给组装工作协程。已是 PROCESSING 或 FINISHED 时不做任何事，
// 直接返回当前状态；没有任何分片时返回 ErrMissingChunks。
func (h *Handle) Complete(ctx context.Context) (Status, error) {
	h.mu.Lock()
	if h.status != StatusOpen {
		status := h.status
		h.mu.Unlock()
		return status, nil
	}
	if len(h.chunks) == 0 || h.lastChunkID < 0 {
		h.mu.Unlock()
		return StatusOpen, ErrMissingChunks
	}

	results, err := h.submitter.Submit(h.jobLocked())
	if err != nil {
		h.mu.Unlock()
		return StatusOpen, fmt.Errorf("submit assembly: %w", err)
	}
	h.status = StatusProcessing
	h.mu.Unlock()

	if err := h.store.UpdateStatus(ctx, h.id, StatusProcessing, nil); err != nil {
		h.logger.Error("persist upload status", "upload_id", h.id, "status", StatusProcessing, "error", err)
	}

	go h.await(results)
	return StatusProcessing, nil
}

func (h *Handle) jobLocked() assembly.Job {
	return assembly.Job{
		UploadID:       h.id,
		TenantID:       h.tenantID,
		ChunkDir:       h.path,
		CreatedAt:      h.createdAt,
		Filename:       h.filename,
		MimeType:       h.mimeType,
		Visible:        h.visible,
		Password:       h.password,
		Chunks:         append([]int(nil), h.chunks...),
		LastChunkID:    h.lastChunkID,
		NamingStrategy: h.namingStrategy,
		NameLength:     h.nameLength,
	}
}

// await 等待唯一的组装结果。失败时句柄停留在 PROCESSING，直到过期定时器回收。
func (h *Handle) await(results <-chan assembly.Result) {
	res, ok := <-results
	if !ok || res.Err != nil {
		err := res.Err
		if !ok {
			err = errors.New("result channel closed")
		}
		h.logger.Error("assembly failed", "upload_id", h.id, "tenant_id", h.tenantID, "error", err)
		h.signalSettled()
		return
	}

	h.mu.Lock()
	docID := res.FileID
	h.documentID = &docID
	h.status = StatusFinished
	h.mu.Unlock()

	// 持久化用独立 context，请求早已返回
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.store.UpdateStatus(ctx, h.id, StatusFinished, &docID); err != nil {
		h.logger.Error("persist upload status", "upload_id", h.id, "status", StatusFinished, "error", err)
	}

	if h.onSettled != nil {
		h.onSettled(h.id)
	}
	h.signalSettled()
}

func (h *Handle) signalSettled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.settled:
	default:
		close(h.settled)
	}
}

// Settled 在组装结果（成功或失败）处理完毕后关闭。
func (h *Handle) Settled() <-chan struct{} {
	return h.settled
}

// moveFile 优先 rename，跨设备时回退为复制后删除。
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
