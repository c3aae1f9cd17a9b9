package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"paperplane/internal/events"
	"paperplane/internal/metrics"
	"paperplane/internal/naming"
	"paperplane/internal/repository"
	"paperplane/internal/storage"
)

const maxRenameAttempts = 8

// SecretIssuer 为最终文件生成访问密钥。
type SecretIssuer interface {
	FileAuthSecret(tenantID, fileID string, now time.Time) (string, error)
}

// Assembler 执行单个组装任务。
type Assembler struct {
	files   repository.FileRepository
	store   storage.Storage
	secrets SecretIssuer
	scanner Scanner
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// Option 定制 Assembler。
type Option func(*Assembler)

// WithScanner 启用组装前的内容扫描。
func WithScanner(s Scanner) Option {
	return func(a *Assembler) { a.scanner = s }
}

// WithPublisher 设置完成事件的发布器。
func WithPublisher(p events.Publisher) Option {
	return func(a *Assembler) { a.events = p }
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

func NewAssembler(files repository.FileRepository, store storage.Storage, secrets SecretIssuer, logger *slog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		files:   files,
		store:   store,
		secrets: secrets,
		events:  events.Nop{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 拼接分片、登记最终文件并删除分片目录。失败不重试。
func (a *Assembler) Run(ctx context.Context, job Job) Result {
	start := time.Now()
	res := a.run(ctx, job)
	res.UploadID = job.UploadID

	metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
	switch {
	case res.Err == nil:
		metrics.Assemblies.WithLabelValues("success").Inc()
		metrics.AssembledBytes.Add(float64(res.Size))
	case errors.Is(res.Err, ErrInfected):
		metrics.Assemblies.WithLabelValues("infected").Inc()
	default:
		metrics.Assemblies.WithLabelValues("failure").Inc()
	}
	return res
}

func (a *Assembler) run(ctx context.Context, job Job) Result {
	log := a.logger.With("upload_id", job.UploadID, "tenant_id", job.TenantID)

	if len(job.Chunks) == 0 {
		return Result{Err: ErrNoChunks}
	}
	if last := lastChunkID(job.Chunks, job.LastChunkID); last != job.LastChunkID {
		log.Warn("last chunk id mismatch, using recomputed value", "claimed", job.LastChunkID, "recomputed", last)
		job.LastChunkID = last
	}

	size, err := chunkBytes(job.ChunkDir, job.Chunks)
	if err != nil {
		return Result{Err: err}
	}

	if a.scanner != nil {
		scan := newChunkReader(job.ChunkDir, job.Chunks)
		err := a.scanner.Scan(ctx, scan)
		scan.Close()
		if err != nil {
			if errors.Is(err, ErrInfected) {
				log.Warn("upload rejected by scanner", "error", err)
				a.removeChunks(job, log)
			}
			return Result{Err: err}
		}
	}

	// 先以大小 0 登记记录占用文件名，写完后再登记大小；主键冲突时换名重试，保证不会覆盖已有对象
	now := a.now().UTC()
	record, err := a.reserve(ctx, job, now)
	if err != nil {
		return Result{Err: err}
	}
	fileID := record.ID

	chunks := newChunkReader(job.ChunkDir, job.Chunks)
	counter := &countingReader{r: chunks}
	_, err = a.store.Write(ctx, record.StoragePath, counter)
	chunks.Close()
	if err == nil && counter.n != size {
		err = fmt.Errorf("chunks changed during assembly: expected %d bytes, wrote %d", size, counter.n)
	}
	if err == nil {
		err = a.files.UpdateSize(ctx, job.TenantID, fileID, size)
	}
	if err != nil {
		a.discard(ctx, record.StoragePath, log)
		if delErr := a.files.Delete(ctx, job.TenantID, fileID); delErr != nil {
			log.Error("release file record", "file_id", fileID, "error", delErr)
		}
		return Result{Err: fmt.Errorf("write final file: %w", err)}
	}

	a.removeChunks(job, log)

	if err := a.events.Publish(ctx, events.SubjectUploadFinished, events.UploadFinished{
		TenantID: job.TenantID,
		UploadID: job.UploadID,
		FileID:   fileID,
		Size:     size,
		At:       now,
	}); err != nil {
		log.Warn("publish upload finished event", "error", err)
	}

	log.Info("upload assembled", "file_id", fileID, "size", size, "chunks", len(job.Chunks))
	return Result{FileID: fileID, Size: size}
}

func (a *Assembler) reserve(ctx context.Context, job Job, now time.Time) (*repository.FileRecord, error) {
	for range maxRenameAttempts {
		fileID, err := a.uniqueFileID(ctx, job)
		if err != nil {
			return nil, err
		}

		secret, err := a.secrets.FileAuthSecret(job.TenantID, fileID, now)
		if err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}

		record := &repository.FileRecord{
			ID:          fileID,
			TenantID:    job.TenantID,
			StoragePath: storage.FileKey(job.TenantID, fileID),
			MimeType:    job.MimeType,
			Visible:     job.Visible,
			Password:    job.Password,
			AuthSecret:  secret,
			CreatedAt:   now,
		}
		err = a.files.Create(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("persist file record: %w", err)
		}
	}
	return nil, fmt.Errorf("no free filename after %d attempts", maxRenameAttempts)
}

// uniqueFileID 目标文件名已被占用时改用新生成的名称，绝不覆盖已有文件。
func (a *Assembler) uniqueFileID(ctx context.Context, job Job) (string, error) {
	exists, err := a.files.Exists(ctx, job.TenantID, job.Filename)
	if err != nil {
		return "", fmt.Errorf("check filename: %w", err)
	}
	if !exists {
		return job.Filename, nil
	}

	strategy := naming.Parse(job.NamingStrategy)
	if strategy == naming.StrategyName {
		strategy = naming.StrategyRandom
	}
	ext := filepath.Ext(job.Filename)

	for range maxRenameAttempts {
		base, err := naming.Generate(strategy, job.NameLength, "")
		if err != nil {
			return "", err
		}
		candidate := naming.WithExtension(base, ext)
		exists, err := a.files.Exists(ctx, job.TenantID, candidate)
		if err != nil {
			return "", fmt.Errorf("check filename: %w", err)
		}
		if !exists {
			a.logger.Info("filename taken, renamed", "upload_id", job.UploadID, "requested", job.Filename, "file_id", candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free filename after %d attempts", maxRenameAttempts)
}

func (a *Assembler) removeChunks(job Job, log *slog.Logger) {
	if err := os.RemoveAll(job.ChunkDir); err != nil {
		log.Error("remove chunk dir", "path", job.ChunkDir, "error", err)
	}
}

func (a *Assembler) discard(ctx context.Context, key string, log *slog.Logger) {
	if err := a.store.Delete(ctx, key); err != nil {
		log.Error("discard final file", "key", key, "error", err)
	}
}

// chunkReader 按给定顺序依次打开分片文件，任一时刻只持有一个文件句柄。
type chunkReader struct {
	dir    string
	chunks []int
	cur    *os.File
}

func newChunkReader(dir string, chunks []int) *chunkReader {
	return &chunkReader{dir: dir, chunks: chunks}
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if len(c.chunks) == 0 {
				return 0, io.EOF
			}
			f, err := os.Open(filepath.Join(c.dir, strconv.Itoa(c.chunks[0])))
			if err != nil {
				return 0, fmt.Errorf("open chunk %d: %w", c.chunks[0], err)
			}
			c.cur = f
			c.chunks = c.chunks[1:]
		}

		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur.Close()
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.cur.Close()
			c.cur = nil
		}
		return n, err
	}
}

func (c *chunkReader) Close() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}

func chunkBytes(dir string, chunks []int) (int64, error) {
	var total int64
	for _, id := range chunks {
		info, err := os.Stat(filepath.Join(dir, strconv.Itoa(id)))
		if err != nil {
			return 0, fmt.Errorf("stat chunk %d: %w", id, err)
		}
		total += info.Size()
	}
	return total, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
