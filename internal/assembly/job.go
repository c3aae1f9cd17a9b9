// Package assembly 在独立的工作协程中把分片拼接为最终文件。
//
// 工作协程只接收 Job 快照并通过结果通道回报，不持有也不修改分片句柄。
package assembly

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrPoolClosed 表示工作池已关闭，不再接收任务。
	ErrPoolClosed = errors.New("assembly: pool closed")
	// ErrQueueFull 表示等待队列已满。
	ErrQueueFull = errors.New("assembly: queue full")
	// ErrInfected 表示分片内容未通过恶意软件扫描。
	ErrInfected = errors.New("assembly: content rejected by malware scan")
	// ErrNoChunks 表示任务不含任何分片。
	ErrNoChunks = errors.New("assembly: job has no chunks")
)

// Job 是提交给工作协程的不可变快照。
type Job struct {
	UploadID       string
	TenantID       string
	ChunkDir       string
	CreatedAt      time.Time
	Filename       string
	MimeType       string
	Visible        bool
	Password       *string
	Chunks         []int
	LastChunkID    int
	NamingStrategy string
	NameLength     int
}

// Result 是组装结果；Err 非空时 FileID 无意义。
type Result struct {
	UploadID string
	FileID   string
	Size     int64
	Err      error
}

// lastChunkID 按降序排序后取首个元素重新推导最后分片编号，
// 与调用方给出的值不一致时以推导值为准。
func lastChunkID(chunks []int, claimed int) int {
	if len(chunks) == 0 {
		return claimed
	}
	sorted := append([]int(nil), chunks...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	return sorted[0]
}
