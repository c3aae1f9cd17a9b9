// Package metrics 定义分片上传核心的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paperplane"

var (
	// HandlesCreated 新建的分片上传句柄数
	HandlesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "handles_created_total",
		Help:      "Number of partial upload handles created",
	})

	// ActiveHandles 当前内存中的句柄数
	ActiveHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "active_handles",
		Help:      "Number of partial upload handles held in memory",
	})

	// ChunksReceived 已登记的分片数与字节数
	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "chunks_total",
		Help:      "Number of chunks registered",
	})

	ChunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "chunk_bytes_total",
		Help:      "Bytes received across all chunks",
	})

	// HandlesExpired 被过期定时器回收的句柄数
	HandlesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "handles_expired_total",
		Help:      "Number of partial upload handles removed by the expiry timer",
	})

	// Assemblies 按结果统计的组装次数（success / failure / infected）
	Assemblies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assembly",
		Name:      "jobs_total",
		Help:      "Reassembly jobs by outcome",
	}, []string{"outcome"})

	AssemblyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assembly",
		Name:      "duration_seconds",
		Help:      "Time spent reassembling a file",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	AssembledBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assembly",
		Name:      "bytes_total",
		Help:      "Bytes written to final files by reassembly",
	})

	// QueueDepth 等待组装的任务数
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "assembly",
		Name:      "queue_depth",
		Help:      "Reassembly jobs waiting for a worker",
	})
)
