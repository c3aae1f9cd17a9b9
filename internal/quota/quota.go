// Package quota 计算租户剩余存储预算。预算只是建议值，不做原子预留。
package quota

// Budget 表示一次上传可用的剩余字节数。
type Budget struct {
	Unlimited bool
	Bytes     int64
}

// Remaining 根据租户最大存储与当前用量计算剩余预算。
// maxStorageBytes 为 0 表示不限额；负数输入按 0 处理。
func Remaining(maxStorageBytes, currentUsageBytes int64) Budget {
	if maxStorageBytes == 0 {
		return Budget{Unlimited: true}
	}
	if maxStorageBytes < 0 {
		maxStorageBytes = 0
	}
	if currentUsageBytes < 0 {
		currentUsageBytes = 0
	}

	remaining := maxStorageBytes - currentUsageBytes
	if remaining < 0 {
		remaining = 0
	}
	return Budget{Bytes: remaining}
}

// Allows 报告预算能否容纳 n 字节。
func (b Budget) Allows(n int64) bool {
	return b.Unlimited || n <= b.Bytes
}

// Exhausted 报告预算是否已用尽。
func (b Budget) Exhausted() bool {
	return !b.Unlimited && b.Bytes == 0
}
