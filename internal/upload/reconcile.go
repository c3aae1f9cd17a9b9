package upload

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Reconcile 从目录列表推导已存在的分片：只保留规范的非负整数文件名，升序返回。
// 没有分片时 last 为 -1。
func Reconcile(names []string) (chunks []int, last int) {
	seen := make(map[int]struct{}, len(names))
	for _, name := range names {
		n, err := strconv.Atoi(name)
		if err != nil || n < 0 || strconv.Itoa(n) != name {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		chunks = append(chunks, n)
	}

	sort.Ints(chunks)
	if len(chunks) == 0 {
		return nil, -1
	}
	return chunks, chunks[len(chunks)-1]
}

// ReconcileDir 列出分片目录并调用 Reconcile。目录不存在时返回空结果。
func ReconcileDir(dir string) ([]int, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, -1, nil
		}
		return nil, -1, fmt.Errorf("list chunk dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	chunks, last := Reconcile(names)
	return chunks, last, nil
}

func chunkNames(chunks []int) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = strconv.Itoa(c)
	}
	return out
}
