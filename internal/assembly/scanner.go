package assembly

import (
	"context"
	"fmt"
	"io"

	clamd "github.com/dutchcoders/go-clamd"
)

// Scanner 在最终文件写入前检查内容。
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 命令扫描内容。
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner 接受 "tcp://host:3310" 或 unix socket 路径。
func NewClamdScanner(addr string) *ClamdScanner {
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

// DialClamd 创建扫描器并确认 clamd 可用；不可用时返回错误，调用方不应带着失效的扫描器启动。
func DialClamd(addr string) (*ClamdScanner, error) {
	s := NewClamdScanner(addr)
	if err := s.Ping(); err != nil {
		return nil, fmt.Errorf("clamd unreachable at %s: %w", addr, err)
	}
	return s, nil
}

// Ping 检查 clamd 是否可用。
func (s *ClamdScanner) Ping() error {
	return s.client.Ping()
}

func (s *ClamdScanner) Scan(ctx context.Context, r io.Reader) error {
	abort := make(chan bool, 1)
	stop := context.AfterFunc(ctx, func() { abort <- true })
	defer stop()

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}

	var infected error
	for res := range results {
		switch res.Status {
		case clamd.RES_FOUND:
			infected = fmt.Errorf("%w: %s", ErrInfected, res.Description)
		case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
			if infected == nil {
				infected = fmt.Errorf("clamd scan: %s", res.Description)
			}
		}
	}
	return infected
}
