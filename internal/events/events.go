// Package events 发布上传领域事件。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectUploadFinished 在分片上传组装完成后发布。
const SubjectUploadFinished = "uploads.finished"

// UploadFinished 是 SubjectUploadFinished 的负载。
type UploadFinished struct {
	TenantID string    `json:"tenant_id"`
	UploadID string    `json:"upload_id"`
	FileID   string    `json:"file_id"`
	Size     int64     `json:"size"`
	At       time.Time `json:"at"`
}

// Publisher 发布事件，失败不影响主流程。
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close()
}

// Nop 丢弃全部事件。
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close()                                      {}

// NATSPublisher 通过 NATS core 发布 JSON 事件。
type NATSPublisher struct {
	conn *nats.Conn
}

// ConnectNATS 连接 NATS，断线后无限重连。
func ConnectNATS(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("paperplane"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close 刷新缓冲后关闭连接。
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
