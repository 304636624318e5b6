package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/infrastructure/mq"
	"VectorLink/internal/modules/rag/infrastructure/pipeline"
	"VectorLink/pkg/zlog"

	"go.uber.org/zap"
)

// IngestTask 异步摄取任务的 wire 格式（Kafka 消息体）
type IngestTask struct {
	TaskID       string              `json:"task_id"`
	TenantUserID string              `json:"tenant_user_id"`
	Items        []document.Document `json:"items"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
}

// IngestConsumerWorker 消费摄取任务并执行 IngestPipeline
//
// 消息语义：
//   - 格式非法的消息跳过并提交位点（重投也无法成功）
//   - Pipeline 执行出错返回 error，不提交位点，等待重投；
//     摄取本身幂等，重复执行只会产生 skip
type IngestConsumerWorker struct {
	consumer mq.Consumer
	pipeline *pipeline.IngestPipeline
}

func NewIngestConsumerWorker(consumer mq.Consumer, p *pipeline.IngestPipeline) *IngestConsumerWorker {
	return &IngestConsumerWorker{consumer: consumer, pipeline: p}
}

func (w *IngestConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.pipeline == nil {
		return errors.New("pipeline is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *IngestConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	var task IngestTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		zlog.Warn("ingest consumer invalid task payload", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}
	if strings.TrimSpace(task.TenantUserID) == "" || len(task.Items) == 0 {
		zlog.Warn("ingest consumer empty task", zap.String("task_id", task.TaskID))
		return nil
	}

	res, err := w.pipeline.Ingest(ctx, &pipeline.IngestRequest{
		TenantUserID: task.TenantUserID,
		Items:        task.Items,
	})
	if err != nil {
		zlog.Warn("ingest consumer task failed",
			zap.String("task_id", task.TaskID),
			zap.String("tenant_user_id", task.TenantUserID),
			zap.String("error", scrubErrMsg(err.Error())),
		)
		return err
	}

	zlog.Info("ingest consumer task done",
		zap.String("task_id", task.TaskID),
		zap.String("tenant_user_id", task.TenantUserID),
		zap.Int("inserted", res.Report.Inserted),
		zap.Int("updated", res.Report.Updated),
		zap.Int("skipped", res.Report.Skipped),
		zap.Int("failed", res.Report.Failed),
	)
	return nil
}

// scrubErrMsg 日志脱敏：疑似含密钥的错误信息整体抹掉
func scrubErrMsg(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	low := strings.ToLower(s)
	if strings.Contains(low, "api_key") || strings.Contains(low, "apikey") || strings.Contains(low, "secret") || strings.Contains(s, "sk-") {
		return "redacted"
	}
	if len(s) > 255 {
		return s[:255]
	}
	return s
}
