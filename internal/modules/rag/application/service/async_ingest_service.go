package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"VectorLink/internal/modules/rag/application/dto/request"
	"VectorLink/internal/modules/rag/application/dto/respond"
	"VectorLink/internal/modules/rag/infrastructure/mq"
	"VectorLink/internal/modules/rag/infrastructure/queue"
	"VectorLink/pkg/util"
)

// AsyncIngestService 异步摄取服务：任务入 Kafka，由消费组 worker 执行
type AsyncIngestService interface {
	Enqueue(ctx context.Context, req request.IngestRequest, tenantUserID string) (*respond.EnqueueRespond, error)
}

type asyncIngestServiceImpl struct {
	publisher mq.Publisher
	topic     string
}

func NewAsyncIngestService(publisher mq.Publisher, topic string) AsyncIngestService {
	return &asyncIngestServiceImpl{publisher: publisher, topic: strings.TrimSpace(topic)}
}

func (s *asyncIngestServiceImpl) Enqueue(ctx context.Context, req request.IngestRequest, tenantUserID string) (*respond.EnqueueRespond, error) {
	if s.publisher == nil {
		return nil, fmt.Errorf("publisher is nil")
	}
	if s.topic == "" {
		return nil, fmt.Errorf("ingest topic is empty")
	}
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return nil, fmt.Errorf("tenant_user_id is required")
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("items is empty")
	}

	task := queue.IngestTask{
		TaskID:       "task_" + util.GenerateShortUUID(),
		TenantUserID: tenant,
		Items:        toDomainDocs(req.Items),
		EnqueuedAt:   time.Now(),
	}
	value, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	// Key 取租户 ID：同租户任务同分区，顺序处理
	pr, err := s.publisher.Publish(ctx, mq.Message{
		Topic: s.topic,
		Key:   []byte(tenant),
		Value: value,
		Headers: map[string]string{
			"task_id": task.TaskID,
		},
	})
	if err != nil {
		return nil, err
	}
	return &respond.EnqueueRespond{
		TaskID:    task.TaskID,
		Items:     len(task.Items),
		Partition: pr.Partition,
		Offset:    pr.Offset,
	}, nil
}
