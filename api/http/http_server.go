package http

import (
	"context"
	"fmt"
	"time"

	"VectorLink/internal/config"
	"VectorLink/internal/initial"
	jwtMiddleware "VectorLink/internal/middleware/jwt"
	"VectorLink/internal/modules/rag/application/service"
	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/chunking"
	"VectorLink/internal/modules/rag/infrastructure/embedding"
	"VectorLink/internal/modules/rag/infrastructure/llm"
	"VectorLink/internal/modules/rag/infrastructure/mq"
	"VectorLink/internal/modules/rag/infrastructure/mq/kafka"
	"VectorLink/internal/modules/rag/infrastructure/persistence"
	"VectorLink/internal/modules/rag/infrastructure/pipeline"
	"VectorLink/internal/modules/rag/infrastructure/queue"
	"VectorLink/internal/modules/rag/infrastructure/vectordb"
	ragHandler "VectorLink/internal/modules/rag/interface/http"
	ragWsHandler "VectorLink/internal/modules/rag/interface/websocket"
	"VectorLink/pkg/back"
	"VectorLink/pkg/ssl"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var GE *gin.Engine

// Resources 进程退出时需要释放的外部资源
type Resources struct {
	Index     repository.VectorIndex
	Publisher mq.Publisher
	Consumer  mq.Consumer
	Worker    *queue.IngestConsumerWorker
}

// Close 释放全部资源，任一失败不阻断其余
func (r *Resources) Close() {
	if r == nil {
		return
	}
	if r.Consumer != nil {
		if err := r.Consumer.Close(); err != nil {
			zlog.Warn("close kafka consumer failed", zap.Error(err))
		}
	}
	if r.Publisher != nil {
		if err := r.Publisher.Close(); err != nil {
			zlog.Warn("close kafka publisher failed", zap.Error(err))
		}
	}
	if r.Index != nil {
		if err := r.Index.Close(); err != nil {
			zlog.Warn("close vector index failed", zap.Error(err))
		}
	}
}

// Init 组装全部依赖并注册路由
//
// 后端按配置逐级退化：Milvus 未配置用内存索引，MySQL 未配置用内存台账，
// Kafka 未配置关闭异步摄取，chat model 未配置关闭问答接口。
func Init(ctx context.Context) (*Resources, error) {
	conf := config.GetConfig()
	res := &Resources{}

	// 1. 向量索引
	metric, err := document.ParseMetric(conf.VectorConfig.MetricType)
	if err != nil {
		return nil, err
	}
	var index repository.VectorIndex
	switch conf.VectorConfig.Backend {
	case "milvus":
		if err := initial.InitMilvus(ctx); err != nil {
			return nil, fmt.Errorf("init milvus: %w", err)
		}
		index, err = vectordb.NewMilvusIndex(initial.MilvusClient, conf.VectorConfig.Collection, conf.VectorConfig.VectorDim, metric)
		if err != nil {
			return nil, err
		}
	default:
		index, err = vectordb.NewMemoryIndex(conf.VectorConfig.VectorDim, metric)
		if err != nil {
			return nil, err
		}
	}
	res.Index = index
	zlog.Info("vector index ready",
		zap.String("backend", conf.VectorConfig.Backend),
		zap.Int("dim", conf.VectorConfig.VectorDim),
		zap.String("metric", string(metric)))

	// 2. 文档台账
	var ledger repository.DocumentLedger
	if conf.MysqlConfig.Host != "" {
		if err := initial.InitGorm(); err != nil {
			return nil, fmt.Errorf("init mysql: %w", err)
		}
		ledger = persistence.NewDocumentLedger(initial.GormDB)
	} else {
		zlog.Warn("mysql not configured, document ledger falls back to in-memory")
		ledger = persistence.NewMemoryLedger()
	}

	// 3. 向量化与切片
	embedder, embMeta, err := embedding.NewTextEmbedderFromConfig(conf)
	if err != nil {
		return nil, err
	}
	zlog.Info("embedder ready", zap.String("provider", embMeta.Provider), zap.Int("dim", embMeta.Dim))
	chunker := chunking.NewRecursiveChunker(conf.RetrievalConfig.ChunkSize, conf.RetrievalConfig.ChunkOverlap)

	// 4. Pipeline
	ingestPipe, err := pipeline.NewIngestPipeline(embedder, index, ledger, chunker, pipeline.IngestDefaults{
		BatchSize: conf.RetrievalConfig.IngestBatchSize,
	})
	if err != nil {
		return nil, err
	}
	queryPipe, err := pipeline.NewQueryPipeline(embedder, index, pipeline.QueryDefaults{
		TopK:     conf.RetrievalConfig.DefaultTopK,
		MinScore: conf.RetrievalConfig.MinScore,
	})
	if err != nil {
		return nil, err
	}

	var answerSvc service.AnswerService
	chatModel, chatMeta, err := llm.NewChatModelFromConfig(ctx, conf)
	if err != nil {
		zlog.Warn("chat model not configured, /rag/ask disabled", zap.Error(err))
	} else {
		answerPipe, err := pipeline.NewAnswerPipeline(embedder, index, chatModel, pipeline.AnswerDefaults{
			TopK:           conf.RetrievalConfig.DefaultTopK,
			MinScore:       conf.RetrievalConfig.MinScore,
			Oversample:     conf.RetrievalConfig.Oversample,
			MaxPromptChars: conf.RetrievalConfig.MaxPromptChars,
			GenTimeout:     time.Duration(conf.AIConfig.ChatModel.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		answerSvc = service.NewAnswerService(answerPipe)
		zlog.Info("chat model ready", zap.String("provider", chatMeta.Provider), zap.String("model", chatMeta.Model))
	}

	// 5. Kafka 异步摄取（可选）
	var asyncSvc service.AsyncIngestService
	if len(conf.KafkaConfig.Brokers) > 0 {
		adminCfg := kafka.TopicAdminConfig{Brokers: conf.KafkaConfig.Brokers, ClientID: conf.KafkaConfig.ClientID}
		if err := kafka.EnsureTopic(adminCfg, conf.KafkaConfig.IngestTopic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
			return nil, fmt.Errorf("ensure kafka topic: %w", err)
		}
		publisher, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			return nil, err
		}
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			GroupID:  conf.KafkaConfig.ConsumerGroupID,
			Topics:   []string{conf.KafkaConfig.IngestTopic},
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			_ = publisher.Close()
			return nil, err
		}
		res.Publisher = publisher
		res.Consumer = consumer
		res.Worker = queue.NewIngestConsumerWorker(consumer, ingestPipe)
		asyncSvc = service.NewAsyncIngestService(publisher, conf.KafkaConfig.IngestTopic)
		zlog.Info("kafka ready", zap.Strings("brokers", conf.KafkaConfig.Brokers), zap.String("topic", conf.KafkaConfig.IngestTopic))
	} else {
		zlog.Warn("kafka not configured, async ingest disabled")
	}

	// 6. Service 与 Handler
	querySvc := service.NewQueryService(queryPipe)
	ingestSvc := service.NewIngestService(ingestPipe)
	adminSvc := service.NewAdminService(index, ledger, conf.VectorConfig.Backend)

	queryH := ragHandler.NewQueryHandler(querySvc)
	ingestH := ragHandler.NewIngestHandler(ingestSvc, asyncSvc)
	adminH := ragHandler.NewAdminHandler(adminSvc)

	// 7. 路由
	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	GE.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "backend": conf.VectorConfig.Backend})
	})
	GE.POST("/dev/token", adminH.DevToken)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"uuid":     c.GetString("uuid"),
			"username": c.GetString("username"),
		})
	})
	authed.POST("/rag/query", queryH.Query)
	authed.POST("/rag/ingest", ingestH.Ingest)
	authed.POST("/rag/ingest/async", ingestH.IngestAsync)
	authed.POST("/rag/documents/delete", ingestH.DeleteDocuments)
	authed.GET("/rag/stats", adminH.Stats)
	if answerSvc != nil {
		answerH := ragHandler.NewAnswerHandler(answerSvc)
		answerWsH := ragWsHandler.NewAnswerWsHandler(answerSvc)
		authed.POST("/rag/ask", answerH.Ask)
		authed.GET("/rag/ask/ws", answerWsH.Serve)
	} else {
		authed.POST("/rag/ask", func(c *gin.Context) {
			back.Error(c, xerr.InternalServerError, "chat model 未配置")
		})
	}

	return res, nil
}
