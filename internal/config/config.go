package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Env     string `toml:"env"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

// VectorConfig 向量索引后端配置
//
// backend 可选 memory（进程内暴力检索，适合几万条以内）或 milvus。
// 集合一旦建立，dim 与 metric 不可再变。
type VectorConfig struct {
	Backend    string `toml:"backend"`
	Collection string `toml:"collection"`
	VectorDim  int    `toml:"vectorDim"`
	MetricType string `toml:"metricType"`
}

type MilvusConfig struct {
	Address  string `toml:"address"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DBName   string `toml:"dbName"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	MaxInputRunes  int    `toml:"maxInputRunes"`
	Serialize      bool   `toml:"serialize"`
	CacheTTLSec    int    `toml:"cacheTTLSeconds"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

// RetrievalConfig 召回默认参数（调用方未显式传参时生效）
type RetrievalConfig struct {
	DefaultTopK     int     `toml:"defaultTopK"`
	MinScore        float64 `toml:"minScore"`
	Oversample      int     `toml:"oversample"`
	MaxPromptChars  int     `toml:"maxPromptChars"`
	ChunkSize       int     `toml:"chunkSize"`
	ChunkOverlap    int     `toml:"chunkOverlap"`
	IngestBatchSize int     `toml:"ingestBatchSize"`
}

type Config struct {
	MainConfig      `toml:"mainConfig"`
	LogConfig       `toml:"logConfig"`
	JwtConfig       `toml:"jwtConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	VectorConfig    `toml:"vectorConfig"`
	MilvusConfig    `toml:"milvusConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	AIConfig        `toml:"aiConfig"`
	RetrievalConfig `toml:"retrievalConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := os.Getenv("VECTORLINK_CONFIG")
	if configPath == "" {
		configPath = "configs/config_local.toml"
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		applyDefaults(config)
	}
	return config
}

func applyDefaults(c *Config) {
	if c.VectorConfig.Backend == "" {
		c.VectorConfig.Backend = "memory"
	}
	if c.VectorConfig.Collection == "" {
		c.VectorConfig.Collection = "vl_documents"
	}
	if c.VectorConfig.VectorDim <= 0 {
		c.VectorConfig.VectorDim = 768
	}
	if c.VectorConfig.MetricType == "" {
		c.VectorConfig.MetricType = "COSINE"
	}
	if c.RetrievalConfig.DefaultTopK <= 0 {
		c.RetrievalConfig.DefaultTopK = 5
	}
	if c.RetrievalConfig.Oversample <= 0 {
		c.RetrievalConfig.Oversample = 4
	}
	if c.RetrievalConfig.MaxPromptChars <= 0 {
		c.RetrievalConfig.MaxPromptChars = 6000
	}
	if c.RetrievalConfig.ChunkSize <= 0 {
		c.RetrievalConfig.ChunkSize = 500
	}
	if c.RetrievalConfig.ChunkOverlap < 0 {
		c.RetrievalConfig.ChunkOverlap = 0
	}
	if c.RetrievalConfig.IngestBatchSize <= 0 {
		c.RetrievalConfig.IngestBatchSize = 32
	}
	if c.AIConfig.Embedding.MaxInputRunes <= 0 {
		c.AIConfig.Embedding.MaxInputRunes = 8192
	}
}
