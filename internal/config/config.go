// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Coderec    CoderecConfig    `mapstructure:"coderec"`
	MinHash    MinHashConfig    `mapstructure:"minhash"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// CoderecConfig 存储 coderec 区域分类器的配置。
// Enabled 为 false 时所有文件的区域列表均为空。
type CoderecConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Location string `mapstructure:"location"`
}

// MinHashConfig 存储 MinHash 引擎的部署参数。
// 同一部署内必须保持固定，否则已入库的签名将不可比较。
type MinHashConfig struct {
	SignatureLength int   `mapstructure:"signature_length"`
	DictSize        int32 `mapstructure:"dict_size"`
	Seed            int64 `mapstructure:"seed"`
}

// UploadConfig 存储上传限制相关的配置。
type UploadConfig struct {
	MaxSizeMB int64 `mapstructure:"max_size_mb"`
}

// SimilarityConfig 存储相似度评分的权重与阈值。
// 权重表允许按部署覆盖（离线的随机权重搜索会重写它们）。
type SimilarityConfig struct {
	HighThreshold   float64            `mapstructure:"high_threshold"`
	LowThreshold    float64            `mapstructure:"low_threshold"`
	FullWeights     map[string]float64 `mapstructure:"full_weights"`
	FallbackWeights map[string]float64 `mapstructure:"fallback_weights"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	ApplyDefaults(&Conf)
}

// ApplyDefaults 填充未配置项的默认值。
func ApplyDefaults(c *Config) {
	if c.MinHash.SignatureLength == 0 {
		c.MinHash.SignatureLength = 512
	}
	if c.MinHash.DictSize == 0 {
		c.MinHash.DictSize = 16_777_216
	}
	if c.MinHash.Seed == 0 {
		c.MinHash.Seed = 123_456_789
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 512
	}
	if c.Similarity.HighThreshold == 0 {
		c.Similarity.HighThreshold = 0.6094
	}
	if c.Similarity.LowThreshold == 0 {
		c.Similarity.LowThreshold = 0.30
	}
	if len(c.Similarity.FullWeights) == 0 {
		c.Similarity.FullWeights = map[string]float64{
			"ELF_HEADER_VECTOR":     0.032,
			"STRING_MINHASH":        0.125,
			"SECTION_SIZE_VECTOR":   0.338,
			"CODE_REGION_LIST":      0.190,
			"REGION_COUNT_SIM":      0.021,
			"AVG_REGION_LENGTH_SIM": 0.007,
			"PROGRAM_HEADER_VECTOR": 0.277,
			"NONE":                  0.009,
		}
	}
	if len(c.Similarity.FallbackWeights) == 0 {
		c.Similarity.FallbackWeights = map[string]float64{
			"STRING_MINHASH":        0.100,
			"CODE_REGION_LIST":      0.154,
			"REGION_COUNT_SIM":      0.048,
			"AVG_REGION_LENGTH_SIM": 0.009,
			"PROGRAM_HEADER_VECTOR": 0.688,
		}
	}
}
