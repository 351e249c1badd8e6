// internal/pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合了服务运行所需的全部外部配置，全部来自环境变量。
type Config struct {
	HTTPPort int

	MySQLDSN  string
	RedisAddr string

	// KafkaBrokers 来自逗号分隔的 KAFKA_BROKERS
	KafkaBrokers []string

	JaegerEndpoint string

	// EventsTopic 是所有广播事件落到的 Kafka 主题
	EventsTopic string

	// SettingsCacheTTL 是下单设置在 Redis 缓存里的存活时长
	SettingsCacheTTL time.Duration
}

// Load 从环境变量读取配置，缺省值面向本地开发环境。
func Load() *Config {
	return &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		MySQLDSN:       getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?charset=utf8mb4&parseTime=True&loc=Local"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS", "localhost:9092"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		EventsTopic:    getEnv("EVENTS_TOPIC", "storefront-events"),
		SettingsCacheTTL: time.Duration(getEnvInt("SETTINGS_CACHE_TTL_SECONDS", 60)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
