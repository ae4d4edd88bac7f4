package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppHost  string
	HTTPPort string
	LogLevel string

	Elasticsearch struct {
		Hosts                []string          // host или host|role|role
		Headers              map[string]string // ES_HEADERS=Key:Value,Key:Value
		Index                string
		ConnectTimeout       time.Duration
		SocketTimeout        time.Duration
		MaxRetryTimeout      time.Duration
		NodeSelector         string
		Routing              string
		MaxRequestsPerSecond float64
	}

	Batch struct {
		WaitTimeout time.Duration // 0: ждать без ограничения
		MaxSize     int
	}

	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaTopics        []string
	KafkaBatchSize     int
	KafkaFlushInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		AppHost:  getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort: firstEnv("APP_PORT", "HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var errs []error
	durationEnv := func(key string, def time.Duration) time.Duration {
		d, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	intEnv := func(key string, def int) int {
		n, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg.Elasticsearch.Hosts = splitList(firstEnv("ES_HOSTS", "ELASTICSEARCH_URL", "http://localhost:9200"))
	headers, err := parseHeaders(getEnv("ES_HEADERS", ""))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Elasticsearch.Headers = headers
	cfg.Elasticsearch.Index = getEnv("ES_INDEX", "book")
	cfg.Elasticsearch.ConnectTimeout = durationEnv("ES_CONNECT_TIMEOUT", 5*time.Second)
	cfg.Elasticsearch.SocketTimeout = durationEnv("ES_SOCKET_TIMEOUT", 60*time.Second)
	cfg.Elasticsearch.MaxRetryTimeout = durationEnv("ES_MAX_RETRY_TIMEOUT", 60*time.Second)
	cfg.Elasticsearch.NodeSelector = getEnv("ES_NODE_SELECTOR", "skip_dedicated_masters")
	cfg.Elasticsearch.Routing = getEnv("ES_ROUTING", "round_robin")
	if v := os.Getenv("ES_MAX_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: ES_MAX_RPS: %w", err))
		}
		cfg.Elasticsearch.MaxRequestsPerSecond = rps
	}

	cfg.Batch.WaitTimeout = durationEnv("BATCH_WAIT_TIMEOUT", 0)
	cfg.Batch.MaxSize = intEnv("BATCH_MAX_SIZE", 1000)

	cfg.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", ""))
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", "book-service")
	cfg.KafkaTopics = splitList(getEnv("KAFKA_TOPICS", ""))
	cfg.KafkaBatchSize = intEnv("KAFKA_BATCH_SIZE", 100)
	cfg.KafkaFlushInterval = durationEnv("KAFKA_FLUSH_INTERVAL", time.Second)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Elasticsearch.Hosts) == 0 {
		return errors.New("config: ES_HOSTS is required")
	}
	if c.Elasticsearch.Index == "" {
		return errors.New("config: ES_INDEX is required")
	}
	switch c.Elasticsearch.Routing {
	case "round_robin", "affinity":
	default:
		return fmt.Errorf("config: ES_ROUTING must be round_robin or affinity, got %q", c.Elasticsearch.Routing)
	}
	if c.Elasticsearch.MaxRequestsPerSecond < 0 {
		return errors.New("config: ES_MAX_RPS must be non-negative")
	}
	if c.Batch.WaitTimeout < 0 {
		return errors.New("config: BATCH_WAIT_TIMEOUT must be non-negative")
	}
	if c.KafkaBatchSize <= 0 {
		return errors.New("config: KAFKA_BATCH_SIZE must be positive")
	}
	return nil
}

func (c *Config) AppEnv() string {
	return getEnv("APP_ENV", "development")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseHeaders(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" {
			return nil, fmt.Errorf("config: ES_HEADERS: %q is not Key:Value", pair)
		}
		out[k] = v
	}
	return out, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	keys := keysAndDef[:len(keysAndDef)-1]
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
