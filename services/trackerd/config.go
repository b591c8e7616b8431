package trackerd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds trackerd's process settings.
type Config struct {
	Addr        string
	DatabaseURL string
	// ObjectStore is true when S3_ENDPOINT is set; Bucket is then required.
	ObjectStore bool
	Bucket      string
	Tokens      []string
	NATSURL     string
	PresignTTL  time.Duration
	LogLevel    string
}

// Load reads Config from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:        getEnv("TRACKERD_ADDR", ":8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ObjectStore: strings.TrimSpace(os.Getenv("S3_ENDPOINT")) != "",
		Bucket:      strings.TrimSpace(os.Getenv("S3_BUCKET")),
		Tokens:      splitList(os.Getenv("TRACKERD_TOKENS")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		LogLevel:    strings.ToUpper(getEnv("TRACKERD_LOG_LEVEL", "INFO")),
	}
	if cfg.ObjectStore && cfg.Bucket == "" {
		return Config{}, fmt.Errorf("S3_BUCKET is required when S3_ENDPOINT is set")
	}

	if raw := strings.TrimSpace(os.Getenv("TRACKERD_PRESIGN_TTL_SECONDS")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("invalid TRACKERD_PRESIGN_TTL_SECONDS: %q", raw)
		}
		cfg.PresignTTL = time.Duration(secs) * time.Second
	} else {
		cfg.PresignTTL = defaultPresignTTL
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
