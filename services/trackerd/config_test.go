package trackerd

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    Config
		wantErr bool
	}{
		{
			name: "defaults",
			want: Config{Addr: ":8080", PresignTTL: defaultPresignTTL, LogLevel: "INFO"},
		},
		{
			name: "full",
			env: map[string]string{
				"TRACKERD_ADDR":                ":9090",
				"DATABASE_URL":                 "postgres://tracker@db/tracker",
				"S3_ENDPOINT":                  "minio:9000",
				"S3_BUCKET":                    "releases",
				"TRACKERD_TOKENS":              "alpha, beta,,",
				"NATS_URL":                     "nats://nats:4222",
				"TRACKERD_PRESIGN_TTL_SECONDS": "60",
				"TRACKERD_LOG_LEVEL":           "debug",
			},
			want: Config{
				Addr:        ":9090",
				DatabaseURL: "postgres://tracker@db/tracker",
				ObjectStore: true,
				Bucket:      "releases",
				Tokens:      []string{"alpha", "beta"},
				NATSURL:     "nats://nats:4222",
				PresignTTL:  time.Minute,
				LogLevel:    "DEBUG",
			},
		},
		{
			name:    "endpoint without bucket",
			env:     map[string]string{"S3_ENDPOINT": "minio:9000"},
			wantErr: true,
		},
		{
			name:    "invalid ttl",
			env:     map[string]string{"TRACKERD_PRESIGN_TTL_SECONDS": "-5"},
			wantErr: true,
		},
	}

	keys := []string{"TRACKERD_ADDR", "DATABASE_URL", "S3_ENDPOINT", "S3_BUCKET", "TRACKERD_TOKENS", "NATS_URL", "TRACKERD_PRESIGN_TTL_SECONDS", "TRACKERD_LOG_LEVEL"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range keys {
				t.Setenv(key, tt.env[key])
			}

			got, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
