package release

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no explicit config path is given.
const DefaultConfigFile = "releasekit.yaml"

// BuildSettings configures the esbuild invocation of `releasectl build`.
type BuildSettings struct {
	EntryPoints   []string `yaml:"entry_points"`
	Outdir        string   `yaml:"outdir"`
	Sourcemap     bool     `yaml:"sourcemap"`
	Minify        bool     `yaml:"minify"`
	DebugIDs      *bool    `yaml:"debug_ids"`
	InjectRelease *bool    `yaml:"inject_release"`
}

// FileConfig is the on-disk shape of releasekit.yaml.
type FileConfig struct {
	URL       string `yaml:"url"`
	Project   string `yaml:"project"`
	AuthToken string `yaml:"auth_token"`
	Debug     bool   `yaml:"debug"`

	Release          string         `yaml:"release"`
	Dist             string         `yaml:"dist"`
	CleanArtifacts   bool           `yaml:"clean_artifacts"`
	UploadSourceMaps *bool          `yaml:"upload_source_maps"`
	Include          []string       `yaml:"include"`
	SetCommits       *CommitOptions `yaml:"set_commits"`
	Finalize         *bool          `yaml:"finalize"`
	Deploy           *DeployOptions `yaml:"deploy"`

	Build BuildSettings `yaml:"build"`
}

// EnvConfig holds the environment overrides applied on top of the file.
type EnvConfig struct {
	Release   string `env:"RELEASEKIT_RELEASE"`
	Dist      string `env:"RELEASEKIT_DIST"`
	URL       string `env:"RELEASEKIT_URL"`
	Project   string `env:"RELEASEKIT_PROJECT"`
	AuthToken string `env:"RELEASEKIT_AUTH_TOKEN"`
	DeployEnv string `env:"RELEASEKIT_DEPLOY_ENV"`
	Debug     bool   `env:"RELEASEKIT_DEBUG"`
	NATSURL   string `env:"NATS_URL"`
}

// Config is the resolved configuration of a release run.
type Config struct {
	Options   Options
	URL       string
	Project   string
	AuthToken string
	Debug     bool
	Build     BuildSettings
	// NATSURL enables step events and captured-error forwarding when set.
	NATSURL string
}

// LogLevel returns the minimum level the run logs at.
func (c Config) LogLevel() string {
	if c.Debug {
		return "DEBUG"
	}
	return "INFO"
}

// LoadConfig reads path (or DefaultConfigFile when path is empty and the file exists) and
// applies environment overrides from env. A nil env reads the process environment. The
// release name is left empty when neither source sets it; see DetectRelease.
func LoadConfig(ctx context.Context, path string, env envconfig.Lookuper) (Config, error) {
	if env == nil {
		env = envconfig.OsLookuper()
	}

	file, err := readConfigFile(path)
	if err != nil {
		return Config{}, err
	}

	var overrides EnvConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &overrides, Lookuper: env}); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	cfg := Config{
		Options: Options{
			Release:          file.Release,
			CleanArtifacts:   file.CleanArtifacts,
			UploadSourceMaps: boolOr(file.UploadSourceMaps, true),
			Include:          file.Include,
			Dist:             file.Dist,
			SetCommits:       file.SetCommits,
			Finalize:         boolOr(file.Finalize, true),
			Deploy:           file.Deploy,
		},
		URL:       file.URL,
		Project:   file.Project,
		AuthToken: file.AuthToken,
		Debug:     file.Debug || overrides.Debug,
		Build:     file.Build,
		NATSURL:   strings.TrimSpace(overrides.NATSURL),
	}

	setIfNotEmpty(&cfg.Options.Release, overrides.Release)
	setIfNotEmpty(&cfg.Options.Dist, overrides.Dist)
	setIfNotEmpty(&cfg.URL, overrides.URL)
	setIfNotEmpty(&cfg.Project, overrides.Project)
	setIfNotEmpty(&cfg.AuthToken, overrides.AuthToken)
	if overrides.DeployEnv != "" {
		if cfg.Options.Deploy == nil {
			cfg.Options.Deploy = &DeployOptions{}
		}
		cfg.Options.Deploy.Env = overrides.DeployEnv
	}
	if cfg.Options.Deploy != nil && strings.TrimSpace(cfg.Options.Deploy.Env) == "" {
		return Config{}, errors.New("deploy.env is required when deploy is configured")
	}

	return cfg, nil
}

func readConfigFile(path string) (FileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func setIfNotEmpty(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
