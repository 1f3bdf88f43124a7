package config

import (
	"errors"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Database      string `yaml:"database"`
	EncryptionKey string `yaml:"encryption_key"`
	TempDir       string `yaml:"temp_dir"`

	OAuth struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		TokenURL     string `yaml:"token_url"`
	} `yaml:"oauth"`

	Drive struct {
		MetadataURL        string        `yaml:"metadata_url"`
		UploadURL          string        `yaml:"upload_url"`
		FeedsURL           string        `yaml:"feeds_url"`
		ResumableThreshold int64         `yaml:"resumable_threshold"`
		ResumeAttempts     int           `yaml:"resume_attempts"`
		BackoffBase        int           `yaml:"backoff_base"`
		BackoffUnit        time.Duration `yaml:"backoff_unit"`
		BatchLimit         int           `yaml:"batch_limit"`
		Timeout            time.Duration `yaml:"timeout"`
		MaxRetries         int           `yaml:"max_retries"`
	} `yaml:"drive"`

	Export struct {
		Type      string `yaml:"type"`
		Dir       string `yaml:"dir"`
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Secure    bool   `yaml:"secure"`
		Region    string `yaml:"region"`
	} `yaml:"export"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads the YAML file at path, then applies environment
// overrides and defaults. An empty path yields the environment and defaults
// only.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("DWRITER_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("DWRITER_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("DWRITER_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("DWRITER_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Database == "" {
		cfg.Database = "sqlite://dwriter.db"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Drive.ResumableThreshold == 0 {
		cfg.Drive.ResumableThreshold = 5 << 20
	}
	if cfg.Drive.ResumeAttempts == 0 {
		cfg.Drive.ResumeAttempts = 7
	}
	if cfg.Drive.BackoffBase == 0 {
		cfg.Drive.BackoffBase = 2
	}
	if cfg.Drive.BackoffUnit == 0 {
		cfg.Drive.BackoffUnit = time.Second
	}
	if cfg.Drive.BatchLimit == 0 {
		cfg.Drive.BatchLimit = 500
	}
	if cfg.Drive.Timeout == 0 {
		cfg.Drive.Timeout = 5 * time.Minute
	}
	if cfg.Drive.MaxRetries == 0 {
		cfg.Drive.MaxRetries = 3
	}
	if cfg.Export.Type == "" {
		cfg.Export.Type = "dir"
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "exports"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
