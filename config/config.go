package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "EPIC_REPOS"

	// DefaultConfigPath is used when CONFIG_PATH is not set.
	DefaultConfigPath = "./config.yml"
)

// Malformed pull request URL policies.
const (
	PolicySkipReference = "skip-reference"
	PolicySkipIssue     = "skip-issue"
	PolicyFailRun       = "fail-run"
)

// Config represents the application configuration
type Config struct {
	Jira     JiraConfig     `mapstructure:"jira"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Search   SearchConfig   `mapstructure:"search"`
	Output   OutputConfig   `mapstructure:"output"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
}

type JiraConfig struct {
	RestEndpoint    string `mapstructure:"rest_endpoint"`    // e.g., https://jira.company.com
	Username        string `mapstructure:"username"`         // basic auth user
	Password        string `mapstructure:"password"`         // basic auth password or API token
	Epic            string `mapstructure:"epic"`             // epic key to analyze
	ApplicationType string `mapstructure:"application_type"` // dev-status integration
}

type HTTPConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UseTLS     bool          `mapstructure:"use_tls"`
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

type SearchConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	JSONFile string `mapstructure:"json_file"` // optional single-file JSON report
}

type ResolverConfig struct {
	MalformedURLPolicy string `mapstructure:"malformed_url_policy"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"` // empty disables run history
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.rest_endpoint", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.password", "")
	v.SetDefault("jira.epic", "")
	v.SetDefault("jira.application_type", "github")
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.use_tls", true)
	v.SetDefault("http.backoff_min", 3*time.Second)
	v.SetDefault("http.backoff_max", 6*time.Second)
	v.SetDefault("search.max_results", 50)
	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.json_file", "")
	v.SetDefault("resolver.malformed_url_policy", PolicySkipReference)
	v.SetDefault("store.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "ticket_to_pr_jira_analysis.log")
	v.SetDefault("server.port", "8080")
}

// Path returns the config file location: CONFIG_PATH if set, otherwise DefaultConfigPath.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig loads configuration from a YAML file, then applies
// EPIC_REPOS_* environment variables on top. A missing file is not an error.
func LoadConfig(filename string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", filename, err)
		default:
			if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", filename, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Jira.RestEndpoint = strings.TrimRight(cfg.Jira.RestEndpoint, "/")
	return cfg, nil
}

// Validate checks the settings needed to talk to the tracker.
func (c Config) Validate() error {
	switch {
	case c.Jira.RestEndpoint == "":
		return errors.New("jira.rest_endpoint is required")
	case c.Jira.Username == "":
		return errors.New("jira.username is required")
	case c.Jira.Password == "":
		return errors.New("jira.password is required")
	case c.HTTP.MaxRetries < 1:
		return fmt.Errorf("http.max_retries must be at least 1, got %d", c.HTTP.MaxRetries)
	case c.HTTP.BackoffMax < c.HTTP.BackoffMin:
		return fmt.Errorf("http.backoff_max (%s) is below http.backoff_min (%s)", c.HTTP.BackoffMax, c.HTTP.BackoffMin)
	case c.Search.MaxResults < 1:
		return fmt.Errorf("search.max_results must be at least 1, got %d", c.Search.MaxResults)
	}

	switch c.Resolver.MalformedURLPolicy {
	case PolicySkipReference, PolicySkipIssue, PolicyFailRun:
	default:
		return fmt.Errorf("unknown resolver.malformed_url_policy %q", c.Resolver.MalformedURLPolicy)
	}
	return nil
}

// ValidateRun additionally requires an epic key.
func (c Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Jira.Epic == "" {
		return errors.New("jira.epic is required")
	}
	return nil
}

const sampleConfig = `jira:
  rest_endpoint: https://jira.company.com
  username: your-username
  password: your-password
  epic: PROJ-1234
  application_type: github
http:
  max_retries: 5
  timeout: 60s
  use_tls: true
  backoff_min: 3s
  backoff_max: 6s
search:
  max_results: 50
output:
  dir: ./output
  json_file: "" # e.g. ./output/report.json
resolver:
  malformed_url_policy: skip-reference # skip-reference | skip-issue | fail-run
store:
  path: "" # e.g. ./output/history.db
log:
  level: info
  file: ticket_to_pr_jira_analysis.log
server:
  port: "8080"
`

// CreateSampleConfig writes a sample configuration file
func CreateSampleConfig(filename string) error {
	return os.WriteFile(filename, []byte(sampleConfig), 0644)
}
