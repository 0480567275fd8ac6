package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Mutter0815/BulkMailer/pkg/logx"
)

type APIConfig struct {
	Port     string `yaml:"port"`
	DBDSN    string `yaml:"db_dsn"`
	RMQURL   string `yaml:"rmq_url"`
	Queue    string `yaml:"queue"`
	LogLevel string `yaml:"log_level"`
	// AuthURL is the identity provider base URL used to verify bearer tokens.
	AuthURL    string `yaml:"auth_url"`
	AuthAPIKey string `yaml:"auth_api_key"`
}

type WorkerConfig struct {
	DBDSN       string `yaml:"db_dsn"`
	RMQURL      string `yaml:"rmq_url"`
	Queue       string `yaml:"queue"`
	LogLevel    string `yaml:"log_level"`
	MaxRetries  int    `yaml:"max_retries"`
	MetricsAddr string `yaml:"metrics_addr"`
	// Provider selects the delivery provider: "log" or "ses".
	Provider    string `yaml:"provider"`
	SESRegion   string `yaml:"ses_region"`
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
}

type ClientConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Token             string        `yaml:"token"`
	LogLevel          string        `yaml:"log_level"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxPollFailures   int           `yaml:"max_poll_failures"`
	MaxPollBackoff    time.Duration `yaml:"max_poll_backoff"`
	MaxAttachmentSize int64         `yaml:"max_attachment_size"`
	MaxAttachments    int           `yaml:"max_attachments"`
}

type fileConfig struct {
	API    APIConfig    `yaml:"api"`
	Worker WorkerConfig `yaml:"worker"`
	Client ClientConfig `yaml:"client"`
}

var (
	API    APIConfig
	Worker WorkerConfig
)

func DefaultAPI() APIConfig {
	return APIConfig{Port: "8080", Queue: "send_jobs", LogLevel: "info"}
}

func DefaultWorker() WorkerConfig {
	return WorkerConfig{
		Queue:       "send_jobs",
		LogLevel:    "info",
		MaxRetries:  3,
		MetricsAddr: ":9101",
		Provider:    "log",
		FromName:    "Bulk Email Sender",
	}
}

func DefaultClient() ClientConfig {
	return ClientConfig{
		BaseURL:           "http://localhost:8080",
		LogLevel:          "warn",
		PollInterval:      2 * time.Second,
		MaxPollFailures:   10,
		MaxPollBackoff:    30 * time.Second,
		MaxAttachmentSize: 10 << 20,
		MaxAttachments:    5,
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// readFile decodes CONFIG_FILE over the given defaults. No file is not an error.
func readFile(fc *fileConfig) error {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func LoadAPI() (APIConfig, error) {
	fc := fileConfig{API: DefaultAPI()}
	if err := readFile(&fc); err != nil {
		return APIConfig{}, err
	}
	c := fc.API
	c.Port = getenv("PORT", c.Port)
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.RMQURL = getenv("RMQ_URL", c.RMQURL)
	c.Queue = getenv("QUEUE", c.Queue)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.AuthURL = getenv("AUTH_URL", c.AuthURL)
	c.AuthAPIKey = getenv("AUTH_API_KEY", c.AuthAPIKey)
	return c, c.Validate()
}

func LoadWorker() (WorkerConfig, error) {
	fc := fileConfig{Worker: DefaultWorker()}
	if err := readFile(&fc); err != nil {
		return WorkerConfig{}, err
	}
	c := fc.Worker
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.RMQURL = getenv("RMQ_URL", c.RMQURL)
	c.Queue = getenv("QUEUE", c.Queue)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getenv("METRICS_ADDR", c.MetricsAddr)
	c.Provider = getenv("MAIL_PROVIDER", c.Provider)
	c.SESRegion = getenv("AWS_REGION", c.SESRegion)
	c.FromAddress = getenv("MAIL_FROM", c.FromAddress)
	c.FromName = getenv("MAIL_FROM_NAME", c.FromName)

	var err error
	if c.MaxRetries, err = getenvInt("MAX_RETRIES", c.MaxRetries); err != nil {
		return WorkerConfig{}, err
	}
	return c, c.Validate()
}

func LoadClient() (ClientConfig, error) {
	fc := fileConfig{Client: DefaultClient()}
	if err := readFile(&fc); err != nil {
		return ClientConfig{}, err
	}
	c := fc.Client
	c.BaseURL = getenv("BULKMAILER_URL", c.BaseURL)
	c.Token = getenv("BULKMAILER_TOKEN", c.Token)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	var err error
	if c.PollInterval, err = getenvDuration("POLL_INTERVAL", c.PollInterval); err != nil {
		return ClientConfig{}, err
	}
	if c.MaxPollBackoff, err = getenvDuration("MAX_POLL_BACKOFF", c.MaxPollBackoff); err != nil {
		return ClientConfig{}, err
	}
	if c.MaxPollFailures, err = getenvInt("MAX_POLL_FAILURES", c.MaxPollFailures); err != nil {
		return ClientConfig{}, err
	}
	return c, c.Validate()
}

func (c APIConfig) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.RMQURL == "" {
		errs = append(errs, errors.New("RMQ_URL is required"))
	}
	if c.Queue == "" {
		errs = append(errs, errors.New("queue name is required"))
	}
	if c.AuthURL == "" {
		errs = append(errs, errors.New("AUTH_URL is required"))
	}
	return errors.Join(errs...)
}

func (c WorkerConfig) Validate() error {
	var errs []error
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.RMQURL == "" {
		errs = append(errs, errors.New("RMQ_URL is required"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	switch c.Provider {
	case "log":
	case "ses":
		if c.FromAddress == "" {
			errs = append(errs, errors.New("MAIL_FROM is required for the ses provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail provider %q", c.Provider))
	}
	return errors.Join(errs...)
}

func (c ClientConfig) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("backend url is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxPollBackoff < c.PollInterval {
		errs = append(errs, fmt.Errorf("max poll backoff %s is shorter than the poll interval %s", c.MaxPollBackoff, c.PollInterval))
	}
	if c.MaxAttachmentSize <= 0 || c.MaxAttachments <= 0 {
		errs = append(errs, errors.New("attachment limits must be positive"))
	}
	return errors.Join(errs...)
}

func MustLoadAPI() {
	c, err := LoadAPI()
	if err != nil {
		logx.L().Fatalw("config_error", "service", "campaign-api", "error", err)
	}
	API = c
}

func MustLoadWorker() {
	c, err := LoadWorker()
	if err != nil {
		logx.L().Fatalw("config_error", "service", "sender-worker", "error", err)
	}
	Worker = c
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
