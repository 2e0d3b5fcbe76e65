package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mailbox backends
const (
	BackendIMAP  = "imap"
	BackendGmail = "gmail"
)

// DefaultSearchTerms are the subject terms used when none are configured
var DefaultSearchTerms = []string{
	"factura",
	"facturacion",
	"factura electronica",
	"comprobante",
	"documento electrónico",
	"documento electronico",
}

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mailbox    MailboxConfig    `mapstructure:"mailbox"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the processing journal connection.
// An empty Driver disables the journal.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// MailboxConfig holds the mailbox connection and search configuration
type MailboxConfig struct {
	Backend        string        `mapstructure:"backend"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Folder         string        `mapstructure:"folder"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	SearchCriteria string        `mapstructure:"search_criteria"`
	SearchTerms    []string      `mapstructure:"search_terms"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// DocumentsConfig controls where and how documents are downloaded
type DocumentsConfig struct {
	PDFDir      string        `mapstructure:"pdf_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	PortalHosts []string      `mapstructure:"portal_hosts"`
}

// LedgerConfig holds the ledger workbook location
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// ExtractionConfig configures the document-understanding endpoint
type ExtractionConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	Autostart       bool `mapstructure:"autostart"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Env values arrive as a single string; accept JSON arrays or comma lists.
	cfg.Mailbox.SearchTerms = ParseList(v.Get("mailbox.search_terms"))
	cfg.Documents.PortalHosts = ParseList(v.Get("documents.portal_hosts"))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.path", "./data/invoicesync.db")

	v.SetDefault("mailbox.backend", BackendIMAP)
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.dial_timeout", "30s")
	v.SetDefault("mailbox.search_criteria", "UNSEEN")
	v.SetDefault("mailbox.search_terms", DefaultSearchTerms)

	v.SetDefault("documents.pdf_dir", "./data/temp_pdfs")
	v.SetDefault("documents.timeout", "30s")
	v.SetDefault("documents.max_bytes", 25*1024*1024)
	v.SetDefault("documents.portal_hosts", []string{"facte.siga.com.py"})

	v.SetDefault("ledger.path", "./data/facturas.xlsx")

	v.SetDefault("extraction.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("extraction.model", "gpt-4o")
	v.SetDefault("extraction.timeout", "2m")

	v.SetDefault("scheduler.interval_minutes", 60)
	v.SetDefault("scheduler.autostart", false)

	v.SetDefault("log.level", "info")
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "API_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Mailbox
	v.BindEnv("mailbox.backend", "EMAIL_BACKEND")
	v.BindEnv("mailbox.host", "EMAIL_HOST")
	v.BindEnv("mailbox.port", "EMAIL_PORT")
	v.BindEnv("mailbox.username", "EMAIL_USERNAME")
	v.BindEnv("mailbox.password", "EMAIL_PASSWORD")
	v.BindEnv("mailbox.folder", "EMAIL_FOLDER")
	v.BindEnv("mailbox.dial_timeout", "EMAIL_DIAL_TIMEOUT")
	v.BindEnv("mailbox.search_criteria", "EMAIL_SEARCH_CRITERIA")
	v.BindEnv("mailbox.search_terms", "EMAIL_SEARCH_TERMS")
	v.BindEnv("mailbox.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("mailbox.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("mailbox.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("mailbox.user_email", "GMAIL_USER_EMAIL")

	// Documents and ledger
	v.BindEnv("documents.pdf_dir", "TEMP_PDF_DIR")
	v.BindEnv("documents.timeout", "DOWNLOAD_TIMEOUT")
	v.BindEnv("documents.max_bytes", "DOWNLOAD_MAX_BYTES")
	v.BindEnv("documents.portal_hosts", "EINVOICE_PORTAL_HOSTS")
	v.BindEnv("ledger.path", "EXCEL_OUTPUT_PATH")

	// Extraction
	v.BindEnv("extraction.endpoint", "EXTRACTION_ENDPOINT")
	v.BindEnv("extraction.api_key", "OPENAI_API_KEY")
	v.BindEnv("extraction.model", "EXTRACTION_MODEL")
	v.BindEnv("extraction.timeout", "EXTRACTION_TIMEOUT")

	// Scheduler
	v.BindEnv("scheduler.interval_minutes", "JOB_INTERVAL_MINUTES")
	v.BindEnv("scheduler.autostart", "JOB_AUTOSTART")

	v.BindEnv("log.level", "LOG_LEVEL")
}

// ParseList normalizes a configured list. Strings are read as a JSON array
// first and as a comma-separated list otherwise; blanks are dropped.
func ParseList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	case string:
		trimmed := strings.TrimSpace(val)
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
				break
			}
			items = nil
		}
		if items == nil {
			items = strings.Split(trimmed, ",")
		}
	default:
		items = []string{fmt.Sprint(val)}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CriteriaTokens splits the configured base search criteria into tokens
func (c *MailboxConfig) CriteriaTokens() []string {
	return strings.Fields(c.SearchCriteria)
}

// GetDSN returns the MySQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "":
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required for mysql")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Mailbox.Backend {
	case BackendIMAP:
		if c.Mailbox.Host == "" || c.Mailbox.Username == "" || c.Mailbox.Password == "" {
			return fmt.Errorf("IMAP host and credentials are required when using IMAP")
		}
	case BackendGmail:
		if c.Mailbox.ClientID == "" || c.Mailbox.ClientSecret == "" || c.Mailbox.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when using the Gmail backend")
		}
	default:
		return fmt.Errorf("unsupported mailbox backend %q", c.Mailbox.Backend)
	}

	if c.Documents.PDFDir == "" {
		return fmt.Errorf("documents pdf_dir is required")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
