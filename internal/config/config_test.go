package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000"},
		Mailbox: MailboxConfig{
			Backend:  BackendIMAP,
			Host:     "mail.example.com",
			Username: "facturas@example.com",
			Password: "secret",
		},
		Documents: DocumentsConfig{PDFDir: "./data/pdfs"},
		Ledger:    LedgerConfig{Path: "./data/facturas.xlsx"},
		Scheduler: SchedulerConfig{IntervalMinutes: 60},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Server.Port = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Mailbox.Password = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Mailbox.Backend = BackendGmail
	assert.Error(t, cfg.Validate())
	cfg.Mailbox.ClientID = "id"
	cfg.Mailbox.ClientSecret = "secret"
	cfg.Mailbox.RefreshToken = "token"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Database.Driver = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "journal.db"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Scheduler.IntervalMinutes = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, cfg.GetDSN())
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"factura", "comprobante"}, ParseList(`["factura", "comprobante"]`))
	assert.Equal(t, []string{"factura", "comprobante"}, ParseList("factura, comprobante,"))
	assert.Equal(t, []string{"a", "b"}, ParseList([]any{"a", " b "}))
	assert.Equal(t, []string{"x"}, ParseList([]string{"x", ""}))
	assert.Nil(t, ParseList(nil))
}

func TestCriteriaTokens(t *testing.T) {
	cfg := MailboxConfig{SearchCriteria: " UNSEEN  SINCE 01-Jan-2024 "}
	assert.Equal(t, []string{"UNSEEN", "SINCE", "01-Jan-2024"}, cfg.CriteriaTokens())
}
