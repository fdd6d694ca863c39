package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	BodyLimit   string `mapstructure:"BODY_LIMIT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	MLLPAddr    string        `mapstructure:"MLLP_ADDR"`
	MLLPTimeout time.Duration `mapstructure:"MLLP_TIMEOUT"`

	HL7Version              string `mapstructure:"HL7_VERSION"`
	HL7MessageType          string `mapstructure:"HL7_MESSAGE_TYPE"`
	HL7SendingApplication   string `mapstructure:"HL7_SENDING_APPLICATION"`
	HL7SendingFacility      string `mapstructure:"HL7_SENDING_FACILITY"`
	HL7ReceivingApplication string `mapstructure:"HL7_RECEIVING_APPLICATION"`
	HL7ReceivingFacility    string `mapstructure:"HL7_RECEIVING_FACILITY"`
	HL7Charset              string `mapstructure:"HL7_CHARSET"`
	HL7CountryCode          string `mapstructure:"HL7_COUNTRY_CODE"`
	HL7ProcessingID         string `mapstructure:"HL7_PROCESSING_ID"`
	HL7ControlID            string `mapstructure:"HL7_CONTROL_ID"`
	HL7IncludeHeader        bool   `mapstructure:"HL7_INCLUDE_HEADER"`
	HL7PatientClass         string `mapstructure:"HL7_PATIENT_CLASS"`

	WebhookURL    string `mapstructure:"WEBHOOK_URL"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents string `mapstructure:"WEBHOOK_EVENTS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "BODY_LIMIT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"MLLP_ADDR", "MLLP_TIMEOUT",
	"HL7_VERSION", "HL7_MESSAGE_TYPE",
	"HL7_SENDING_APPLICATION", "HL7_SENDING_FACILITY",
	"HL7_RECEIVING_APPLICATION", "HL7_RECEIVING_FACILITY",
	"HL7_CHARSET", "HL7_COUNTRY_CODE", "HL7_PROCESSING_ID", "HL7_CONTROL_ID",
	"HL7_INCLUDE_HEADER", "HL7_PATIENT_CLASS",
	"WEBHOOK_URL", "WEBHOOK_SECRET", "WEBHOOK_EVENTS",
}

// Load reads the environment, optionally overlaid on a .env file in the
// working directory. DATABASE_URL and MLLP_ADDR may be empty: the archive
// and the transport are then disabled.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	header := hl7v2.DefaultHeaderConfig()
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("MLLP_TIMEOUT", "30s")
	v.SetDefault("HL7_VERSION", header.Version)
	v.SetDefault("HL7_MESSAGE_TYPE", header.MessageType)
	v.SetDefault("HL7_SENDING_APPLICATION", "EDIFACT_CONVERTER")
	v.SetDefault("HL7_SENDING_FACILITY", "HOSPITAL_XYZ")
	v.SetDefault("HL7_RECEIVING_APPLICATION", header.ReceivingApplication)
	v.SetDefault("HL7_RECEIVING_FACILITY", "PHARMACY_ABC")
	v.SetDefault("HL7_CHARSET", header.Charset)
	v.SetDefault("HL7_COUNTRY_CODE", header.CountryCode)
	v.SetDefault("HL7_PROCESSING_ID", header.ProcessingID)
	v.SetDefault("HL7_INCLUDE_HEADER", true)
	v.SetDefault("HL7_PATIENT_CLASS", "O")
	v.SetDefault("WEBHOOK_EVENTS", "message.*")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HeaderConfig returns the MSH values for new messages.
func (c *Config) HeaderConfig() hl7v2.HeaderConfig {
	return hl7v2.HeaderConfig{
		Version:              c.HL7Version,
		MessageType:          c.HL7MessageType,
		SendingApplication:   c.HL7SendingApplication,
		SendingFacility:      c.HL7SendingFacility,
		ReceivingApplication: c.HL7ReceivingApplication,
		ReceivingFacility:    c.HL7ReceivingFacility,
		Charset:              c.HL7Charset,
		CountryCode:          c.HL7CountryCode,
		ProcessingID:         c.HL7ProcessingID,
		ControlID:            c.HL7ControlID,
		IncludeHeader:        c.HL7IncludeHeader,
	}
}

// WebhookEventPatterns splits WEBHOOK_EVENTS on commas.
func (c *Config) WebhookEventPatterns() []string {
	var out []string
	for _, p := range strings.Split(c.WebhookEvents, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the service cannot run with. Outside
// development a signing key of at least 32 bytes is required.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when ENV=%q", c.Env)
	}
	switch c.HL7MessageType {
	case "RDE^O11", "ORM^O01":
	default:
		return fmt.Errorf("HL7_MESSAGE_TYPE must be RDE^O11 or ORM^O01, got %q", c.HL7MessageType)
	}
	if !hl7v2.SupportedCharset(c.HL7Charset) {
		return fmt.Errorf("HL7_CHARSET %q is not supported", c.HL7Charset)
	}
	if c.MLLPAddr != "" && c.MLLPTimeout <= 0 {
		return fmt.Errorf("MLLP_TIMEOUT must be positive, got %s", c.MLLPTimeout)
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
