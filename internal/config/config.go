// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Browser BrowserConfig `mapstructure:"browser"`
	Captcha CaptchaConfig `mapstructure:"captcha"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Portals PortalsConfig `mapstructure:"portals"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational job store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int    `mapstructure:"max_conns"`
	MinConns     int    `mapstructure:"min_conns"`
	JobsTable    string `mapstructure:"jobs_table"`
	RecordsTable string `mapstructure:"records_table"`
}

// WorkerConfig governs the scheduling loop.
type WorkerConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	BatchSize           int    `mapstructure:"batch_size"`
	DefaultStateCode    string `mapstructure:"default_state_code"`
}

// BrowserConfig configures the headless browser driver.
type BrowserConfig struct {
	Proxy            string `mapstructure:"proxy"`
	UserAgent        string `mapstructure:"user_agent"`
	OpTimeoutSeconds int    `mapstructure:"op_timeout_seconds"`
	SettleDelayMs    int    `mapstructure:"settle_delay_ms"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
}

// CaptchaConfig selects and orders automated captcha solving methods.
// Resolution order is fixed: OCR, then 2Captcha, then Anti-Captcha.
type CaptchaConfig struct {
	OCREnabled      bool   `mapstructure:"ocr_enabled"`
	TesseractBinary string `mapstructure:"tesseract_binary"`
	TwoCaptchaKey   string `mapstructure:"two_captcha_key"`
	AntiCaptchaKey  string `mapstructure:"anti_captcha_key"`
	PollSeconds     int    `mapstructure:"poll_seconds"`
	MaxPollAttempts int    `mapstructure:"max_poll_attempts"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// SMSConfig configures the virtual-number provider used for OTP logins.
type SMSConfig struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	Country            string `mapstructure:"country"`
	Service            string `mapstructure:"service"`
	PollSeconds        int    `mapstructure:"poll_seconds"`
	CodeTimeoutSeconds int    `mapstructure:"code_timeout_seconds"`
}

// PortalsConfig carries portal URLs and candidate selector lists. Selector
// lists are configuration data, not code: portal redesigns land here.
type PortalsConfig struct {
	MeebhoomiBaseURL    string `mapstructure:"meebhoomi_base_url"`
	MeebhoomiRORURL     string `mapstructure:"meebhoomi_ror_url"`
	MeebhoomiAdangalURL string `mapstructure:"meebhoomi_adangal_url"`
	TelanganaURL        string `mapstructure:"telangana_url"`

	CaptchaImageSelectors []string `mapstructure:"captcha_image_selectors"`
	PhoneInputSelectors   []string `mapstructure:"phone_input_selectors"`
	OTPButtonSelectors    []string `mapstructure:"otp_button_selectors"`
	OTPInputSelectors     []string `mapstructure:"otp_input_selectors"`
	VerifyButtonSelectors []string `mapstructure:"verify_button_selectors"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.default_state_code", "AP")
	v.SetDefault("browser.op_timeout_seconds", 10)
	v.SetDefault("browser.settle_delay_ms", 500)
	v.SetDefault("browser.poll_interval_ms", 100)
	v.SetDefault("captcha.ocr_enabled", true)
	v.SetDefault("captcha.tesseract_binary", "tesseract")
	v.SetDefault("captcha.poll_seconds", 5)
	v.SetDefault("captcha.max_poll_attempts", 24)
	v.SetDefault("captcha.timeout_seconds", 120)
	v.SetDefault("sms.base_url", "https://api.sms-activate.org/stubs/handler_api.php")
	v.SetDefault("sms.country", "22")
	v.SetDefault("sms.service", "ot")
	v.SetDefault("sms.poll_seconds", 3)
	v.SetDefault("sms.code_timeout_seconds", 120)
	v.SetDefault("portals.meebhoomi_base_url", "https://meebhoomi.ap.gov.in")
	v.SetDefault("portals.meebhoomi_ror_url", "https://meebhoomi.ap.gov.in/ROR.aspx")
	v.SetDefault("portals.meebhoomi_adangal_url", "https://meebhoomi.ap.gov.in/Adangal.aspx")
	v.SetDefault("portals.telangana_url", "https://bhubharati.telangana.gov.in/knowLandStatus")
	v.SetDefault("portals.captcha_image_selectors", []string{
		"#ctl00_ContentPlaceHolder1_imgCaptcha",
		"img[src*='captcha']",
		".captcha-image",
	})
	v.SetDefault("portals.phone_input_selectors", []string{
		"input[placeholder*='Mobile']",
		"#txtMobile",
		"input[type='tel']",
		"input[name*='mobile']",
	})
	v.SetDefault("portals.otp_button_selectors", []string{
		"#btnGetOTP",
		"button[type='submit']",
		".btn-primary",
	})
	v.SetDefault("portals.otp_input_selectors", []string{
		"input[placeholder*='OTP']",
		"#txtOTP",
		"input[name*='otp']",
		"input[maxlength='6']",
	})
	v.SetDefault("portals.verify_button_selectors", []string{
		"#btnVerify",
		"button[type='submit']",
	})
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return fmt.Errorf("worker.poll_interval_seconds must be > 0")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be > 0")
	}
	if c.Captcha.OCREnabled && c.Captcha.TesseractBinary == "" {
		return fmt.Errorf("captcha.tesseract_binary must be set when OCR is enabled")
	}
	if c.Captcha.MaxPollAttempts <= 0 {
		return fmt.Errorf("captcha.max_poll_attempts must be > 0")
	}
	return nil
}

// PollInterval converts the worker poll setting into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}
