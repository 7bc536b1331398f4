package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"readTimeout"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Company struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"company"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	CRM      CRMConfig      `mapstructure:"crm"`
	NATS     struct {
		URL           string `mapstructure:"url"`
		Stream        string `mapstructure:"stream"`
		SubjectPrefix string `mapstructure:"subjectPrefix"`
	} `mapstructure:"nats"`
	WorkerPools struct {
		Notifier WorkerPoolConfig `mapstructure:"notifier"`
	} `mapstructure:"workerPools"`
}

// WhatsAppConfig configures the Graph API client and the webhook handshake.
type WhatsAppConfig struct {
	BaseURL           string        `mapstructure:"baseURL"`
	APIVersion        string        `mapstructure:"apiVersion"`
	AccessToken       string        `mapstructure:"accessToken"`
	VerifyToken       string        `mapstructure:"verifyToken"`
	AppSecret         string        `mapstructure:"appSecret"`
	BusinessAccountID string        `mapstructure:"businessAccountID"` // expected entry[].id
	Timeout           time.Duration `mapstructure:"timeout"`
}

// CRMConfig holds the tenant defaults used when no tenant_settings row exists,
// plus engine tunables.
type CRMConfig struct {
	AutoCreateChannel          bool          `mapstructure:"autoCreateChannel"`
	PanelWindowDays            int           `mapstructure:"panelWindowDays"`
	ReplyWindow                time.Duration `mapstructure:"replyWindow"`
	WebhookSoftBudget          time.Duration `mapstructure:"webhookSoftBudget"`
	SettingsCacheTTL           time.Duration `mapstructure:"settingsCacheTTL"`
	DefaultResponsibleUserID   string        `mapstructure:"defaultResponsibleUserID"`
	RentOperationTypeID        int64         `mapstructure:"rentOperationTypeID"`
	MaintenanceOperationTypeID int64         `mapstructure:"maintenanceOperationTypeID"`
	DefaultTemplateName        string        `mapstructure:"defaultTemplateName"`
	DefaultTemplateLanguage    string        `mapstructure:"defaultTemplateLanguage"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`
	QueueSize  int           `mapstructure:"queueSize"`
	ExpiryTime time.Duration `mapstructure:"expiryTime"`
}

const maxSettingsCacheTTL = 60 * time.Second

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("whatsapp.baseURL", "https://graph.facebook.com")
	v.SetDefault("whatsapp.apiVersion", "v20.0")
	v.SetDefault("whatsapp.timeout", 30*time.Second)

	v.SetDefault("crm.autoCreateChannel", false)
	v.SetDefault("crm.panelWindowDays", 30)
	v.SetDefault("crm.replyWindow", 24*time.Hour)
	v.SetDefault("crm.webhookSoftBudget", 10*time.Second)
	v.SetDefault("crm.settingsCacheTTL", maxSettingsCacheTTL)
	v.SetDefault("crm.rentOperationTypeID", 2)
	v.SetDefault("crm.maintenanceOperationTypeID", 3)
	v.SetDefault("crm.defaultTemplateLanguage", "es_AR")

	v.SetDefault("nats.stream", "CRM_EVENTS")
	v.SetDefault("nats.subjectPrefix", "crm")

	v.SetDefault("workerPools.notifier.poolSize", 4)
	v.SetDefault("workerPools.notifier.queueSize", 1000)
	v.SetDefault("workerPools.notifier.expiryTime", time.Minute)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-crm-engine")
	v.AddConfigPath("/etc/daisi-crm-engine")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	directEnv := map[string]string{
		"POSTGRES_DSN":          "database.postgresDSN",
		"LOG_LEVEL":             "logLevel",
		"COMPANY_ID":            "company.id",
		"NATS_URL":              "nats.url",
		"WHATSAPP_ACCESS_TOKEN": "whatsapp.accessToken",
		"WHATSAPP_VERIFY_TOKEN": "whatsapp.verifyToken",
		"WHATSAPP_APP_SECRET":   "whatsapp.appSecret",
	}
	for env, key := range directEnv {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return &config, nil
}

// normalize clamps tunables to their allowed ranges.
func (c *Config) normalize() error {
	if c.CRM.SettingsCacheTTL <= 0 || c.CRM.SettingsCacheTTL > maxSettingsCacheTTL {
		c.CRM.SettingsCacheTTL = maxSettingsCacheTTL
	}
	if c.CRM.PanelWindowDays < 0 {
		return fmt.Errorf("crm.panelWindowDays must not be negative, got %d", c.CRM.PanelWindowDays)
	}
	if c.CRM.ReplyWindow <= 0 {
		c.CRM.ReplyWindow = 24 * time.Hour
	}
	if c.WhatsApp.Timeout <= 0 {
		c.WhatsApp.Timeout = 30 * time.Second
	}
	return nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
