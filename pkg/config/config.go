// Package config loads the storefront service configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/currency"
	"github.com/illmade-knight/go-storefront/pkg/media"
	"github.com/illmade-knight/go-storefront/pkg/microservice"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"github.com/illmade-knight/go-storefront/pkg/storefront"
	"github.com/illmade-knight/go-storefront/pkg/storefront/httpapi"
	"gopkg.in/yaml.v3"
)

// Catalog backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// RedisConfig enables the shared cache and cross-replica revalidation when
// Addr is set.
type RedisConfig struct {
	cache.RedisConfig `yaml:",inline"`
	Namespace         string `yaml:"namespace"`
	RevalidateChannel string `yaml:"revalidate_channel"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// CatalogConfig selects and tunes the product store.
type CatalogConfig struct {
	Backend   string                  `yaml:"backend"`
	Firestore catalog.FirestoreConfig `yaml:"firestore"`
	Service   catalog.ServiceConfig   `yaml:"service"`
	// SeedFile is a JSON array of products loaded into the memory backend.
	SeedFile string `yaml:"seed_file"`
	// LocalCacheSize and LocalCacheTTL bound the in-process shared cache used
	// without Redis.
	LocalCacheSize int           `yaml:"local_cache_size"`
	LocalCacheTTL  time.Duration `yaml:"local_cache_ttl"`
}

// AnalyticsConfig routes events through Pub/Sub into BigQuery. When disabled,
// events are kept in memory.
type AnalyticsConfig struct {
	Enabled       bool                     `yaml:"enabled"`
	TopicID       string                   `yaml:"topic_id"`
	IngestEnabled bool                     `yaml:"ingest_enabled"`
	Consumer      analytics.ConsumerConfig `yaml:"consumer"`
	Ingest        analytics.IngestConfig   `yaml:"ingest"`
	BigQuery      analytics.BigQueryConfig `yaml:"bigquery"`
	// Archive, when it names a bucket, also keeps ingested events in Cloud Storage.
	Archive analytics.ArchiveConfig `yaml:"archive"`
}

// MediaConfig enables image uploads to Cloud Storage.
type MediaConfig struct {
	Enabled bool            `yaml:"enabled"`
	GCS     media.GCSConfig `yaml:"gcs"`
}

// CurrencyConfig enables visitor currency detection and conversion.
type CurrencyConfig struct {
	Enabled         bool `yaml:"enabled"`
	currency.Config `yaml:",inline"`
}

// Config is the complete service configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Redis      RedisConfig             `yaml:"redis"`
	Catalog    CatalogConfig           `yaml:"catalog"`
	Analytics  AnalyticsConfig         `yaml:"analytics"`
	Media      MediaConfig             `yaml:"media"`
	Currency   CurrencyConfig          `yaml:"currency"`
	Query      querycache.ClientConfig `yaml:"query"`
	Storefront storefront.Config       `yaml:"storefront"`
	API        httpapi.Config          `yaml:"api"`
}

// Load reads path, expands ${VAR} references, applies environment overrides
// and defaults, then validates. An empty path starts from defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg after environment expansion. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.HTTPPort, "STOREFRONT_HTTP_PORT")
	set(&c.LogLevel, "STOREFRONT_LOG_LEVEL")
	set(&c.ProjectID, "GCP_PROJECT_ID")
	set(&c.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Redis.Password, "REDIS_PASSWORD")
	set(&c.API.AdminToken, "STOREFRONT_ADMIN_TOKEN")
	set(&c.Media.GCS.BucketName, "STOREFRONT_IMAGE_BUCKET")
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == "" {
		c.HTTPPort = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ServiceName == "" {
		c.ServiceName = "storefront"
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = c.ServiceName
	}
	if c.Redis.RevalidateChannel == "" {
		c.Redis.RevalidateChannel = c.ServiceName + ":invalidate"
	}
	if c.Catalog.Backend == "" {
		c.Catalog.Backend = BackendMemory
	}
	if c.Catalog.Firestore.ProjectID == "" {
		c.Catalog.Firestore.ProjectID = c.ProjectID
	}
	if c.Catalog.Firestore.CollectionName == "" {
		c.Catalog.Firestore.CollectionName = "products"
	}
	if c.Catalog.LocalCacheSize <= 0 {
		c.Catalog.LocalCacheSize = 1024
	}
	if c.Catalog.LocalCacheTTL <= 0 {
		c.Catalog.LocalCacheTTL = 5 * time.Minute
	}
	if c.Analytics.BigQuery.ProjectID == "" {
		c.Analytics.BigQuery.ProjectID = c.ProjectID
	}
	if c.Analytics.BigQuery.CredentialsFile == "" {
		c.Analytics.BigQuery.CredentialsFile = c.CredentialsFile
	}
	if c.Analytics.BigQuery.DatasetID == "" {
		c.Analytics.BigQuery.DatasetID = "storefront"
	}
	if c.Analytics.BigQuery.TableID == "" {
		c.Analytics.BigQuery.TableID = "events"
	}
	if c.Currency.BaseCurrency == "" {
		c.Currency.BaseCurrency = c.Catalog.Service.BaseCurrency
	}
	if c.Catalog.Service.BaseCurrency == "" {
		c.Catalog.Service.BaseCurrency = c.Currency.BaseCurrency
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	switch c.Catalog.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.Catalog.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("catalog.firestore.project_id (or project_id) is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.backend must be %q or %q, got %q", BackendMemory, BackendFirestore, c.Catalog.Backend))
	}
	if c.Analytics.Enabled {
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required when analytics is enabled"))
		}
		if c.Analytics.TopicID == "" {
			errs = append(errs, errors.New("analytics.topic_id is required when analytics is enabled"))
		}
		if c.Analytics.IngestEnabled && c.Analytics.Consumer.SubscriptionID == "" {
			errs = append(errs, errors.New("analytics.consumer.subscription_id is required when ingest is enabled"))
		}
	}
	if c.Media.Enabled && c.Media.GCS.BucketName == "" {
		errs = append(errs, errors.New("media.gcs.bucket_name is required when media is enabled"))
	}
	if c.Currency.Enabled && (c.Currency.GeoURL == "" || c.Currency.RatesURL == "") {
		errs = append(errs, errors.New("currency.geo_url and currency.rates_url are required when currency is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
