package ragsync

import "time"

// Promotion rule type selection.
const (
	RuleTypesCart    = "cart"
	RuleTypesCatalog = "catalog"
	RuleTypesBoth    = "both"
)

const (
	defaultEnvironment      = "production"
	defaultTimeout          = 30 * time.Second
	defaultBatchSize        = 50
	defaultMaxRetries       = 3
	defaultRetention        = 7 * 24 * time.Hour
	defaultStuckAfter       = 30 * time.Minute
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 5 * time.Minute
)

// DefaultRetryDelays is the backoff schedule indexed by attempt number.
func DefaultRetryDelays() []time.Duration {
	return []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute}
}

// Config is the configuration surface consumed by the engine.
type Config struct {
	// Enabled gates all producer and dispatcher activity.
	Enabled bool
	// Environment is sent in the X-Environment header.
	Environment string
	// Debug enables verbose per-item logging.
	Debug bool

	// WebhookURL is the destination endpoint.
	WebhookURL string
	// TenantID is sent in the X-Tenant-Id header.
	TenantID string
	// APISecret is the shared HMAC secret.
	APISecret string
	// Timeout bounds the outbound HTTP call.
	Timeout time.Duration

	// BatchSize caps items per dispatch pass.
	BatchSize int
	// MaxRetries is the retry budget before an item goes dead.
	MaxRetries int
	// RetryDelays is the backoff schedule indexed by attempt number.
	RetryDelays []time.Duration
	// Retention is how long sent rows are kept before cleanup.
	Retention time.Duration
	// StuckAfter is how long a processing row may sit before the
	// janitor sweep resets it to pending.
	StuckAfter time.Duration

	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call.
	RecoveryTimeout time.Duration

	// Per-entity-type sync gates.
	ProductsEnabled   bool
	CmsPagesEnabled   bool
	CmsBlocksEnabled  bool
	CategoriesEnabled bool
	PromotionsEnabled bool
	// PromotionRuleTypes selects cart rules, catalog rules, or both.
	PromotionRuleTypes string
}

// WithDefaults fills unset numeric, duration, and string fields.
// Boolean gates are left as provided.
func (c Config) WithDefaults() Config {
	if c.Environment == "" {
		c.Environment = defaultEnvironment
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = DefaultRetryDelays()
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaultStuckAfter
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaultRecoveryTimeout
	}
	if c.PromotionRuleTypes == "" {
		c.PromotionRuleTypes = RuleTypesBoth
	}

	return c
}

// ConnectionConfigured reports whether the webhook URL and secret are set.
func (c Config) ConnectionConfigured() bool {
	return c.WebhookURL != "" && c.APISecret != ""
}

// SyncCartRules reports whether cart price rules should be synced.
func (c Config) SyncCartRules() bool {
	return c.PromotionRuleTypes == RuleTypesCart || c.PromotionRuleTypes == RuleTypesBoth
}

// SyncCatalogRules reports whether catalog price rules should be synced.
func (c Config) SyncCatalogRules() bool {
	return c.PromotionRuleTypes == RuleTypesCatalog || c.PromotionRuleTypes == RuleTypesBoth
}

// SyncEnabled reports whether the given entity type is gated on.
func (c Config) SyncEnabled(entityType EntityType) bool {
	if !c.Enabled {
		return false
	}
	switch entityType {
	case EntityTypeProduct:
		return c.ProductsEnabled
	case EntityTypeCmsPage:
		return c.CmsPagesEnabled
	case EntityTypeCmsBlock:
		return c.CmsBlocksEnabled
	case EntityTypeCategory:
		return c.CategoriesEnabled
	case EntityTypePromotion:
		return c.PromotionsEnabled && c.SyncCartRules()
	case EntityTypeCatalogRule:
		return c.PromotionsEnabled && c.SyncCatalogRules()
	default:
		return true
	}
}

// ConfigProvider resolves configuration, optionally per store scope.
type ConfigProvider interface {
	// Config returns the configuration for the given store (0 = global).
	Config(storeID int) Config
}

// StaticConfig is a ConfigProvider backed by a single Config value.
type StaticConfig struct {
	cfg Config
}

// NewStaticConfig wraps a Config, applying defaults.
func NewStaticConfig(cfg Config) StaticConfig {
	return StaticConfig{cfg: cfg.WithDefaults()}
}

// Config implements ConfigProvider.
func (s StaticConfig) Config(int) Config {
	return s.cfg
}
