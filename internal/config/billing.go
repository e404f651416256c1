package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingCatalog describes what the billing endpoints may sell.
type BillingCatalog struct {
	DefaultCurrency   string                      `mapstructure:"default_currency"`
	SubscriptionTypes map[string]SubscriptionType `mapstructure:"subscription_types"`
}

type SubscriptionType struct {
	Description string `mapstructure:"description"`
}

func DefaultBillingCatalog() BillingCatalog {
	return BillingCatalog{
		DefaultCurrency: "usd",
		SubscriptionTypes: map[string]SubscriptionType{
			"monthly": {Description: "Monthly membership"},
			"yearly":  {Description: "Yearly membership"},
		},
	}
}

// Describe returns the catalog description for a subscription type, if any.
func (c BillingCatalog) Describe(subscriptionType string) (string, bool) {
	entry, ok := c.SubscriptionTypes[strings.ToLower(strings.TrimSpace(subscriptionType))]
	if !ok {
		return "", false
	}
	return entry.Description, true
}

type BillingCatalogHolder struct {
	current atomic.Value // holds BillingCatalog
}

// NewStaticBillingCatalogHolder wraps a fixed catalog, mostly for tests.
func NewStaticBillingCatalogHolder(catalog BillingCatalog) *BillingCatalogHolder {
	holder := &BillingCatalogHolder{}
	holder.current.Store(normalizeCatalog(catalog))
	return holder
}

func NewBillingCatalogHolder(log *zap.Logger) (*BillingCatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.billing")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/kinship")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KINSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingCatalog()
	v.SetDefault("billing.default_currency", defaults.DefaultCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	catalog, err := loadBillingCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := &BillingCatalogHolder{}
	holder.current.Store(catalog)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if holder.reload(v, log) {
				log.Info("billing catalog reloaded", zap.String("file", e.Name))
			}
		})
	}

	return holder, nil
}

func (h *BillingCatalogHolder) Get() BillingCatalog {
	return h.current.Load().(BillingCatalog)
}

// reload swaps in the catalog v currently holds. An invalid file keeps the previous catalog.
func (h *BillingCatalogHolder) reload(v *viper.Viper, log *zap.Logger) bool {
	catalog, err := loadBillingCatalog(v)
	if err != nil {
		log.Warn("billing catalog reload ignored", zap.Error(err))
		return false
	}
	h.current.Store(catalog)
	return true
}

// loadBillingCatalog reads the billing key, falling back to the default
// subscription types when the file lists none.
func loadBillingCatalog(v *viper.Viper) (BillingCatalog, error) {
	var catalog BillingCatalog
	if err := v.UnmarshalKey("billing", &catalog); err != nil {
		return BillingCatalog{}, err
	}
	if len(catalog.SubscriptionTypes) == 0 {
		catalog.SubscriptionTypes = DefaultBillingCatalog().SubscriptionTypes
	}
	if err := validateBillingCatalog(catalog); err != nil {
		return BillingCatalog{}, err
	}
	return normalizeCatalog(catalog), nil
}

func validateBillingCatalog(catalog BillingCatalog) error {
	currency := strings.TrimSpace(catalog.DefaultCurrency)
	if len(currency) != 3 {
		return errors.New("billing.default_currency must be an ISO 4217 code")
	}
	return nil
}

func normalizeCatalog(catalog BillingCatalog) BillingCatalog {
	out := BillingCatalog{
		DefaultCurrency:   strings.ToLower(strings.TrimSpace(catalog.DefaultCurrency)),
		SubscriptionTypes: make(map[string]SubscriptionType, len(catalog.SubscriptionTypes)),
	}
	for name, entry := range catalog.SubscriptionTypes {
		out.SubscriptionTypes[strings.ToLower(strings.TrimSpace(name))] = entry
	}
	return out
}
