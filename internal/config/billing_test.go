package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestBillingCatalogDescribeIsCaseInsensitive(t *testing.T) {
	holder := NewStaticBillingCatalogHolder(BillingCatalog{
		DefaultCurrency: "EUR",
		SubscriptionTypes: map[string]SubscriptionType{
			"Premium": {Description: "Premium plan"},
		},
	})

	catalog := holder.Get()
	if catalog.DefaultCurrency != "eur" {
		t.Fatalf("expected normalized currency eur, got %q", catalog.DefaultCurrency)
	}
	desc, ok := catalog.Describe(" premium ")
	if !ok || desc != "Premium plan" {
		t.Fatalf("expected premium description, got %q (found=%v)", desc, ok)
	}
	if _, ok := catalog.Describe("basic"); ok {
		t.Fatalf("expected unknown subscription type to be absent")
	}
}

func TestValidateBillingCatalogRejectsBadCurrency(t *testing.T) {
	if err := validateBillingCatalog(BillingCatalog{DefaultCurrency: "dollars"}); err == nil {
		t.Fatalf("expected invalid currency error")
	}
	if err := validateBillingCatalog(DefaultBillingCatalog()); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func writeBillingFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write billing file: %v", err)
	}
}

func TestBillingCatalogReloadFallsBackToDefaultTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yml")
	writeBillingFile(t, path, "billing:\n  default_currency: eur\n  subscription_types:\n    weekly:\n      description: Weekly pass\n")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read config: %v", err)
	}
	catalog, err := loadBillingCatalog(v)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	holder := NewStaticBillingCatalogHolder(catalog)
	if _, ok := holder.Get().Describe("weekly"); !ok {
		t.Fatalf("expected weekly type from file")
	}

	writeBillingFile(t, path, "billing:\n  default_currency: gbp\n")
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("re-read config: %v", err)
	}
	if !holder.reload(v, zap.NewNop()) {
		t.Fatalf("expected reload to be accepted")
	}

	reloaded := holder.Get()
	if reloaded.DefaultCurrency != "gbp" {
		t.Fatalf("expected gbp after reload, got %q", reloaded.DefaultCurrency)
	}
	if desc, ok := reloaded.Describe("monthly"); !ok || desc != "Monthly membership" {
		t.Fatalf("expected default subscription types after reload, got %v", reloaded.SubscriptionTypes)
	}
	if _, ok := reloaded.Describe("weekly"); ok {
		t.Fatalf("expected weekly type to be gone after reload")
	}
}

func TestBillingCatalogReloadKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yml")
	writeBillingFile(t, path, "billing:\n  default_currency: dollars\n")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read config: %v", err)
	}

	holder := NewStaticBillingCatalogHolder(DefaultBillingCatalog())
	if holder.reload(v, zap.NewNop()) {
		t.Fatalf("expected invalid currency to be rejected")
	}
	if holder.Get().DefaultCurrency != "usd" {
		t.Fatalf("expected previous catalog to stay, got %q", holder.Get().DefaultCurrency)
	}
}
