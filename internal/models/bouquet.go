package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// BouquetTier identifies one of the three preconfigured bouquet slots.
type BouquetTier string

const (
	TierEconomy BouquetTier = "economy"
	TierMedium  BouquetTier = "medium"
	TierPremium BouquetTier = "premium"
)

// Tiers lists the tiers in display order.
var Tiers = []BouquetTier{TierEconomy, TierMedium, TierPremium}

// IsValid reports whether t is a known tier.
func (t BouquetTier) IsValid() bool {
	switch t {
	case TierEconomy, TierMedium, TierPremium:
		return true
	}
	return false
}

// Bouquet is the snapshot of one tier as configured by staff.
type Bouquet struct {
	Tier      BouquetTier     `json:"tier"`
	CatalogID string          `json:"catalog_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	PhotoURL  string          `json:"photo_url,omitempty"`
}

// TierConfig holds exactly three bouquet slots.
type TierConfig struct {
	Economy Bouquet `json:"economy"`
	Medium  Bouquet `json:"medium"`
	Premium Bouquet `json:"premium"`
}

// Get returns the bouquet configured for tier.
func (c TierConfig) Get(tier BouquetTier) (Bouquet, bool) {
	switch tier {
	case TierEconomy:
		return c.Economy, true
	case TierMedium:
		return c.Medium, true
	case TierPremium:
		return c.Premium, true
	}
	return Bouquet{}, false
}

// All returns the three bouquets in display order.
func (c TierConfig) All() []Bouquet {
	return []Bouquet{c.Economy, c.Medium, c.Premium}
}

// DefaultTierConfig is used for any tier field that has no setting.
func DefaultTierConfig() TierConfig {
	return TierConfig{
		Economy: Bouquet{Tier: TierEconomy, CatalogID: string(TierEconomy), Name: "Букет эконом", Price: decimal.NewFromInt(1500)},
		Medium:  Bouquet{Tier: TierMedium, CatalogID: string(TierMedium), Name: "Букет средний", Price: decimal.NewFromInt(2500)},
		Premium: Bouquet{Tier: TierPremium, CatalogID: string(TierPremium), Name: "Букет премиум", Price: decimal.NewFromInt(4000)},
	}
}

// ShopSettings are the shop contacts printed in bot messages.
type ShopSettings struct {
	Name    string `json:"shop_name"`
	Address string `json:"shop_address"`
	Phone   string `json:"shop_phone"`
	Hours   string `json:"shop_hours"`
}

// DefaultShopSettings returns the contacts of the shop the bot was built for.
func DefaultShopSettings() ShopSettings {
	return ShopSettings{
		Name:    "Цветы в лесопарке",
		Address: "посёлок Лесопарк 30",
		Phone:   "+7 912 797 1348",
		Hours:   "с 8:00 до 21:00",
	}
}

// Setting keys stored in the settings table.
const (
	SettingShopName    = "shop_name"
	SettingShopAddress = "shop_address"
	SettingShopPhone   = "shop_phone"
	SettingShopHours   = "shop_hours"
)

// BouquetSettingKey returns the settings key of a tier field, e.g. bouquet_economy_price.
// field is one of vk_id, name, price, photo.
func BouquetSettingKey(tier BouquetTier, field string) string {
	return "bouquet_" + string(tier) + "_" + field
}

var bouquetFields = []string{"vk_id", "name", "price", "photo"}

// ValidateSetting checks a key/value pair before it is written.
func ValidateSetting(key, value string) error {
	switch key {
	case SettingShopName, SettingShopAddress, SettingShopPhone, SettingShopHours:
		return nil
	}
	for _, tier := range Tiers {
		for _, field := range bouquetFields {
			if key != BouquetSettingKey(tier, field) {
				continue
			}
			if field == "price" && value != "" {
				p, err := decimal.NewFromString(strings.TrimSpace(value))
				if err != nil || !p.IsPositive() {
					return fmt.Errorf("%w: %s=%q", ErrInvalidSettingValue, key, value)
				}
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownSettingKey, key)
}

// TierConfigFromSettings overlays stored settings on top of the defaults.
// Empty or unparsable values keep the default.
func TierConfigFromSettings(settings map[string]string) TierConfig {
	cfg := DefaultTierConfig()
	apply := func(b *Bouquet) {
		if v := strings.TrimSpace(settings[BouquetSettingKey(b.Tier, "vk_id")]); v != "" {
			b.CatalogID = v
		}
		if v := strings.TrimSpace(settings[BouquetSettingKey(b.Tier, "name")]); v != "" {
			b.Name = v
		}
		if v := strings.TrimSpace(settings[BouquetSettingKey(b.Tier, "price")]); v != "" {
			if p, err := decimal.NewFromString(v); err == nil && p.IsPositive() {
				b.Price = p
			}
		}
		if v := strings.TrimSpace(settings[BouquetSettingKey(b.Tier, "photo")]); v != "" {
			b.PhotoURL = v
		}
	}
	apply(&cfg.Economy)
	apply(&cfg.Medium)
	apply(&cfg.Premium)
	return cfg
}

// ShopSettingsFromSettings overlays stored settings on top of the defaults.
func ShopSettingsFromSettings(settings map[string]string) ShopSettings {
	s := DefaultShopSettings()
	if v := strings.TrimSpace(settings[SettingShopName]); v != "" {
		s.Name = v
	}
	if v := strings.TrimSpace(settings[SettingShopAddress]); v != "" {
		s.Address = v
	}
	if v := strings.TrimSpace(settings[SettingShopPhone]); v != "" {
		s.Phone = v
	}
	if v := strings.TrimSpace(settings[SettingShopHours]); v != "" {
		s.Hours = v
	}
	return s
}
