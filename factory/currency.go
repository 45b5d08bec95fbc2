/*
Package factory converts JSON currency catalogs into economy.Currency values.

PURPOSE:
  Lets operators declare the currencies a deployment starts with in a file
  instead of issuing create calls by hand. The catalog is seeded through
  the engine, so observers and the audit trail see every creation.

JSON SCHEMA:
  {
    "currencies": [
      {"identifier": "coins", "symbol": "¢", "suffix": " coins"},
      {"identifier": "gems",  "symbol": "💎", "icon": "gem.png"}
    ]
  }

KEY FEATURES:
  - Rejects blank identifiers
  - Rejects identifiers repeated within one catalog (case-insensitive)
  - Seeding skips currencies that already exist

USAGE:
  f := factory.NewCurrencyFactory()
  currencies, err := f.ParseCatalog(jsonStr)
  created, err := factory.Seed(ctx, engine, currencies, "catalog")

SEE ALSO:
  - presets.go: Ready-made catalogs used by the demo scenarios
  - economy/currency.go: CreateCurrency
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/economy"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CurrencyJSON is the JSON representation of a currency.
type CurrencyJSON struct {
	Identifier string `json:"identifier"`
	Symbol     string `json:"symbol,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	Suffix     string `json:"suffix,omitempty"`
	Icon       string `json:"icon,omitempty"`
}

// CatalogJSON is a list of currency definitions.
type CatalogJSON struct {
	Currencies []CurrencyJSON `json:"currencies"`
}

// =============================================================================
// CURRENCY FACTORY
// =============================================================================

// CurrencyFactory converts JSON catalogs to economy currencies.
type CurrencyFactory struct{}

func NewCurrencyFactory() *CurrencyFactory {
	return &CurrencyFactory{}
}

// ParseCatalog parses a JSON catalog.
func (f *CurrencyFactory) ParseCatalog(jsonStr string) ([]economy.Currency, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromCatalog(cj)
}

// LoadCatalogFile reads and parses the catalog at path.
func (f *CurrencyFactory) LoadCatalogFile(path string) ([]economy.Currency, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return f.ParseCatalog(string(b))
}

// FromCatalog validates every entry and returns them in catalog order.
func (f *CurrencyFactory) FromCatalog(cj CatalogJSON) ([]economy.Currency, error) {
	seen := make(map[string]bool, len(cj.Currencies))
	out := make([]economy.Currency, 0, len(cj.Currencies))
	for i, c := range cj.Currencies {
		cur, err := f.FromJSON(c)
		if err != nil {
			return nil, fmt.Errorf("currency %d: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(cur.Identifier))
		if seen[key] {
			return nil, fmt.Errorf("currency %d: %w: %q", i, economy.ErrDuplicateIdentifier, key)
		}
		seen[key] = true
		out = append(out, cur)
	}
	return out, nil
}

// FromJSON converts one definition.
func (f *CurrencyFactory) FromJSON(cj CurrencyJSON) (economy.Currency, error) {
	if strings.TrimSpace(cj.Identifier) == "" {
		return economy.Currency{}, economy.ErrInvalidIdentifier
	}
	return economy.Currency{
		Identifier: cj.Identifier,
		Symbol:     cj.Symbol,
		Prefix:     cj.Prefix,
		Suffix:     cj.Suffix,
		Icon:       cj.Icon,
	}, nil
}

// ToJSON converts a currency back to its catalog form.
func (f *CurrencyFactory) ToJSON(c economy.Currency) CurrencyJSON {
	return CurrencyJSON{
		Identifier: c.Identifier,
		Symbol:     c.Symbol,
		Prefix:     c.Prefix,
		Suffix:     c.Suffix,
		Icon:       c.Icon,
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed creates every catalog currency the engine does not know yet and
// returns how many were created. Currencies that already exist are left
// untouched. The first other failure stops seeding.
func Seed(ctx context.Context, engine *economy.Engine, currencies []economy.Currency, actor string) (int, error) {
	logger := log.WithField("component", "catalog")
	created := 0
	for _, c := range currencies {
		if engine.HasCurrency(c.Identifier) {
			continue
		}
		res, err := engine.CreateCurrency(ctx, c, actor).Wait()
		if err != nil {
			return created, err
		}
		if !res.OK {
			if errors.Is(res.Err, economy.ErrDuplicateIdentifier) {
				continue
			}
			return created, fmt.Errorf("seed %q: %s", c.Identifier, res.Message)
		}
		created++
		logger.WithFields(log.Fields{
			"currency": res.Currency.Identifier,
			"accounts": res.Accounts,
		}).Info("seeded currency")
	}
	return created, nil
}
