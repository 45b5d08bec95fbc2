package factory

import "encoding/json"

// CurrencyDefJSON returns the JSON for a single currency definition.
func CurrencyDefJSON(identifier, symbol, suffix string) string {
	b, _ := json.MarshalIndent(CurrencyJSON{Identifier: identifier, Symbol: symbol, Suffix: suffix}, "", "  ")
	return string(b)
}

// StarterCatalogJSON is a soft currency plus a premium one.
func StarterCatalogJSON() string {
	return catalogJSON(
		CurrencyJSON{Identifier: "coins", Symbol: "¢", Suffix: " coins"},
		CurrencyJSON{Identifier: "gems", Symbol: "💎", Icon: "gem.png"},
	)
}

// ShopCatalogJSON adds event tickets to the starter catalog.
func ShopCatalogJSON() string {
	return catalogJSON(
		CurrencyJSON{Identifier: "coins", Symbol: "¢", Suffix: " coins"},
		CurrencyJSON{Identifier: "gems", Symbol: "💎", Icon: "gem.png"},
		CurrencyJSON{Identifier: "tickets", Symbol: "🎟", Prefix: "x"},
	)
}

func catalogJSON(currencies ...CurrencyJSON) string {
	b, _ := json.MarshalIndent(CatalogJSON{Currencies: currencies}, "", "  ")
	return string(b)
}
