// Package catalog holds the product type served by the pagestream server.
package catalog

import "fmt"

// Product is one entry of the beer catalog.
type Product struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Brewery string  `json:"brewery"`
	Style   string  `json:"style"`
	ABV     float64 `json:"abv"`
}

// ItemID implements source.Item.
func (p Product) ItemID() string { return p.ID }

var (
	styles    = []string{"Pale Ale", "IPA", "Stout", "Porter", "Pilsner", "Saison", "Dunkel"}
	breweries = []string{"Hopfenwerk", "Northgate", "Old Mill", "Kesselhaus", "Riverbend"}
)

// Sample returns n deterministic products with ids "p-0000" onward.
func Sample(n int) []Product {
	out := make([]Product, n)
	for i := range out {
		style := styles[i%len(styles)]
		out[i] = Product{
			ID:      fmt.Sprintf("p-%04d", i),
			Name:    fmt.Sprintf("%s No. %d", style, i+1),
			Brewery: breweries[i%len(breweries)],
			Style:   style,
			ABV:     4.0 + float64(i%40)/10,
		}
	}
	return out
}
