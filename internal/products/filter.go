package products

import "strings"

// Filter returns the subsequence of products whose name contains the query
// as a case-insensitive substring, or whose status equals it. Status is
// matched whole so a fragment like "pro" does not sweep in every Approved
// record. An empty query returns the full input in its current order.
func Filter(collection []Product, query string) []Product {
	folded := strings.ToLower(strings.TrimSpace(query))
	if folded == "" {
		return collection
	}
	matched := make([]Product, 0, len(collection))
	for _, product := range collection {
		name := strings.ToLower(product.Name)
		status := strings.ToLower(string(product.Status))
		if strings.Contains(name, folded) || status == folded {
			matched = append(matched, product)
		}
	}
	return matched
}
