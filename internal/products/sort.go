package products

import "sort"

// SortByCreatedDesc orders the collection most-recent-first by creation
// timestamp. Records without a timestamp are treated as zero and sort last.
// The sort is stable, so equal timestamps keep their prior order.
func SortByCreatedDesc(collection []Product) {
	sort.SliceStable(collection, func(i, j int) bool {
		return createdOrZero(collection[i]) > createdOrZero(collection[j])
	})
}

func createdOrZero(product Product) int64 {
	if product.CreatedAtMS < 0 {
		return 0
	}
	return product.CreatedAtMS
}
