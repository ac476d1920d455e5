package catalog

// Cache keys shared by the L2 cache, the query cache and revalidation notices.
const (
	productKeyPrefix = "product:"
	listKeyPrefix    = "products:list?"
	similarKeyPrefix = "products:similar:"
	categoriesKey    = "products:categories"
)

// ProductKey is the cache key of a single product.
func ProductKey(id string) string {
	if id == "" {
		return ""
	}
	return productKeyPrefix + id
}

// ListKey is the cache key of a filtered listing.
func ListKey(f Filter) string {
	return listKeyPrefix + f.Encode()
}

// SimilarKey is the cache key of a product's similar-products strip.
func SimilarKey(id string) string {
	if id == "" {
		return ""
	}
	return similarKeyPrefix + id
}

// CategoriesKey is the cache key of the category list.
func CategoriesKey() string {
	return categoriesKey
}

// IsProductKey reports whether key was built by ProductKey and returns its id.
func IsProductKey(key string) (string, bool) {
	if len(key) <= len(productKeyPrefix) || key[:len(productKeyPrefix)] != productKeyPrefix {
		return "", false
	}
	return key[len(productKeyPrefix):], true
}
