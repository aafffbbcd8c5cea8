package repository

import (
	"fmt"
)

const cachePrefix = "recs:"

// CacheKey addresses one computed list. The model version is part of the key so a
// retrained model never serves lists computed by its predecessor.
func CacheKey(modelVersion int, clientID int64, n int) string {
	return fmt.Sprintf("%s%d:%d:%d", cachePrefix, modelVersion, clientID, n)
}
