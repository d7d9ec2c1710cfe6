package meter

// Projected views are memoized per dataset generation. golang-lru evicts the
// least recently read entries, so old generations fall out on their own.

import (
	"slices"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

const DefaultViewCacheSize = 128

type viewKey struct {
	generation uint64
	id         string
}

// ViewCache serves fresh views straight from a Store.
type ViewCache struct {
	store *Store
	cache *lru.Cache
}

func NewViewCache(store *Store, size int) (*ViewCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &ViewCache{store: store, cache: cache}, nil
}

// View projects the meter from the current dataset. Unlike a Sensor it has
// no memory: a meter missing from the dataset is a not-found error.
func (c *ViewCache) View(deviceID string) (models.DeviceView, error) {
	record, generation, err := c.store.Lookup(deviceID)
	if err != nil {
		return models.DeviceView{}, err
	}

	key := viewKey{generation: generation, id: deviceID}
	if cached, ok := c.cache.Get(key); ok {
		return cloneView(cached.(models.DeviceView)), nil
	}

	view := Project(record)
	c.cache.Add(key, view)
	return cloneView(view), nil
}

// Len reports the number of cached views.
func (c *ViewCache) Len() int {
	return c.cache.Len()
}

func cloneView(v models.DeviceView) models.DeviceView {
	v.RecentHistory = slices.Clone(v.RecentHistory)
	return v
}
