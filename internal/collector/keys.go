package collector

import (
	"sort"
	"time"

	"ipocli/internal/cache"
)

// KeyDateLayout is the date form used inside query keys and request params
const KeyDateLayout = "20060102"

// Entity is one newly listed issue to enrich
type Entity struct {
	Code        string    `json:"code"`
	ISUCode     string    `json:"isu_code,omitempty"`
	Name        string    `json:"name"`
	Market      string    `json:"market,omitempty"`
	ListingDate time.Time `json:"listing_date"`
}

// Day0 is the listing date
func (e Entity) Day0() time.Time { return e.ListingDate }

// Day1 is the first trading day after listing
func (e Entity) Day1() time.Time { return NextTradingDay(e.ListingDate) }

// NextTradingDay returns the next weekday after d. Exchange holidays are not
// modelled; a holiday snapshot simply carries no matching record.
func NextTradingDay(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// QueryKey identifies one distinct upstream request. EntityID is empty for
// bulk snapshots, which serve every entity on Date.
type QueryKey struct {
	Endpoint string
	EntityID string
	Date     string
}

// String is the key's cache and checkpoint identity
func (k QueryKey) String() string {
	return cache.GenerateKey(k.Endpoint, k.Date, k.EntityID)
}

// SnapshotKey builds the bulk-snapshot key for endpoint on day
func SnapshotKey(endpoint string, day time.Time) QueryKey {
	return QueryKey{Endpoint: endpoint, Date: day.Format(KeyDateLayout)}
}

// RequiredKeys lists the snapshot keys one entity needs, day0 then day1
func RequiredKeys(e Entity, endpoint string) []QueryKey {
	return []QueryKey{
		SnapshotKey(endpoint, e.Day0()),
		SnapshotKey(endpoint, e.Day1()),
	}
}

// EntityKey builds the per-issue key for endpoint, code and day
func EntityKey(endpoint, code string, day time.Time) QueryKey {
	return QueryKey{Endpoint: endpoint, EntityID: code, Date: day.Format(KeyDateLayout)}
}

// RequiredEntityKeys lists the per-issue keys one entity needs, day0 then day1
func RequiredEntityKeys(e Entity, endpoint string) []QueryKey {
	return []QueryKey{
		EntityKey(endpoint, e.Code, e.Day0()),
		EntityKey(endpoint, e.Code, e.Day1()),
	}
}

// ReduceKeys returns the distinct keys needed across entities, sorted by
// their string form. The result does not depend on the order of entities.
func ReduceKeys(entities []Entity, endpoint string) []QueryKey {
	return reduce(entities, endpoint, RequiredKeys)
}

// ReduceEntityKeys is ReduceKeys for per-issue endpoints. Only entities
// sharing a code and a day share a key.
func ReduceEntityKeys(entities []Entity, endpoint string) []QueryKey {
	return reduce(entities, endpoint, RequiredEntityKeys)
}

func reduce(entities []Entity, endpoint string, required func(Entity, string) []QueryKey) []QueryKey {
	seen := make(map[string]QueryKey)
	for _, e := range entities {
		for _, k := range required(e, endpoint) {
			seen[k.String()] = k
		}
	}

	keys := make([]QueryKey, 0, len(seen))
	for _, k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
