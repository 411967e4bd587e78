package redisx

import "time"

const (
	// Cached property status: property_status:{property_id} -> {"property_id": "...", "status": "..."}
	KeyPropertyStatus = "property_status:{%s}"

	// Invalidation counter of a property status, bumped by every writer: property_status_version:{property_id}
	KeyPropertyStatusVersion = "property_status_version:{%s}"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
