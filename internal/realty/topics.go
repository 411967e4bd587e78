package realty

const (
	TopicEvents        = "realty.events"
	TopicNotifications = "realty.notifications"
)

// Partition key = aggregate id, so every event of one reservation or contract keeps its order.
func PartitionKey(id string) []byte { return []byte(id) }
