package queue

// Key layout for one queue q:
//
//	jobs/{q}/job/{id}   envelope body
//	jobs/{q}/pending    list of ids, LPUSH producer / RPOPLPUSH consumer
//	jobs/{q}/active     list of ids currently leased
//	jobs/{q}/lease      zset id -> lease expiry ms
//	jobs/{q}/retry      zset id -> ready-at ms
//	jobs/{q}/failed     zset id -> parked-at ms (exhausted)
//	jobs/{q}/counts     hash of monotonic counters

func jobKey(queue, id string) string { return "jobs/" + queue + "/job/" + id }
func pendingKey(queue string) string { return "jobs/" + queue + "/pending" }
func activeKey(queue string) string  { return "jobs/" + queue + "/active" }
func leaseKey(queue string) string   { return "jobs/" + queue + "/lease" }
func retryKey(queue string) string   { return "jobs/" + queue + "/retry" }
func failedKey(queue string) string  { return "jobs/" + queue + "/failed" }
func countsKey(queue string) string  { return "jobs/" + queue + "/counts" }

// counts hash fields
const (
	countEnqueued  = "enqueued"
	countCompleted = "completed"
	countRetried   = "retried"
	countFailed    = "failed"
)
