package redis

// Key prefixes for primary entity storage.
const (
	prefixEvent        = "pb:evt:"
	prefixSubscription = "pb:sub:"
	prefixAttempt      = "pb:del:"
	prefixDLQ          = "pb:dlq:"
	prefixWindow       = "pb:win:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventDedupe = "pb:u:evt:dedupe:" // + provider + ":" + provider event ID
	uniqueSubSecret   = "pb:u:sub:secret:" // + secret
	uniquePairSuccess = "pb:u:del:ok:"     // + subscription ID + ":" + event ID
	uniquePairNumber  = "pb:u:del:num:"    // + subscription ID + ":" + event ID + ":" + attempt number
)

// Key prefixes for sorted set indexes.
const (
	zEventAll     = "pb:z:evt:all" // score: received_at
	zEventDue     = "pb:z:evt:due" // score: next_process_at
	zSubAll       = "pb:z:sub:all" // score: created_at
	zAttemptPend  = "pb:z:del:pending"
	zAttemptRetry = "pb:z:del:retry" // score: next_retry_at
	zAttemptSub   = "pb:z:del:sub:"  // + subscription ID, score: created_at
	zAttemptEvt   = "pb:z:del:evt:"  // + event ID
	zDLQAll       = "pb:z:dlq:all"   // score: failed_at
	zWindowAll    = "pb:z:win:all"   // score: period_start
	zWindowSub    = "pb:z:win:sub:"  // + subscription ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// dedupeKey returns the unique index key for an idempotency pair.
func dedupeKey(provider, providerEventID string) string {
	return uniqueEventDedupe + provider + ":" + providerEventID
}

// pairKey returns the "<sub>:<evt>" composite for per-pair indexes.
func pairKey(subID, evtID string) string {
	return subID + ":" + evtID
}
