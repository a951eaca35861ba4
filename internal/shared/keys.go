package shared

import "fmt"

// IntentIdempotencyKey scopes a client supplied key to its actor.
func IntentIdempotencyKey(actorID int64, key string) string {
	return fmt.Sprintf("checkout:intent:%d:%s", actorID, key)
}
