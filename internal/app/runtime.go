package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "STOREFRONT_TEST_MODE"

// testMode caches STOREFRONT_TEST_MODE; nil until first read.
var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should return before dialing Postgres, Redis or
// binding listeners.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&on)
	return on
}
