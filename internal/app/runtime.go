package app

import (
	"os"
	"strconv"
)

// TestModeEnv is set by the testing package so binaries skip startup when
// their packages are loaded by tests.
const TestModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether the process should skip runtime side effects.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
