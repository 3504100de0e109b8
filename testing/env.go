// Package testing puts the process in test mode when imported and offers
// environment fixtures for config-driven tests.
package testing

import (
	"io"
	"net"
	"os"
	stdtesting "testing"

	"github.com/redis/go-redis/v9"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}

// SigningSecret satisfies the minimum token secret length.
const SigningSecret = "0123456789abcdef0123456789abcdef"

// SetSecrets sets every required secret for the duration of t.
func SetSecrets(t stdtesting.TB) {
	t.Helper()
	t.Setenv("TOKEN_SIGNING_SECRET", SigningSecret)
	t.Setenv("PASSWORD_PEPPER", "pepper")
	t.Setenv("SESSION_SECRET", "session-secret")
}

// SetLightHashing swaps the argon2id cost for the cheapest accepted values.
func SetLightHashing(t stdtesting.TB) {
	t.Helper()
	t.Setenv("PASSWORD_ARGON_MEMORY_KIB", "1024")
	t.Setenv("PASSWORD_ARGON_ITERATIONS", "1")
	t.Setenv("PASSWORD_ARGON_PARALLELISM", "1")
}

// StalledRedis returns a client for a server that accepts connections and
// never replies. Every command blocks until its context deadline.
func StalledRedis(t stdtesting.TB) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, conn)
				_ = conn.Close()
			}()
		}
	}()
	client := redis.NewClient(&redis.Options{
		Addr:                  ln.Addr().String(),
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	})
	t.Cleanup(func() {
		_ = client.Close()
		_ = ln.Close()
	})
	return client
}
