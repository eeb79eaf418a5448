package kvstore

import (
	"os"
	"testing"
)

func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("FANPAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FANPAY_TEST_REDIS_ADDR not set")
	}
	return addr
}
