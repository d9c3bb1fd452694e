package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// Global counter for generating unique sequential IDs in tests
	testSequence uint64

	baseTimestamp = time.Now().UnixNano()
)

func init() {
	// Seed with the clock so ids stay unique across test runs against a shared database
	testSequence = uint64(baseTimestamp % 1000000)
}

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueName generates a unique name with given prefix
// Example: UniqueName("analyst") -> "analyst_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueUsername generates a unique username
func UniqueUsername() string {
	return fmt.Sprintf("user_%d", NextSequence())
}

// UniqueChatID generates a unique supergroup chat id (negative, -100 prefixed)
func UniqueChatID() int64 {
	return -1000000000000 - int64(NextSequence())
}

// UniqueThreadID generates a unique forum thread id
func UniqueThreadID() int64 {
	return 1000000 + int64(NextSequence())
}

// UniqueMessageID generates a unique source message id
func UniqueMessageID() int64 {
	return int64(NextSequence())
}

// UniqueTicker generates a unique uppercase ticker
// Example: UniqueTicker("BTC") -> "BTC123456"
func UniqueTicker(base string) string {
	return fmt.Sprintf("%s%d", base, NextSequence())
}
