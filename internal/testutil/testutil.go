package testutil

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/chtzvt/docslurp/internal/source"
)

// Random string for unique prefixes
func RandString(n int) string {
	letters := []rune("abcdefghijklmnopqrstuvwxyz0123456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// Utility: Wait for a condition or timeout
func WaitFor(t *testing.T, cond func() bool, timeout time.Duration, tick time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatalf("WaitFor timeout: %s", msg)
}

// NewTestLogger returns a logger that writes through t, or discards.
func NewTestLogger(t *testing.T, discard bool) *zap.Logger {
	if discard {
		return zap.NewNop()
	}
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// WriteCloserBuffer is a bytes.Buffer that can be closed.
type WriteCloserBuffer struct {
	bytes.Buffer
	Closed bool
}

func (b *WriteCloserBuffer) Close() error {
	b.Closed = true
	return nil
}

// Epoch is the ordering key of the first generated document.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Records generates n documents one second apart. Documents carry an _id, a
// timestamp and a small nested body.
func Records(n int) []*source.Record {
	return RecordsAt(Epoch, n)
}

func RecordsAt(start time.Time, n int) []*source.Record {
	out := make([]*source.Record, n)
	for i := range out {
		out[i] = Record(fmt.Sprintf("doc-%04d", i), start.Add(time.Duration(i)*time.Second))
	}
	return out
}

func Record(id string, key time.Time) *source.Record {
	return &source.Record{
		ID:  id,
		Key: key,
		Doc: map[string]interface{}{
			"_id":       id,
			"timestamp": key,
			"body":      map[string]interface{}{"id": id, "tags": []interface{}{"a", "b"}},
		},
	}
}
