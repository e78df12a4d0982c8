package rtps

import (
	"context"
	"sync"
	"time"

	"github.com/go-rtps/rtps/locator"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	drop bool
}

func (f *fakeSender) Send(_ context.Context, buf []byte, _ []locator.Locator, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drop {
		return false
	}
	f.sent = append(f.sent, buf)
	return true
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}
