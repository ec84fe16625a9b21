package memory

import (
	"context"
	"sync"

	"healthwallet-service/internal/domain/topup"
)

// CallbackLog keeps gateway notifications in process memory.
type CallbackLog struct {
	mu      sync.Mutex
	records []topup.CallbackRecord
}

func NewCallbackLog() *CallbackLog {
	return &CallbackLog{}
}

func (l *CallbackLog) Append(ctx context.Context, rec *topup.CallbackRecord) error {
	cp := *rec
	cp.Params = make(map[string]string, len(rec.Params))
	for k, v := range rec.Params {
		cp.Params[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, cp)
	return nil
}

// Records returns a snapshot of everything appended so far.
func (l *CallbackLog) Records() []topup.CallbackRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]topup.CallbackRecord, len(l.records))
	copy(out, l.records)
	return out
}
