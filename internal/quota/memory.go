package quota

import (
	"context"
	"sync"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

type memoryKey struct {
	userID string
	date   string
}

// MemoryLedger keeps quota records in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[memoryKey]*models.QuotaRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[memoryKey]*models.QuotaRecord)}
}

func (m *MemoryLedger) Count(_ context.Context, userID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[memoryKey{userID, date}]; ok {
		return rec.MessageCount, nil
	}
	return 0, nil
}

func (m *MemoryLedger) Increment(_ context.Context, userID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.recordLocked(userID, date)
	rec.MessageCount++
	return rec.MessageCount, nil
}

func (m *MemoryLedger) RecordInterest(_ context.Context, userID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.recordLocked(userID, date)
	rec.PremiumClicks++
	return rec.PremiumClicks, nil
}

// Record returns a copy of the stored record, if any.
func (m *MemoryLedger) Record(userID, date string) (models.QuotaRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[memoryKey{userID, date}]
	if !ok {
		return models.QuotaRecord{}, false
	}
	return *rec, true
}

func (m *MemoryLedger) recordLocked(userID, date string) *models.QuotaRecord {
	key := memoryKey{userID, date}
	rec, ok := m.records[key]
	if !ok {
		rec = &models.QuotaRecord{UserID: userID, Date: date}
		m.records[key] = rec
	}
	return rec
}
