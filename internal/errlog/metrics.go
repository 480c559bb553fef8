package errlog

import (
	"sync"
	"time"

	"github.com/meridian-networks/portalcore/internal/apperrors"
)

// Metrics aggregates in-process error counters. It is a plain mutex-guarded
// struct rather than a metrics registry because the numbers are read by the
// portal UI (health badge, support diagnostics), not scraped.
type Metrics struct {
	mu sync.Mutex

	total          int
	byCategory     map[apperrors.Category]int
	bySeverity     map[apperrors.Severity]int
	byCode         map[apperrors.ErrorCode]int
	customerImpact int
	recent         []time.Time // sightings inside the rolling window
	suppressed     int
	dropped        int
	shipped        int
	lastError      time.Time
}

// recentWindow is the horizon for the "errors right now" rate.
const recentWindow = 60 * time.Second

func NewMetrics() *Metrics {
	return &Metrics{
		byCategory: make(map[apperrors.Category]int),
		bySeverity: make(map[apperrors.Severity]int),
		byCode:     make(map[apperrors.ErrorCode]int),
	}
}

func (m *Metrics) Record(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.byCategory[entry.Category]++
	m.bySeverity[entry.Severity]++
	m.byCode[entry.Code]++
	if entry.TenantID != "" || entry.CustomerID != "" {
		m.customerImpact++
	}
	now := time.Now()
	m.recent = append(m.recent, now)
	m.pruneRecent(now)
	if entry.Timestamp.After(m.lastError) {
		m.lastError = entry.Timestamp
	}
}

func (m *Metrics) pruneRecent(now time.Time) {
	cutoff := now.Add(-recentWindow)
	i := 0
	for i < len(m.recent) && !m.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.recent = append(m.recent[:0], m.recent[i:]...)
	}
}

func (m *Metrics) RecordSuppressed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressed++
}

func (m *Metrics) RecordDropped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped += n
}

func (m *Metrics) RecordShipped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipped += n
}

// Snapshot is a point-in-time copy of the counters, safe to hand to callers.
type Snapshot struct {
	Total          int                         `json:"total"`
	RecentCount    int                         `json:"recent_count"` // last 60s
	CriticalCount  int                         `json:"critical_count"`
	CustomerImpact int                         `json:"customer_impact"`
	ByCategory     map[apperrors.Category]int  `json:"by_category"`
	BySeverity     map[apperrors.Severity]int  `json:"by_severity"`
	ByCode         map[apperrors.ErrorCode]int `json:"by_code"`
	Suppressed     int                         `json:"suppressed"`
	Dropped        int                         `json:"dropped"`
	Shipped        int                         `json:"shipped"`
	LastErrorAt    time.Time                   `json:"last_error_at"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneRecent(time.Now())

	snap := Snapshot{
		Total:          m.total,
		RecentCount:    len(m.recent),
		CriticalCount:  m.bySeverity[apperrors.SeverityCritical],
		CustomerImpact: m.customerImpact,
		ByCategory:     make(map[apperrors.Category]int, len(m.byCategory)),
		BySeverity:     make(map[apperrors.Severity]int, len(m.bySeverity)),
		ByCode:         make(map[apperrors.ErrorCode]int, len(m.byCode)),
		Suppressed:     m.suppressed,
		Dropped:        m.dropped,
		Shipped:        m.shipped,
		LastErrorAt:    m.lastError,
	}
	for k, v := range m.byCategory {
		snap.ByCategory[k] = v
	}
	for k, v := range m.bySeverity {
		snap.BySeverity[k] = v
	}
	for k, v := range m.byCode {
		snap.ByCode[k] = v
	}
	return snap
}
