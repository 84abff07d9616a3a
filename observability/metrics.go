package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "count", "milliseconds"
}

// Metrics buffers datapoints and flushes them to SQLite in batches.
// Buffer overflow flushes inline; a broken database logs and drops.
type Metrics struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	buffer        []Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
}

// NewMetrics creates a batching metrics writer. Zero bufferSize defaults to
// 100, zero flushInterval to 5s.
func NewMetrics(db *sql.DB, bufferSize int, flushInterval time.Duration) *Metrics {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	m := &Metrics{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

// Record queues a datapoint. Non-blocking.
func (m *Metrics) Record(dp Metric) {
	if dp.Timestamp.IsZero() {
		dp.Timestamp = time.Now()
	}
	if dp.Unit == "" {
		dp.Unit = "count"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, dp)
	if len(m.buffer) >= m.bufferSize {
		m.flushLocked()
	}
}

// Count records a counter datapoint with optional labels.
func (m *Metrics) Count(name string, value float64, labels map[string]string) {
	m.Record(Metric{Name: name, Value: value, Labels: labels})
}

// Duration records a milliseconds datapoint.
func (m *Metrics) Duration(name string, d time.Duration, labels map[string]string) {
	m.Record(Metric{Name: name, Value: float64(d.Milliseconds()), Labels: labels, Unit: "milliseconds"})
}

// Close flushes remaining datapoints and stops the background goroutine.
func (m *Metrics) Close() error {
	close(m.stop)
	<-m.done
	return nil
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			m.mu.Lock()
			m.flushLocked()
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.mu.Lock()
			m.flushLocked()
			m.mu.Unlock()
		}
	}
}

// flushLocked writes the buffer in one transaction. Caller holds m.mu.
func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("observability: metrics begin tx", "error", err)
		m.buffer = m.buffer[:0]
		return
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("observability: metrics prepare", "error", err)
		m.buffer = m.buffer[:0]
		return
	}
	defer stmt.Close()

	for _, dp := range m.buffer {
		labels := "{}"
		if len(dp.Labels) > 0 {
			if b, err := json.Marshal(dp.Labels); err == nil {
				labels = string(b)
			}
		}
		if _, err := stmt.ExecContext(ctx, dp.Name, dp.Timestamp.Unix(), dp.Value, labels, dp.Unit); err != nil {
			slog.Error("observability: metrics insert", "error", err, "metric", dp.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("observability: metrics commit", "error", err)
	}
	m.buffer = m.buffer[:0]
}
