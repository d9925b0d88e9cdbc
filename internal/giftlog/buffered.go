package giftlog

import (
	"errors"
	"sync"
	"time"

	"github.com/you/liveoverlay/internal/core"
)

// BufferedWriter batches ledger writes so a gift burst does not turn into one
// SQLite transaction per event.
type BufferedWriter struct {
	base          Writer
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []core.Event
	timer   *time.Timer
	closed  bool
	lastErr error
}

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func NewBufferedWriter(base Writer, opts BufferedOptions) *BufferedWriter {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &BufferedWriter{
		base:          base,
		batchSize:     batch,
		flushInterval: opts.FlushInterval,
	}
}

func (b *BufferedWriter) Write(ev core.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("buffered writer closed")
	}

	pendingErr := b.lastErr
	b.lastErr = nil

	b.buffer = append(b.buffer, ev)
	if len(b.buffer) == 1 && b.flushInterval > 0 {
		b.startTimerLocked()
	}

	if len(b.buffer) < b.batchSize {
		b.mu.Unlock()
		return pendingErr
	}

	events := append([]core.Event(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.stopTimerLocked()
	b.mu.Unlock()

	if err := b.writeAll(events); err != nil {
		return err
	}
	return pendingErr
}

func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	events := append([]core.Event(nil), b.buffer...)
	b.buffer = nil
	pendingErr := b.lastErr
	b.lastErr = nil
	b.mu.Unlock()

	if len(events) > 0 {
		if err := b.writeAll(events); err != nil {
			return err
		}
	}
	return pendingErr
}

func (b *BufferedWriter) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buffer) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	events := append([]core.Event(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.timer = nil
	b.mu.Unlock()

	if err := b.writeAll(events); err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
}

func (b *BufferedWriter) startTimerLocked() {
	if b.flushInterval <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *BufferedWriter) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BufferedWriter) writeAll(events []core.Event) error {
	for _, ev := range events {
		if err := b.base.Write(ev); err != nil {
			return err
		}
	}
	return nil
}
