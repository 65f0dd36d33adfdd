package safepoint

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// OperationRecord describes one executed operation.
type OperationRecord struct {
	Name string
	// Queuer is the submitting thread, zero for a goroutine that is not
	// attached. Executor is the thread that ran it.
	Queuer    ThreadID
	Executor  ThreadID
	AtBarrier bool
	// BarrierID is the engine's barrier id when the operation finished.
	BarrierID uint32
	Nested    bool
	Start     time.Time
	Duration  time.Duration
	Panicked  bool
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r OperationRecord) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", r.Name)
	enc.AddUint64("queuer", uint64(r.Queuer))
	enc.AddUint64("executor", uint64(r.Executor))
	enc.AddBool("atBarrier", r.AtBarrier)
	enc.AddUint32("barrier", r.BarrierID)
	if r.Nested {
		enc.AddBool("nested", true)
	}
	enc.AddTime("start", r.Start)
	enc.AddDuration("duration", r.Duration)
	if r.Panicked {
		enc.AddBool("panicked", true)
	}
	return nil
}

type operationRecords []OperationRecord

func (rs operationRecords) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for i := range rs {
		if err := enc.AppendObject(rs[i]); err != nil {
			return err
		}
	}
	return nil
}

// opHistory is a ring of the most recent operation records. It is written
// by the executing thread under the registry mutex and read by observers
// that do not hold it.
type opHistory struct {
	mu    ticketLock
	buf   []OperationRecord
	next  int
	total uint64
}

func (h *opHistory) init(size int) {
	h.buf = make([]OperationRecord, 0, size)
}

func (h *opHistory) record(r OperationRecord) {
	h.mu.lock()
	if len(h.buf) < cap(h.buf) {
		h.buf = append(h.buf, r)
	} else {
		h.buf[h.next] = r
		h.next = (h.next + 1) % len(h.buf)
	}
	h.total++
	h.mu.unlock()
}

// snapshot returns the records oldest first and the number of operations
// ever recorded.
func (h *opHistory) snapshot() ([]OperationRecord, uint64) {
	h.mu.lock()
	out := make([]OperationRecord, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	total := h.total
	h.mu.unlock()
	return out, total
}
