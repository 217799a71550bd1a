package sensors

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kidoman/embd"
)

// Interrupt slot arena. GPIO edge callbacks arrive without a context
// pointer, so dispatch goes through a fixed table of trampolines indexed by
// slot number. Each slot is owned by exactly one driver at a time and
// records edge timestamps into a lock-free ring; drivers harvest them from
// their scheduler tick.

const (
	MaxIsrSlots = 8
	isrRingSize = 128
)

var (
	errIsrSlotsFull = errors.New("sensors: all interrupt slots in use")
	errIsrSlotFree  = errors.New("sensors: interrupt slot not claimed")
)

type isrSlot struct {
	inUse bool
	pin   embd.DigitalPin
	base  time.Time

	count uint64             // atomic; edges since arm
	head  uint32             // atomic; next ring position
	ring  [isrRingSize]int64 // ns since base
}

var (
	isrMu    sync.Mutex
	isrSlots [MaxIsrSlots]isrSlot
)

// isrTrampolines is the fixed dispatch table: one closure per slot so the
// contextless hardware callback can find its state by index.
var isrTrampolines = func() [MaxIsrSlots]func(embd.DigitalPin) {
	var t [MaxIsrSlots]func(embd.DigitalPin)
	for i := 0; i < MaxIsrSlots; i++ {
		idx := i
		t[idx] = func(embd.DigitalPin) { isrEdge(idx) }
	}
	return t
}()

// isrEdge runs in interrupt-dispatch context: record a timestamp, bump the
// counter, nothing else.
func isrEdge(idx int) {
	s := &isrSlots[idx]
	ns := time.Since(s.base).Nanoseconds()
	pos := atomic.AddUint32(&s.head, 1) - 1
	s.ring[pos%isrRingSize] = ns
	atomic.AddUint64(&s.count, 1)
}

// ClaimIsrSlot reserves a slot for pin and arms edge detection on it.
// The returned index is the driver's handle until ReleaseIsrSlot.
func ClaimIsrSlot(pin embd.DigitalPin, edge embd.Edge) (int, error) {
	isrMu.Lock()
	defer isrMu.Unlock()
	for i := 0; i < MaxIsrSlots; i++ {
		if isrSlots[i].inUse {
			continue
		}
		s := &isrSlots[i]
		s.inUse = true
		s.pin = pin
		s.base = time.Now()
		atomic.StoreUint64(&s.count, 0)
		atomic.StoreUint32(&s.head, 0)
		if err := pin.Watch(edge, isrTrampolines[i]); err != nil {
			s.inUse = false
			s.pin = nil
			return -1, err
		}
		return i, nil
	}
	return -1, errIsrSlotsFull
}

func ReleaseIsrSlot(idx int) error {
	isrMu.Lock()
	defer isrMu.Unlock()
	if idx < 0 || idx >= MaxIsrSlots || !isrSlots[idx].inUse {
		return errIsrSlotFree
	}
	s := &isrSlots[idx]
	if s.pin != nil {
		s.pin.StopWatching()
	}
	s.inUse = false
	s.pin = nil
	return nil
}

// RearmIsrSlot clears the slot's ring so the next harvest only sees edges
// from now on.
func RearmIsrSlot(idx int) {
	s := &isrSlots[idx]
	s.base = time.Now()
	atomic.StoreUint64(&s.count, 0)
	atomic.StoreUint32(&s.head, 0)
}

// IsrEdgeCount returns the number of edges seen since the last rearm.
func IsrEdgeCount(idx int) uint64 {
	return atomic.LoadUint64(&isrSlots[idx].count)
}

// IsrEdgeTimes harvests the recorded edge timestamps, oldest first, as
// offsets from the arm time. At most the last isrRingSize edges survive.
func IsrEdgeTimes(idx int) []time.Duration {
	s := &isrSlots[idx]
	n := atomic.LoadUint32(&s.head)
	count := int(n)
	start := 0
	if count > isrRingSize {
		start = count - isrRingSize
	}
	out := make([]time.Duration, 0, count-start)
	for i := start; i < count; i++ {
		out = append(out, time.Duration(s.ring[i%isrRingSize]))
	}
	return out
}
