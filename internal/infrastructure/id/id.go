package id

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (*UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// OrderNumberGenerator issues human-readable order numbers of the form
// ORD-YYYYMMDD-NNNNNN. The counter resets when the date rolls over; order
// uniqueness is still enforced by the order repository, the number is a
// customer-facing handle.
type OrderNumberGenerator struct {
	mu      sync.Mutex
	day     string
	counter int
	now     func() time.Time
}

func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *OrderNumberGenerator) NextOrderNumber() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.now().Format("20060102")
	if day != g.day {
		g.day = day
		g.counter = 0
	}
	g.counter++
	return fmt.Sprintf("ORD-%s-%06d", day, g.counter)
}
