package cost

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBudgetExhausted is returned when a reservation would push the run past
// its cost ceiling.
var ErrBudgetExhausted = eris.New("cost: budget exhausted")

// Meter tracks spend for one pipeline run and enforces its ceiling. Callers
// reserve the estimated cost of each chargeable call before making it; a
// reservation that would cross the ceiling is refused. Safe for concurrent
// use.
type Meter struct {
	mu      sync.Mutex
	ceiling float64
	spent   float64
}

// NewMeter creates a meter with the given ceiling. A ceiling of 0 disables
// enforcement.
func NewMeter(ceiling float64) *Meter {
	return &Meter{ceiling: ceiling}
}

// Reserve atomically adds amount to the running total. If the addition would
// exceed the ceiling, nothing is added and ErrBudgetExhausted is returned;
// the caller must not make the call.
func (m *Meter) Reserve(amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ceiling > 0 && m.spent+amount > m.ceiling {
		return eris.Wrapf(ErrBudgetExhausted, "cost: reserve %.4f would exceed ceiling %.4f (spent %.4f)", amount, m.ceiling, m.spent)
	}
	m.spent += amount
	return nil
}

// Record adds spend that is already incurred, such as token actuals learned
// after a generative call returns. It never refuses.
func (m *Meter) Record(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent += amount
}

// Spent returns the running total.
func (m *Meter) Spent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent
}

// Remaining returns the budget left, or -1 when no ceiling is set.
func (m *Meter) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ceiling <= 0 {
		return -1
	}
	left := m.ceiling - m.spent
	if left < 0 {
		return 0
	}
	return left
}
