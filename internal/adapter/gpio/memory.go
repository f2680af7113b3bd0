package gpio

import (
	"fmt"
	"sync"

	"gpio-node/internal/domain"
)

// MemoryDriver is an in-memory PinDriver. It backs the "sim" backend and
// doubles as the test driver: every physical write is counted so callers can
// assert on write counts.
type MemoryDriver struct {
	mu      sync.Mutex
	levels  map[domain.PinID]domain.Level
	duties  map[domain.PinID]int
	writes  map[domain.PinID]int
	failing map[domain.PinID]error
}

// NewMemoryDriver creates an empty in-memory driver. Pins spring into
// existence on first write, like unconfigured GPIO lines on a real board.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		levels:  make(map[domain.PinID]domain.Level),
		duties:  make(map[domain.PinID]int),
		writes:  make(map[domain.PinID]int),
		failing: make(map[domain.PinID]error),
	}
}

func (m *MemoryDriver) SetDigital(pin domain.PinID, level domain.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing[pin]; err != nil {
		return err
	}
	m.levels[pin] = level
	m.writes[pin]++
	return nil
}

func (m *MemoryDriver) ReadDigital(pin domain.PinID) (domain.Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.levels[pin]
	if !ok {
		return 0, fmt.Errorf("pin %d not configured", pin)
	}
	return level, nil
}

func (m *MemoryDriver) SetPWMDuty(pin domain.PinID, duty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing[pin]; err != nil {
		return err
	}
	m.duties[pin] = duty
	m.writes[pin]++
	return nil
}

func (m *MemoryDriver) ReadPWMDuty(pin domain.PinID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	duty, ok := m.duties[pin]
	if !ok {
		return 0, fmt.Errorf("pin %d has no pwm output", pin)
	}
	return duty, nil
}

// Writes returns the number of physical writes made to pin.
func (m *MemoryDriver) Writes(pin domain.PinID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[pin]
}

// TotalWrites returns the number of physical writes across all pins.
func (m *MemoryDriver) TotalWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.writes {
		n += c
	}
	return n
}

// FailPin makes every subsequent write to pin return err. A nil err clears it.
func (m *MemoryDriver) FailPin(pin domain.PinID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, pin)
		return
	}
	m.failing[pin] = err
}
