package risk

import "sync"

// MartingaleConfig controls the loss-recovery stake progression.
type MartingaleConfig struct {
	Enabled    bool    `json:"enabled"`
	Multiplier float64 `json:"multiplier"`
	MaxSteps   int     `json:"max_steps"`
	HardCap    float64 `json:"hard_cap"` // absolute ceiling on a single stake
}

// DefaultMartingale returns the reference progression settings.
func DefaultMartingale() MartingaleConfig {
	return MartingaleConfig{
		Enabled:    true,
		Multiplier: 2.1,
		MaxSteps:   3,
		HardCap:    50,
	}
}

// Martingale sizes stakes for loss recovery. After a win the step resets and
// the base stake is used; after a loss the step advances up to MaxSteps and
// the stake multiplies, capped at HardCap.
type Martingale struct {
	mu   sync.Mutex
	cfg  MartingaleConfig
	step int
}

// NewMartingale creates a Martingale at step zero.
func NewMartingale(cfg MartingaleConfig) *Martingale {
	return &Martingale{cfg: cfg}
}

// NextStake returns the stake for the next trade given the outcome of the
// previous one. wonLast must be true for the very first trade of a session
// so the base stake is used.
func (m *Martingale) NextStake(baseStake float64, wonLast bool) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Enabled {
		m.step = 0
		return baseStake
	}
	if wonLast {
		m.step = 0
		return baseStake
	}
	if m.step < m.cfg.MaxSteps {
		m.step++
	}
	stake := baseStake
	for i := 0; i < m.step; i++ {
		stake *= m.cfg.Multiplier
	}
	if m.cfg.HardCap > 0 && stake > m.cfg.HardCap {
		stake = m.cfg.HardCap
	}
	return stake
}

// Step returns the current progression depth.
func (m *Martingale) Step() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Reset returns the progression to step zero.
func (m *Martingale) Reset() {
	m.mu.Lock()
	m.step = 0
	m.mu.Unlock()
}

// UpdateConfig swaps in new progression settings without touching the step.
func (m *Martingale) UpdateConfig(cfg MartingaleConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}
