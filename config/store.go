package config

import "sync"

// Runtime holds the subset of configuration that can change while the bot is
// running. Everything else (API keys, endpoints, database path) needs a
// restart.
type Runtime struct {
	Symbol        string
	MarginMode    string
	Leverage      float64
	StopLossPct   float64
	TakeProfitPct float64
	AutoBorrow    bool
	AutoRepay     bool
	EmailEnabled  bool
}

// Store makes the runtime settings safely readable from the engine loop
// while another goroutine applies updates. Reads return a value copy.
type Store struct {
	mu  sync.RWMutex
	cur Runtime
}

// NewStore seeds the store from the loaded configuration.
func NewStore(cfg *Config) *Store {
	return &Store{cur: Runtime{
		Symbol:        cfg.Symbol,
		MarginMode:    string(cfg.MarginMode),
		Leverage:      cfg.Leverage,
		StopLossPct:   cfg.StopLossPct,
		TakeProfitPct: cfg.TakeProfitPct,
		AutoBorrow:    cfg.AutoBorrow,
		AutoRepay:     cfg.AutoRepay,
		EmailEnabled:  cfg.EmailEnabled,
	}}
}

// Snapshot returns the current runtime settings.
func (s *Store) Snapshot() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies a mutation atomically.
func (s *Store) Update(fn func(*Runtime)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cur)
}
