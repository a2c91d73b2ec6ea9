package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FiringRecord captures one fired token.
// Keep it compact and schema-stable.
type FiringRecord struct {
	At      time.Time `json:"at"`
	Token   string    `json:"token"`
	Outcome string    `json:"outcome"`          // "current" or "overrun"
	Missed  int       `json:"missed,omitempty"` // total missed tokens in the overrun batch
}
