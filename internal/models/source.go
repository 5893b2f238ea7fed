package models

import (
	"errors"
	"time"
)

// SourceConfig identifies one sync target: a provider account plus the
// containers to search and the time window to cover. The scheduler passes
// a zero From to mean "since the stored cursor".
type SourceConfig struct {
	ID         string         `json:"id"`
	Provider   ProviderKind   `json:"provider"`
	AccountKey string         `json:"account_key"`
	Containers []ContainerRef `json:"containers"`
	From       time.Time      `json:"from,omitempty"`
	To         time.Time      `json:"to,omitempty"`
}

// Validate checks the source for structural errors.
func (s *SourceConfig) Validate() error {
	if s.ID == "" {
		return errors.New("source id is required")
	}
	if s.Provider == "" {
		return errors.New("source provider is required")
	}
	if s.AccountKey == "" {
		return errors.New("source account key is required")
	}
	if len(s.Containers) == 0 {
		return errors.New("source requires at least one container")
	}
	return nil
}

// SyncReport summarizes one coordinator pass over a source.
type SyncReport struct {
	SourceID   string        `json:"source_id"`
	RunID      string        `json:"run_id"`
	Found      int           `json:"found"`
	Downloaded int           `json:"downloaded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Window     [2]time.Time  `json:"window"`
	Duration   time.Duration `json:"duration"`
}
