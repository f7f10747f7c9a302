package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/queue-coordinator/config"
	"github.com/tcriess/queue-coordinator/types"
)

var (
	ErrNotFound      = errors.New("report not found")
	ErrArchiveLocked = errors.New("archive is locked by another process")
)

// Persister archives the final reports of destroyed rooms. Rooms themselves are never persisted.
type Persister interface {
	StoreReport(types.FinalReport) error
	GetReport(roomId string) (*types.FinalReport, error)
	// GetReports returns the reports that ended between fromTs and toTs, newest first. Use fromIdx/maxCount for
	// pagination, maxCount <= 0 means no limit.
	GetReports(fromTs, toTs time.Time, fromIdx, maxCount int) ([]*types.FinalReport, error)
	DeleteReport(roomId string) error
	// DeleteReportsBefore removes every report that ended before ts and returns how many were removed.
	DeleteReportsBefore(ts time.Time) (int, error)
	Close() error
}

// NewPersister opens the archive selected by cfg. It returns nil if no archive is configured.
func NewPersister(cfg config.ArchiveConfig) (Persister, error) {
	switch cfg.Type {
	case "":
		return nil, nil

	case "buntdb":
		return NewBuntPersister(cfg)

	case "sqlite", "postgres":
		return NewGormPersister(cfg)

	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}
