package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/tcriess/queue-coordinator/config"
	"github.com/tcriess/queue-coordinator/globals"
	"github.com/tcriess/queue-coordinator/types"
	"github.com/tidwall/buntdb"
)

const (
	reportPrefix   = "report:"
	reportEndIndex = "reportsend"
	memoryDSN      = ":memory:"
)

type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

// NewBuntPersister opens the buntdb file cfg.DSN. The file is locked for exclusive use by this process.
func NewBuntPersister(cfg config.ArchiveConfig) (Persister, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("buntdb archive needs a dsn")
	}
	var lock *flock.Flock
	if cfg.DSN != memoryDSN {
		lock = flock.New(cfg.DSN + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("could not lock archive: %w", err)
		}
		if !locked {
			return nil, ErrArchiveLocked
		}
	}
	db, err := setupBuntDB(cfg.DSN)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, lock: lock}, nil
}

func setupBuntDB(fileName string) (*buntdb.DB, error) {
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex(reportEndIndex, reportPrefix+"*", buntdb.IndexJSON("metrics.endTime"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func endTimeCond(ms int64) string {
	return fmt.Sprintf(`{"metrics":{"endTime":%d}}`, ms)
}

func (p *BuntDBPersist) StoreReport(report types.FinalReport) error {
	r, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(reportPrefix+report.RoomId, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetReport(roomId string) (*types.FinalReport, error) {
	report := &types.FinalReport{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		r, err := tx.Get(reportPrefix + roomId)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(r), report)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (p *BuntDBPersist) GetReports(fromTs, toTs time.Time, fromIdx, maxCount int) ([]*types.FinalReport, error) {
	reports := make([]*types.FinalReport, 0)
	fromCond := endTimeCond(fromTs.UnixMilli() - 1)
	toCond := endTimeCond(toTs.UnixMilli())
	err := p.db.View(func(tx *buntdb.Tx) error {
		currentNo := -1
		count := 0
		return tx.DescendRange(reportEndIndex, toCond, fromCond, func(key, val string) bool {
			currentNo++
			if currentNo < fromIdx {
				return true
			}
			report := &types.FinalReport{}
			if err := json.Unmarshal([]byte(val), report); err != nil {
				globals.AppLogger.Error("could not unmarshal archived report", "key", key, "error", err)
				return true
			}
			reports = append(reports, report)
			count++
			return maxCount <= 0 || count < maxCount
		})
	})
	return reports, err
}

func (p *BuntDBPersist) DeleteReport(roomId string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(reportPrefix + roomId)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) DeleteReportsBefore(ts time.Time) (int, error) {
	deleted := 0
	err := p.db.Update(func(tx *buntdb.Tx) error {
		keys := make([]string, 0)
		err := tx.AscendLessThan(reportEndIndex, endTimeCond(ts.UnixMilli()), func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if uerr := p.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}
