package persistence

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/queue-coordinator/config"
	"github.com/tcriess/queue-coordinator/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ driver.Valuer = &datatypes.JSON{}

// reportRecord is the table layout of an archived report. The metrics are kept as a JSON document, only the end
// time is lifted into its own column for range queries.
type reportRecord struct {
	RoomId    string `gorm:"primaryKey"`
	QueueName string
	EndTime   int64 `gorm:"index"`
	Metrics   datatypes.JSON
}

func (reportRecord) TableName() string {
	return "reports"
}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg config.ArchiveConfig) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg config.ArchiveConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%s archive needs a dsn", cfg.Type)
	}
	var dial gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dial = postgres.Open(cfg.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.Migrator().AutoMigrate(&reportRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

func toRecord(report types.FinalReport) (*reportRecord, error) {
	metrics, err := json.Marshal(report.Metrics)
	if err != nil {
		return nil, err
	}
	return &reportRecord{
		RoomId:    report.RoomId,
		QueueName: report.QueueName,
		EndTime:   report.Metrics.EndTime,
		Metrics:   datatypes.JSON(metrics),
	}, nil
}

func (r *reportRecord) report() (*types.FinalReport, error) {
	report := &types.FinalReport{RoomId: r.RoomId, QueueName: r.QueueName}
	if err := json.Unmarshal(r.Metrics, &report.Metrics); err != nil {
		return nil, err
	}
	return report, nil
}

func (p *GormPersist) StoreReport(report types.FinalReport) error {
	rec, err := toRecord(report)
	if err != nil {
		return err
	}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

func (p *GormPersist) GetReport(roomId string) (*types.FinalReport, error) {
	rec := reportRecord{}
	err := p.db.First(&rec, "room_id = ?", roomId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.report()
}

func (p *GormPersist) GetReports(fromTs, toTs time.Time, fromIdx, maxCount int) ([]*types.FinalReport, error) {
	if maxCount <= 0 {
		maxCount = -1
	}
	recs := make([]*reportRecord, 0)
	err := p.db.Where("end_time BETWEEN ? AND ?", fromTs.UnixMilli(), toTs.UnixMilli()).
		Order("end_time DESC").Limit(maxCount).Offset(fromIdx).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	reports := make([]*types.FinalReport, 0, len(recs))
	for _, rec := range recs {
		report, err := rec.report()
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (p *GormPersist) DeleteReport(roomId string) error {
	res := p.db.Delete(&reportRecord{}, "room_id = ?", roomId)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) DeleteReportsBefore(ts time.Time) (int, error) {
	res := p.db.Where("end_time < ?", ts.UnixMilli()).Delete(&reportRecord{})
	return int(res.RowsAffected), res.Error
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
