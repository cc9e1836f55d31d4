package datastore

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// appendAttempts bounds retries when two appends race for the same sequence.
const appendAttempts = 3

// Interface is the record store used by the pipeline and the API.
type Interface interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error
	Gorm() *gorm.DB
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, mrNo string) (*Patient, error)
	ListPatients(ctx context.Context, limit, offset int) ([]Patient, error)
	AppendDetection(ctx context.Context, mrNo string, entry *DetectionEntry) (*DetectionHistory, error)
	GetHistory(ctx context.Context, mrNo string) (*Patient, *DetectionHistory, error)
}

// DataStore implements Interface on top of a GORM connection. The
// driver-specific stores embed it and only provide Open and Close.
type DataStore struct {
	DB *gorm.DB
}

// New returns the store selected by settings, or nil when no database is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// Gorm exposes the underlying connection for components that keep their
// own tables, such as the enrichment quota store.
func (ds *DataStore) Gorm() *gorm.DB {
	return ds.DB
}

// Ping checks that the database answers.
func (ds *DataStore) Ping(ctx context.Context) error {
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), "ping")
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping")
	}
	return nil
}

// CreatePatient registers a patient. A second patient with the same MR
// number is rejected with a conflict error.
func (ds *DataStore) CreatePatient(ctx context.Context, p *Patient) error {
	p.MRNo = strings.TrimSpace(p.MRNo)
	if p.MRNo == "" {
		return validationError("MR_no is required", "mr_no")
	}
	if err := ds.DB.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicateKey(err) {
			return conflictError(err, p.MRNo)
		}
		return dbError(err, "create_patient", "mr_no", p.MRNo)
	}
	return nil
}

// GetPatient looks a patient up by MR number.
func (ds *DataStore) GetPatient(ctx context.Context, mrNo string) (*Patient, error) {
	var p Patient
	if err := ds.DB.WithContext(ctx).Where("mr_no = ?", mrNo).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(mrNo)
		}
		return nil, dbError(err, "get_patient", "mr_no", mrNo)
	}
	return &p, nil
}

// ListPatients returns patients ordered by MR number. A non-positive limit
// returns every patient.
func (ds *DataStore) ListPatients(ctx context.Context, limit, offset int) ([]Patient, error) {
	q := ds.DB.WithContext(ctx).Order("mr_no ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var patients []Patient
	if err := q.Find(&patients).Error; err != nil {
		return nil, dbError(err, "list_patients")
	}
	return patients, nil
}

// AppendDetection adds entry as the newest element of the patient's
// history, creating the history on first use. The patient lookup, the
// history upsert and the entry insert share one transaction, so an unknown
// MR number leaves the database untouched. The returned history holds every
// entry in insertion order.
func (ds *DataStore) AppendDetection(ctx context.Context, mrNo string, entry *DetectionEntry) (*DetectionHistory, error) {
	if entry == nil {
		return nil, validationError("detection entry is required", "entry")
	}
	if entry.ImageURL == "" {
		return nil, validationError("image URL is required", "image_url")
	}
	if entry.Result == "" {
		return nil, validationError("result label is required", "result")
	}
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = time.Now()
	}

	var (
		history *DetectionHistory
		err     error
	)
	for attempt := range appendAttempts {
		history, err = ds.appendOnce(ctx, mrNo, entry)
		if err == nil || errors.IsNotFound(err) || !isRetryable(err) {
			break
		}
		GetLogger().Debug("append raced with a concurrent writer, retrying",
			logger.String("mr_no", mrNo),
			logger.Int("attempt", attempt+1))
	}
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, dbError(err, "append_detection", "mr_no", mrNo)
	}
	return history, nil
}

func (ds *DataStore) appendOnce(ctx context.Context, mrNo string, entry *DetectionEntry) (*DetectionHistory, error) {
	// Reset generated keys left over from a rolled back attempt.
	entry.ID = 0
	for i := range entry.Probabilities {
		entry.Probabilities[i].ID = 0
		entry.Probabilities[i].EntryID = 0
		entry.Probabilities[i].Position = i
	}

	var history DetectionHistory
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient Patient
		if err := tx.Where("mr_no = ?", mrNo).First(&patient).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError(mrNo)
			}
			return err
		}

		if err := tx.Where(DetectionHistory{PatientID: patient.ID}).
			Attrs(DetectionHistory{MRNo: patient.MRNo}).
			FirstOrCreate(&history).Error; err != nil {
			return err
		}

		var next int
		if err := tx.Model(&DetectionEntry{}).
			Where("history_id = ?", history.ID).
			Select("COALESCE(MAX(sequence), 0) + 1").
			Scan(&next).Error; err != nil {
			return err
		}

		entry.HistoryID = history.ID
		entry.Sequence = next
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		return loadEntries(tx, &history)
	})
	if err != nil {
		return nil, err
	}
	return &history, nil
}

// GetHistory returns the patient and their history. The history is nil when
// nothing has been recorded yet.
func (ds *DataStore) GetHistory(ctx context.Context, mrNo string) (*Patient, *DetectionHistory, error) {
	patient, err := ds.GetPatient(ctx, mrNo)
	if err != nil {
		return nil, nil, err
	}

	db := ds.DB.WithContext(ctx)
	var history DetectionHistory
	if err := db.Where("patient_id = ?", patient.ID).First(&history).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return patient, nil, nil
		}
		return nil, nil, dbError(err, "get_history", "mr_no", mrNo)
	}
	if err := loadEntries(db, &history); err != nil {
		return nil, nil, dbError(err, "get_history", "mr_no", mrNo)
	}
	return patient, &history, nil
}

func loadEntries(db *gorm.DB, history *DetectionHistory) error {
	return db.
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("Entries.Probabilities", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(history, history.ID).Error
}
