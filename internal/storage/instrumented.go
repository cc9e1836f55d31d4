package storage

import (
	"context"
	"time"

	"github.com/chestguard/chestguard/internal/errors"
)

// Recorder receives upload outcomes. metrics.Recorder satisfies it.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordError(operation, errorType string)
}

const opUpload = "upload"

type instrumentedStore struct {
	ObjectStore
	rec Recorder
}

// Instrument wraps store so every Put is reported to rec. A nil rec returns
// store unchanged.
func Instrument(store ObjectStore, rec Recorder) ObjectStore {
	if rec == nil {
		return store
	}
	return &instrumentedStore{ObjectStore: store, rec: rec}
}

func (s *instrumentedStore) Put(ctx context.Context, localPath, objectName string) (Object, error) {
	start := time.Now()
	obj, err := s.ObjectStore.Put(ctx, localPath, objectName)
	s.rec.RecordDuration(opUpload, time.Since(start).Seconds())
	if err != nil {
		s.rec.RecordOperation(opUpload, "error")
		s.rec.RecordError(opUpload, errorType(err))
		return obj, err
	}
	s.rec.RecordOperation(opUpload, "success")
	return obj, nil
}

func errorType(err error) string {
	if isTransientError(err) {
		return "transient"
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return string(ee.Category)
	}
	return "unknown"
}
