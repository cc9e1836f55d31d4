package datastore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
)

// createDatabase opens a temporary SQLite store that is closed with the test.
func createDatabase(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/test.db"

	dataStore := New(settings)
	require.NoError(t, dataStore.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, dataStore.Close(), "Failed to close datastore")
	})
	return dataStore
}

func createPatient(t *testing.T, ds Interface, mrNo string) *Patient {
	t.Helper()
	p := &Patient{MRNo: mrNo, FullName: "Test Patient " + mrNo}
	require.NoError(t, ds.CreatePatient(t.Context(), p))
	return p
}

func newEntry(result string, at time.Time) *DetectionEntry {
	return &DetectionEntry{
		ImageURL:   "http://localhost/media/xrays/" + result + ".jpg",
		CapturedAt: at,
		ModelUsed:  "multilabel",
		Result:     result,
		Confidence: 0.81,
		Probabilities: []EntryProbability{
			{ClassName: "Pneumonia", Probability: 0.81},
			{ClassName: "TB", Probability: 0.12},
			{ClassName: "Normal", Probability: 0.07},
		},
	}
}

func TestNew_NoDatabaseEnabled(t *testing.T) {
	t.Parallel()
	assert.Nil(t, New(&conf.Settings{}))
}

func TestCreatePatient(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)

	p := createPatient(t, ds, "MR-001")
	assert.NotZero(t, p.ID)

	err := ds.CreatePatient(t.Context(), &Patient{MRNo: "MR-001"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	err = ds.CreatePatient(t.Context(), &Patient{MRNo: "  "})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	got, err := ds.GetPatient(t.Context(), "MR-001")
	require.NoError(t, err)
	assert.Equal(t, "Test Patient MR-001", got.FullName)

	_, err = ds.GetPatient(t.Context(), "MR-404")
	assert.True(t, errors.IsNotFound(err))
}

func TestListPatients(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	for _, mr := range []string{"MR-003", "MR-001", "MR-002"} {
		createPatient(t, ds, mr)
	}

	all, err := ds.ListPatients(t.Context(), 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "MR-001", all[0].MRNo)

	page, err := ds.ListPatients(t.Context(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "MR-002", page[0].MRNo)
}

func TestAppendDetection_PreservesOrder(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	createPatient(t, ds, "MR-100")

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	results := []string{"Pneumonia", "Normal", "TB", "Both"}

	var history *DetectionHistory
	for i, r := range results {
		var err error
		history, err = ds.AppendDetection(t.Context(), "MR-100", newEntry(r, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		require.Len(t, history.Entries, i+1)
	}

	for i, e := range history.Entries {
		assert.Equal(t, i+1, e.Sequence)
		assert.Equal(t, results[i], e.Result)
		require.Len(t, e.Probabilities, 3)
		assert.Equal(t, "Pneumonia", e.Probabilities[0].ClassName)
		assert.Equal(t, "Normal", e.Probabilities[2].ClassName)
	}

	patient, reloaded, err := ds.GetHistory(t.Context(), "MR-100")
	require.NoError(t, err)
	assert.Equal(t, "MR-100", patient.MRNo)
	require.Len(t, reloaded.Entries, len(results))
	assert.Equal(t, "Both", reloaded.Entries[3].Result)
}

func TestAppendDetection_UnknownPatientWritesNothing(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)

	_, err := ds.AppendDetection(t.Context(), "MR-missing", newEntry("TB", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	var histories, entries, probs int64
	db := ds.Gorm()
	require.NoError(t, db.Model(&DetectionHistory{}).Count(&histories).Error)
	require.NoError(t, db.Model(&DetectionEntry{}).Count(&entries).Error)
	require.NoError(t, db.Model(&EntryProbability{}).Count(&probs).Error)
	assert.Zero(t, histories)
	assert.Zero(t, entries)
	assert.Zero(t, probs)
}

func TestAppendDetection_Validation(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	createPatient(t, ds, "MR-200")

	_, err := ds.AppendDetection(t.Context(), "MR-200", nil)
	assert.True(t, errors.IsValidation(err))

	e := newEntry("Normal", time.Now())
	e.ImageURL = ""
	_, err = ds.AppendDetection(t.Context(), "MR-200", e)
	assert.True(t, errors.IsValidation(err))
}

func TestAppendDetection_StoresFindings(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	createPatient(t, ds, "MR-300")

	e := newEntry("Pneumonia", time.Now())
	e.Findings = &Findings{
		Severity:          "moderate",
		PrimaryFindings:   []string{"right lower lobe consolidation"},
		LocationsAffected: Locations{LowerRightLobe: "yes", Bilateral: "no"},
		Success:           true,
		Provenance:        "structured",
	}
	e.Recommendations = []string{"clinical correlation", "follow-up in 6 weeks"}
	e.RawEnrichment = `{"severity":"moderate"}`

	_, err := ds.AppendDetection(t.Context(), "MR-300", e)
	require.NoError(t, err)

	_, history, err := ds.GetHistory(t.Context(), "MR-300")
	require.NoError(t, err)
	got := history.Entries[0]
	require.NotNil(t, got.Findings)
	assert.Equal(t, "moderate", got.Findings.Severity)
	assert.Equal(t, "yes", got.Findings.LocationsAffected.LowerRightLobe)
	assert.Equal(t, []string{"clinical correlation", "follow-up in 6 weeks"}, got.Recommendations)
	assert.JSONEq(t, `{"severity":"moderate"}`, got.RawEnrichment)
}

func TestGetHistory_NoEntries(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	createPatient(t, ds, "MR-400")

	patient, history, err := ds.GetHistory(t.Context(), "MR-400")
	require.NoError(t, err)
	assert.NotNil(t, patient)
	assert.Nil(t, history)
}

func TestEntriesAreImmutable(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	createPatient(t, ds, "MR-500")

	history, err := ds.AppendDetection(t.Context(), "MR-500", newEntry("TB", time.Now()))
	require.NoError(t, err)
	entry := history.Entries[0]

	err = ds.Gorm().Model(&entry).Update("result", "Normal").Error
	require.ErrorIs(t, err, ErrImmutableEntry)

	err = ds.Gorm().Delete(&entry).Error
	require.ErrorIs(t, err, ErrImmutableEntry)

	prob := entry.Probabilities[0]
	err = ds.Gorm().Model(&prob).Update("probability", 0.5).Error
	require.ErrorIs(t, err, ErrImmutableEntry)

	_, reloaded, err := ds.GetHistory(t.Context(), "MR-500")
	require.NoError(t, err)
	assert.Equal(t, "TB", reloaded.Entries[0].Result)
}

func TestAppendDetection_Concurrent(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t)
	createPatient(t, ds, "MR-600")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Go(func() {
			_, err := ds.AppendDetection(t.Context(), "MR-600", newEntry(fmt.Sprintf("r%d", i), time.Now()))
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, history, err := ds.GetHistory(t.Context(), "MR-600")
	require.NoError(t, err)
	require.Len(t, history.Entries, writers)
	for i, e := range history.Entries {
		assert.Equal(t, i+1, e.Sequence)
	}
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = MemoryPath

	ds := New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	require.NoError(t, ds.Ping(t.Context()))
	assert.True(t, ds.Gorm().Migrator().HasTable(&EnrichmentQuota{}))
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()
	dsn := mysqlDSN(&conf.MySQLSettings{
		Username: "chest",
		Password: "p@ss:word/1",
		Host:     "db.local",
		Database: "chestguard",
	})
	assert.Contains(t, dsn, "chest:p@ss:word/1@tcp(db.local:3306)/chestguard")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestValidateMySQLConfig(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Output.MySQL.Host = "db"
	err := validateMySQLConfig(settings)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
