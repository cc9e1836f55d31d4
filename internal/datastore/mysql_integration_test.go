//go:build integration

package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
)

func startMySQL(t *testing.T) *conf.Settings {
	t.Helper()
	ctx := t.Context()

	ctr, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("chestguard"),
		tcmysql.WithUsername("chest"),
		tcmysql.WithPassword("chest-secret"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Output.MySQL.Enabled = true
	settings.Output.MySQL.Host = host
	settings.Output.MySQL.Port = port.Port()
	settings.Output.MySQL.Database = "chestguard"
	settings.Output.MySQL.Username = "chest"
	settings.Output.MySQL.Password = "chest-secret"
	return settings
}

func TestMySQLStore_AppendDetection(t *testing.T) {
	settings := startMySQL(t)

	ds := New(settings)
	require.IsType(t, &MySQLStore{}, ds)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })

	require.NoError(t, ds.CreatePatient(t.Context(), &Patient{MRNo: "MR-900", FullName: "Integration"}))
	err := ds.CreatePatient(t.Context(), &Patient{MRNo: "MR-900"})
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	for i, r := range []string{"Normal", "TB"} {
		history, err := ds.AppendDetection(t.Context(), "MR-900", newEntry(r, time.Now()))
		require.NoError(t, err)
		require.Len(t, history.Entries, i+1)
	}

	_, err = ds.AppendDetection(t.Context(), "MR-901", newEntry("TB", time.Now()))
	assert.True(t, errors.IsNotFound(err))

	_, history, err := ds.GetHistory(t.Context(), "MR-900")
	require.NoError(t, err)
	require.Len(t, history.Entries, 2)
	assert.Equal(t, "Normal", history.Entries[0].Result)
	assert.Equal(t, "TB", history.Entries[1].Result)
}
