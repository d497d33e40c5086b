package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadAbsentBaseline(t *testing.T) {
	db := newTestDB(t)

	b, err := db.Load("wallbox")
	require.NoError(t, err)
	assert.Nil(t, b, "absent baseline signals first run")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)

	in := models.Baseline{
		LastReading: decimal.RequireFromString("1234.567"),
		LastDate:    time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Save("wallbox", in))

	out, err := db.Load("wallbox")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.LastReading.Equal(in.LastReading), "reading must survive exactly, not as float")
	assert.Equal(t, "2024-03-15", out.LastDate.Format("2006-01-02"))
}

func TestSaveOverwrites(t *testing.T) {
	db := newTestDB(t)

	first := models.Baseline{
		LastReading: decimal.RequireFromString("100"),
		LastDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	second := models.Baseline{
		LastReading: decimal.RequireFromString("150.5"),
		LastDate:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Save("wallbox", first))
	require.NoError(t, db.Save("wallbox", second))

	out, err := db.Load("wallbox")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.LastReading.Equal(second.LastReading))

	// Exactly one row per installation, no history
	all, err := db.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)

	b := models.Baseline{
		LastReading: decimal.RequireFromString("100"),
		LastDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Save("wallbox", b))
	require.NoError(t, db.Delete("wallbox"))

	out, err := db.Load("wallbox")
	require.NoError(t, err)
	assert.Nil(t, out)

	// Deleting a missing baseline is not an error
	require.NoError(t, db.Delete("wallbox"))
}

func TestListMultipleInstallations(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Save("garage", models.Baseline{
		LastReading: decimal.RequireFromString("10.5"),
		LastDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, db.Save("carport", models.Baseline{
		LastReading: decimal.RequireFromString("99"),
		LastDate:    time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	}))

	all, err := db.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all["garage"].LastReading.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "2024-02-02", all["carport"].LastDate.Format("2006-01-02"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Save("wallbox", models.Baseline{
		LastReading: decimal.RequireFromString("42"),
		LastDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, db.Close())

	db2, err := New(path)
	require.NoError(t, err)
	defer db2.Close()

	out, err := db2.Load("wallbox")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.LastReading.Equal(decimal.RequireFromString("42")))
}
