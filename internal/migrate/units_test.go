package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	migrations "github.com/dropDatabas3/authority/migrations/postgres"
)

func TestLoadUnits_SortsNumerically(t *testing.T) {
	fsys := fstest.MapFS{
		"10_second.up.sql":  {Data: []byte("SELECT 2;")},
		"9_first.up.sql":    {Data: []byte("SELECT 1;")},
		"9_first.down.sql":  {Data: []byte("SELECT -1;")},
		"README.md":         {Data: []byte("ignored")},
		"notes/11_x.up.sql": {Data: []byte("ignored")},
	}
	units, err := LoadUnits(fsys)
	require.NoError(t, err)
	require.Len(t, units, 2)

	require.Equal(t, int64(9), units[0].Version)
	require.Equal(t, "first", units[0].Name)
	require.True(t, units[0].HasDown)
	require.Equal(t, Checksum("SELECT 1;"), units[0].Checksum)

	require.Equal(t, "10_second", units[1].ID())
	require.False(t, units[1].HasDown)
}

func TestLoadUnits_Rejects(t *testing.T) {
	_, err := LoadUnits(fstest.MapFS{
		"1_a.up.sql": {Data: []byte("SELECT 1;")},
		"1_b.up.sql": {Data: []byte("SELECT 1;")},
	})
	require.Error(t, err)

	_, err = LoadUnits(fstest.MapFS{
		"1_a.down.sql": {Data: []byte("SELECT 1;")},
	})
	require.Error(t, err)
}

func TestLoadUnits_EmbeddedPostgres(t *testing.T) {
	units, err := LoadUnits(migrations.FS)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(units), 3)
	for _, u := range units {
		require.True(t, u.HasDown, u.ID())
		require.NotEmpty(t, u.Up, u.ID())
	}
}
