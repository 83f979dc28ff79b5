package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type entry struct {
	ID       uuid.UUID `gorm:"type:text;primaryKey"`
	LoggedAt time.Time
}

func TestClamp(t *testing.T) {
	for in, want := range map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, MaxLimit: MaxLimit, 500: MaxLimit} {
		assert.Equal(t, want, Clamp(in), "Clamp(%d)", in)
	}
}

func TestCursorTokens(t *testing.T) {
	in := Cursor{At: time.Date(2026, 3, 4, 5, 6, 7, 89, time.FixedZone("x", 3600)), ID: uuid.New()}
	out, err := Parse(" " + Encode(&in) + " ")
	require.NoError(t, err)
	assert.True(t, out.At.Equal(in.At))
	assert.Equal(t, in.ID, out.ID)

	assert.Empty(t, Encode(nil))
	first, err := Parse("")
	require.NoError(t, err)
	assert.Nil(t, first)

	for _, bad := range []string{"%%%", "bm8tc2VwYXJhdG9y", Cursor{}.Encode()[:6]} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, errMalformed, bad)
	}
}

func TestKeysetWalksEveryRowOnce(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&entry{}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var want []uuid.UUID
	for i := range 5 {
		// Two rows share each timestamp so the id tiebreak matters.
		row := entry{ID: uuid.New(), LoggedAt: base.Add(time.Duration(i/2) * time.Minute)}
		require.NoError(t, conn.Create(&row).Error)
		want = append(want, row.ID)
	}

	var seen []uuid.UUID
	var cursor *Cursor
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		var rows []entry
		require.NoError(t, conn.Scopes(Keyset("logged_at", cursor, 2)).Find(&rows).Error)
		page, next := Trim(rows, 2, func(e entry) Cursor { return Cursor{At: e.LoggedAt, ID: e.ID} })
		for _, r := range page {
			seen = append(seen, r.ID)
		}
		if next == nil {
			break
		}
		cursor = next
	}
	assert.ElementsMatch(t, want, seen)
	assert.Len(t, seen, len(want))
}

func TestTrim(t *testing.T) {
	ids := []int{1, 2, 3}
	key := func(i int) Cursor { return Cursor{At: time.Unix(int64(i), 0)} }

	page, next := Trim(ids, 2, key)
	assert.Equal(t, []int{1, 2}, page)
	require.NotNil(t, next)
	assert.Equal(t, int64(3), next.At.Unix())

	page, next = Trim(ids[:2], 2, key)
	assert.Len(t, page, 2)
	assert.Nil(t, next)
}
