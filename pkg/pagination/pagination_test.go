package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2025, 12, 24, 21, 30, 0, 123, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	c, err := ParseCursor("   ")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"%%%", "bm8tcGlwZQ", "eHx5"} {
		_, err := ParseCursor(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestTrim(t *testing.T) {
	base := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	cursorOf := func(i int) Cursor { return Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Hour), ID: ids[i]} }

	page := Trim([]int{0, 1, 2}, 2, cursorOf)
	assert.Equal(t, []int{0, 1}, page.Items)
	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, ids[1], next.ID)

	page = Trim([]int{0, 1}, 2, cursorOf)
	assert.Len(t, page.Items, 2)
	assert.Empty(t, page.NextCursor)
}
