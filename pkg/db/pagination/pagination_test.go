package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDCursorRoundTrip(t *testing.T) {
	token, err := EncodeIDCursor(42)
	require.NoError(t, err)

	id, err := DecodeIDCursor(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = DecodeIDCursor("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	_, err = DecodeIDCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestBuildCursorPageInfo(t *testing.T) {
	one, two, three := 1, 2, 3
	items := []*int{&one, &two, &three}

	page, info := BuildCursorPageInfo(items, 2, func(v *int) string {
		token, _ := EncodeIDCursor(int64(*v))
		return token
	})
	require.Len(t, page, 2)
	assert.True(t, info.HasMore)

	next, err := DecodeIDCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)

	page, info = BuildCursorPageInfo(items, 5, func(*int) string { return "x" })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestPaginationNormalize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Normalize().PageSize)
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Normalize().PageSize)
	assert.Equal(t, 10, Pagination{PageSize: 10}.Normalize().PageSize)
}
