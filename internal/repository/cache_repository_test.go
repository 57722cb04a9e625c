package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type cachedRate struct {
	Rate float64 `json:"rate"`
}

func TestCacheRepositoryRoundTrip(t *testing.T) {
	_, client := newMiniredisClient(t)
	repo := NewCacheRepository(client, nil)
	ctx := context.Background()

	var out cachedRate
	require.ErrorIs(t, repo.Get(ctx, "attendance_rate:stu-1:course-1", &out), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "attendance_rate:stu-1:course-1", cachedRate{Rate: 87.5}, time.Minute))
	require.NoError(t, repo.Get(ctx, "attendance_rate:stu-1:course-1", &out))
	assert.Equal(t, 87.5, out.Rate)
}

func TestCacheRepositoryDeleteByPattern(t *testing.T) {
	mr, client := newMiniredisClient(t)
	repo := NewCacheRepository(client, nil)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "attendance_rate:stu-1:course-1", cachedRate{Rate: 1}, time.Minute))
	require.NoError(t, repo.Set(ctx, "attendance_rate:stu-2:course-1", cachedRate{Rate: 2}, time.Minute))
	require.NoError(t, repo.Set(ctx, "round_result:round-1", cachedRate{Rate: 3}, time.Minute))

	require.NoError(t, repo.DeleteByPattern(ctx, "attendance_rate:*"))
	assert.False(t, mr.Exists("attendance_rate:stu-1:course-1"))
	assert.False(t, mr.Exists("attendance_rate:stu-2:course-1"))
	assert.True(t, mr.Exists("round_result:round-1"))
}

func TestCacheRepositoryCorruptEntryIsMiss(t *testing.T) {
	mr, client := newMiniredisClient(t)
	repo := NewCacheRepository(client, nil)
	require.NoError(t, mr.Set("round_result:round-1", "{not json"))

	var out cachedRate
	require.ErrorIs(t, repo.Get(context.Background(), "round_result:round-1", &out), appErrors.ErrCacheMiss)
	assert.False(t, mr.Exists("round_result:round-1"))
}
