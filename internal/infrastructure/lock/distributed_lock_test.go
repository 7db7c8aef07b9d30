package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewJobLock(client, "expiry_sweep", "host-a:1", 30*time.Second)

	mock.ExpectSetNX("economy:job:lock:expiry_sweep", "host-a:1", 30*time.Second).SetVal(true)
	ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("economy:job:lock:expiry_sweep", "host-a:1", 30*time.Second).SetVal(false)
	ok, err = l.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockAndExtend(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewDistributedLock(client, "k", "v", 2*time.Second)

	mock.ExpectEval(extendScript, []string{"k"}, "v", int64(2000)).SetVal(int64(1))
	assert.NoError(t, l.Extend(context.Background()))

	mock.ExpectEval(extendScript, []string{"k"}, "v", int64(2000)).SetVal(int64(0))
	assert.ErrorIs(t, l.Extend(context.Background()), ErrNotHeld)

	mock.ExpectEval(unlockScript, []string{"k"}, "v").SetVal(int64(1))
	assert.NoError(t, l.Unlock(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}
