package hydrolink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
	"github.com/tejusbharadwaj/hydrolink/internal/scheduler"
)

func TestRegistrySharesAccount(t *testing.T) {
	fake := newFakeAPI(t, warmMeter())
	registry := NewRegistry(fake.options())
	ctx := context.Background()

	first, err := registry.Acquire(ctx, testCreds)
	require.NoError(t, err)
	second, err := registry.Acquire(ctx, testCreds)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, registry.Refs("test_user"))

	logins, fetches := fake.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 1, fetches)

	require.NoError(t, registry.Release(ctx, "test_user"))
	assert.Equal(t, scheduler.Scheduled, first.SchedulerState())

	require.NoError(t, registry.Release(ctx, "test_user"))
	assert.Equal(t, scheduler.Stopped, first.SchedulerState())
	assert.Zero(t, registry.Refs("test_user"))

	assert.Error(t, registry.Release(ctx, "test_user"))
}

func TestRegistrySeparateAccounts(t *testing.T) {
	fake := newFakeAPI(t, warmMeter())
	registry := NewRegistry(fake.options())
	ctx := context.Background()

	a, err := registry.Acquire(ctx, testCreds)
	require.NoError(t, err)
	b, err := registry.Acquire(ctx, models.Credentials{Username: "other", Password: "pw"})
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	require.NoError(t, registry.Close(ctx))
	assert.Equal(t, scheduler.Stopped, a.SchedulerState())
	assert.Equal(t, scheduler.Stopped, b.SchedulerState())
}

func TestRegistryAcquireFailure(t *testing.T) {
	fake := newFakeAPI(t)
	registry := NewRegistry(fake.options())

	_, err := registry.Acquire(context.Background(), testCreds)
	assert.ErrorIs(t, err, api.ErrNoDevices)
	assert.Zero(t, registry.Refs("test_user"))
}

func TestRegistryRejectsDifferentPassword(t *testing.T) {
	fake := newFakeAPI(t, warmMeter())
	registry := NewRegistry(fake.options())
	ctx := context.Background()
	t.Cleanup(func() { _ = registry.Close(ctx) })

	_, err := registry.Acquire(ctx, testCreds)
	require.NoError(t, err)

	_, err = registry.Acquire(ctx, models.Credentials{Username: testCreds.Username, Password: "changed"})
	assert.ErrorIs(t, err, ErrCredentialsMismatch)
	assert.Equal(t, 1, registry.Refs(testCreds.Username))
}

func TestRegistryInitializesOutsideLock(t *testing.T) {
	fake := newFakeAPI(t, warmMeter())
	release := fake.holdLogins("slow")
	t.Cleanup(release)

	registry := NewRegistry(fake.options())
	ctx := context.Background()
	t.Cleanup(func() { _ = registry.Close(ctx) })
	slowCreds := models.Credentials{Username: "slow", Password: "pw"}

	type acquired struct {
		account *Account
		err     error
	}
	acquire := func(results chan<- acquired) {
		account, err := registry.Acquire(ctx, slowCreds)
		results <- acquired{account, err}
	}

	first := make(chan acquired, 1)
	go acquire(first)
	require.Eventually(t, func() bool { return registry.Refs("slow") == 1 }, time.Second, time.Millisecond)

	// Another username is not held up by the pending login
	other, err := registry.Acquire(ctx, testCreds)
	require.NoError(t, err)
	assert.Equal(t, scheduler.Scheduled, other.SchedulerState())

	// A second caller for the same username waits for the first
	second := make(chan acquired, 1)
	go acquire(second)
	require.Eventually(t, func() bool { return registry.Refs("slow") == 2 }, time.Second, time.Millisecond)

	release()
	a, b := <-first, <-second
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.account, b.account)
}
