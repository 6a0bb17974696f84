package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEnsureLoadedConcurrentLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &ModelHandle{Captioner: &fakeCaptioner{}}, nil
	})
	m := NewManager("test/model", "cpu", loader, zaptest.NewLogger(t))

	const n = 50
	handles := make([]*ModelHandle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.EnsureLoaded(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, "test/model", handles[0].ModelID)
	assert.Equal(t, "cpu", handles[0].Device)
	assert.False(t, handles[0].LoadedAt.IsZero())
}

func TestEnsureLoadedRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("weights missing")
		}
		return &ModelHandle{Captioner: &fakeCaptioner{}, Device: "cuda"}, nil
	})
	m := NewManager("test/model", "cuda", loader, zaptest.NewLogger(t))

	_, err := m.EnsureLoaded(context.Background())
	var le *ModelLoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "weights missing")
	assert.False(t, m.Loaded())
	assert.Equal(t, StatusUnhealthy, m.Status().Status)

	h, err := m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cuda", h.Device)
	assert.True(t, m.Loaded())
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, m.Status().LastError)
}

func TestEnsureLoadedRejectsNilHandle(t *testing.T) {
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		return nil, nil
	}), nil)

	_, err := m.EnsureLoaded(context.Background())
	assert.Error(t, err)
	assert.False(t, m.Loaded())
}

func TestEnsureLoadedCanceledContext(t *testing.T) {
	loader, calls := staticLoader(&fakeCaptioner{})
	m := NewManager("test/model", "cpu", loader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.EnsureLoaded(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestHealthCheckNeverFails(t *testing.T) {
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		panic("boom")
	}), zaptest.NewLogger(t))

	h := m.HealthCheck(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.False(t, h.Loaded)
	assert.Contains(t, h.LastError, "boom")
	assert.Equal(t, "cpu", h.Device)
	assert.Equal(t, int64(1), h.Attempts)
}

func TestHealthCheckLoadsModel(t *testing.T) {
	loader, calls := staticLoader(&fakeCaptioner{})
	m := NewManager("test/model", "cpu", loader, nil)
	assert.Equal(t, StatusNotLoaded, m.Status().Status)

	h := m.HealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.True(t, h.Loaded)
	assert.NotNil(t, h.LoadedAt)
	assert.Equal(t, "test/model", h.ModelID)

	m.HealthCheck(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusDoesNotWaitForLoad(t *testing.T) {
	release := make(chan struct{})
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		<-release
		return &ModelHandle{Captioner: &fakeCaptioner{}}, nil
	}), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.EnsureLoaded(context.Background())
	}()

	require.Eventually(t, func() bool {
		return m.Status().Status == StatusLoading
	}, time.Second, 5*time.Millisecond)

	close(release)
	<-done
	assert.Equal(t, StatusHealthy, m.Status().Status)
}

func TestCloseReleasesAndReloads(t *testing.T) {
	fc := &fakeCaptioner{}
	loader, calls := staticLoader(fc)
	m := NewManager("test/model", "cpu", loader, nil)

	_, err := m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Equal(t, int32(1), fc.closed.Load())
	assert.False(t, m.Loaded())

	_, err = m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestEnsureLoadedWaiterHonorsDeadline(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		calls.Add(1)
		<-release
		return &ModelHandle{Captioner: &fakeCaptioner{}}, nil
	}), zaptest.NewLogger(t))

	first := make(chan error, 1)
	go func() {
		_, err := m.EnsureLoaded(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool {
		return m.Status().Status == StatusLoading
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := m.EnsureLoaded(ctx)
	var le *ModelLoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StatusLoading, m.Status().Status)

	close(release)
	require.NoError(t, <-first)
	assert.True(t, m.Loaded())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHealthCheckReportsLoadingOnDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		<-release
		return &ModelHandle{Captioner: &fakeCaptioner{}}, nil
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	h := m.HealthCheck(ctx)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StatusLoading, h.Status)
	assert.False(t, h.Loaded)
	assert.Contains(t, h.LastError, context.DeadlineExceeded.Error())
}

func TestLoadOutlivesTriggeringCaller(t *testing.T) {
	var calls atomic.Int32
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		calls.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &ModelHandle{Captioner: &fakeCaptioner{}}, nil
	}), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := m.EnsureLoaded(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, m.Loaded, 2*time.Second, 10*time.Millisecond)
	h, err := m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test/model", h.ModelID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCloseCancelsInFlightLoad(t *testing.T) {
	var calls atomic.Int32
	m := NewManager("test/model", "cpu", LoaderFunc(func(ctx context.Context) (*ModelHandle, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &ModelHandle{Captioner: &fakeCaptioner{}}, nil
	}), zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := m.EnsureLoaded(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return m.Status().Status == StatusLoading
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("load was not canceled by Close")
	}
	assert.False(t, m.Loaded())

	_, err := m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
