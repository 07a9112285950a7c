package podruntime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/api/apitest"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

type testEnv struct {
	clock    *testingclock.FakeClock
	registry *Registry
}

func newTestRegistry(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clk), WithLogger(logr.Discard())}, opts...)
	r := NewRegistry(opts...)
	t.Cleanup(r.Close)
	return &testEnv{clock: clk, registry: r}
}

// podContext returns a context whose client factory counts invocations.
func podContext(cardID, fingerprint string, client api.PodAPI, created *int32) *PodContext {
	return &PodContext{
		CardID:      cardID,
		Namespace:   "automation",
		Fingerprint: fingerprint,
		NewClient: func() (api.PodAPI, error) {
			if created != nil {
				atomic.AddInt32(created, 1)
			}
			return client, nil
		},
	}
}

func waitReady(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func waitForWatch(t *testing.T, fake *apitest.FakePodAPI, n int) *apitest.FakeWatch {
	t.Helper()
	require.Eventually(t, func() bool { return len(fake.Watches()) >= n }, time.Second, time.Millisecond)
	return fake.Watches()[n-1]
}

// ============================================================================
// 1. Bootstrap and counters
// ============================================================================

func TestEnsure_BootstrapListsThenWatches(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{ListResult: []api.AgentPod{
		apitest.Pod("a", api.PodRunning),
		apitest.Pod("b", api.PodPending),
		apitest.Pod("c", api.PodRunning),
	}}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	require.NotNil(t, w)
	waitReady(t, w)

	assert.Equal(t, StatusReady, w.Status())
	assert.Equal(t, 2, w.Count())
	assert.Equal(t, 3, w.Total())
	assert.Equal(t, []api.ListOptions{{CardID: "card-1", Namespace: "automation"}}, fake.ListCalls())

	watch := waitForWatch(t, fake, 1)
	assert.Equal(t, "card-1", watch.Opts.CardID)
	assert.Equal(t, "automation", watch.Opts.Namespace)
}

func TestWatcher_RunningToSucceeded(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{ListResult: []api.AgentPod{apitest.Pod("a", api.PodRunning)}}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	waitReady(t, w)
	require.Equal(t, 1, w.Count())

	watch := waitForWatch(t, fake, 1)
	watch.Emit(apitest.Modified(apitest.Pod("a", api.PodSucceeded)))

	assert.Equal(t, 0, w.Count())
	assert.Equal(t, 1, w.Total())
}

func TestWatcher_CountersFollowEvents(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	waitReady(t, w)
	watch := waitForWatch(t, fake, 1)

	watch.Emit(apitest.Added(apitest.Pod("a", api.PodPending)))
	assert.Equal(t, 0, w.Count())
	assert.Equal(t, 1, w.Total())

	watch.Emit(apitest.Modified(apitest.Pod("a", api.PodRunning)))
	watch.Emit(apitest.Added(apitest.Pod("b", api.PodRunning)))
	assert.Equal(t, 2, w.Count())

	// Replaying the same event leaves counters unchanged.
	watch.Emit(apitest.Added(apitest.Pod("b", api.PodRunning)))
	assert.Equal(t, 2, w.Count())
	assert.Equal(t, 2, w.Total())

	watch.Emit(apitest.Deleted(apitest.Pod("a", api.PodRunning)))
	assert.Equal(t, 1, w.Count())
	assert.Equal(t, 1, w.Total())

	// Unknown ids are ignored and never drive counters negative.
	watch.Emit(apitest.Deleted(apitest.Pod("ghost", api.PodRunning)))
	watch.Emit(apitest.Deleted(apitest.Pod("ghost", api.PodRunning)))
	assert.Equal(t, 1, w.Count())
	assert.Equal(t, 1, w.Total())

	assert.Equal(t, []string{"b"}, podNames(w.Pods()))
	require.Len(t, w.Groups(), 1)
	assert.Equal(t, api.PodRunning, w.Groups()[0].Phase)
}

func TestWatcher_BootstrapFailure(t *testing.T) {
	env := newTestRegistry(t)
	boom := errors.New("list failed")
	fake := &apitest.FakePodAPI{ListErr: boom}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	require.NotNil(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Every waiter observes the same failure.
	assert.ErrorIs(t, w.Wait(ctx), boom)
	assert.ErrorIs(t, w.Wait(ctx), boom)

	assert.Equal(t, StatusError, w.Status())
	assert.ErrorIs(t, w.Err(), boom)
	assert.Empty(t, fake.Watches(), "no watch after a failed list")
}

func TestWatcher_DisposeDuringBootstrap(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{ListFunc: func(ctx context.Context, _ api.ListOptions) ([]api.AgentPod, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	require.Eventually(t, func() bool { return len(fake.ListCalls()) == 1 }, time.Second, time.Millisecond)
	env.registry.Dispose("card-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), ErrDisposed)
	assert.True(t, w.Disposed())
	assert.Empty(t, fake.Watches())
}

// ============================================================================
// 2. Dedup and rotation
// ============================================================================

func TestEnsure_DedupsSameFingerprint(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{ListResult: []api.AgentPod{apitest.Pod("a", api.PodRunning)}}
	var created int32

	first := env.registry.Ensure(podContext("card-1", "fp-1", fake, &created))
	waitReady(t, first)
	waitForWatch(t, fake, 1)

	second := env.registry.Ensure(podContext("card-1", "fp-1", fake, &created))
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	assert.Len(t, fake.ListCalls(), 1)
	assert.Len(t, fake.Watches(), 1, "one underlying watch stream")
	assert.Equal(t, first.Count(), second.Count())
}

func TestEnsure_RotatesOnFingerprintChange(t *testing.T) {
	env := newTestRegistry(t)
	oldClient := &apitest.FakePodAPI{ListResult: []api.AgentPod{apitest.Pod("a", api.PodRunning)}}
	newClient := &apitest.FakePodAPI{ListResult: []api.AgentPod{
		apitest.Pod("x", api.PodRunning),
		apitest.Pod("y", api.PodRunning),
	}}

	old := env.registry.Ensure(podContext("card-1", "fp-old", oldClient, nil))
	waitReady(t, old)
	oldWatch := waitForWatch(t, oldClient, 1)

	rotated := env.registry.Ensure(podContext("card-1", "fp-new", newClient, nil))
	require.NotSame(t, old, rotated)
	assert.True(t, old.Disposed())
	assert.True(t, oldWatch.Stopped(), "old stream must be stopped")

	waitReady(t, rotated)
	assert.Equal(t, 2, rotated.Count(), "fresh snapshot from the new list")
	assert.Len(t, newClient.ListCalls(), 1)
	assert.Equal(t, "fp-new", rotated.Fingerprint())

	// Events on the old stream no longer count.
	oldWatch.Emit(apitest.Added(apitest.Pod("late", api.PodRunning)))
	assert.Equal(t, 1, old.Count())
}

func TestEnsure_RecreatesAfterError(t *testing.T) {
	env := newTestRegistry(t)
	failing := &apitest.FakePodAPI{ListErr: errors.New("forbidden")}
	healthy := &apitest.FakePodAPI{}

	broken := env.registry.Ensure(podContext("card-1", "fp-1", failing, nil))
	<-broken.Ready()
	require.Equal(t, StatusError, broken.Status())

	fresh := env.registry.Ensure(podContext("card-1", "fp-1", healthy, nil))
	require.NotSame(t, broken, fresh)
	waitReady(t, fresh)
	assert.Equal(t, StatusReady, fresh.Status())
}

func TestEnsure_ClientBuildFailure(t *testing.T) {
	env := newTestRegistry(t)
	pc := podContext("card-1", "fp-1", nil, nil)
	pc.NewClient = func() (api.PodAPI, error) { return nil, errors.New("bad CA bundle") }

	broken := env.registry.Ensure(pc)
	require.NotNil(t, broken)
	<-broken.Ready()
	assert.Equal(t, StatusError, broken.Status())
	assert.EqualError(t, broken.Err(), "bad CA bundle")

	healthy := &apitest.FakePodAPI{}
	fresh := env.registry.Ensure(podContext("card-1", "fp-1", healthy, nil))
	require.NotSame(t, broken, fresh)
	waitReady(t, fresh)
	assert.Len(t, healthy.ListCalls(), 1)
}

func TestEnsure_NotConfigured(t *testing.T) {
	env := newTestRegistry(t)
	assert.Nil(t, env.registry.Ensure(nil))
	assert.Nil(t, env.registry.Ensure(&PodContext{Fingerprint: "fp"}))

	w, err := env.registry.EnsureFor(context.Background(), ResolverFunc(func(context.Context) (*PodContext, error) {
		return nil, nil
	}))
	assert.NoError(t, err)
	assert.Nil(t, w)

	_, err = env.registry.EnsureFor(context.Background(), ResolverFunc(func(context.Context) (*PodContext, error) {
		return nil, errors.New("settings unreadable")
	}))
	assert.EqualError(t, err, "settings unreadable")
	assert.Zero(t, env.registry.Len())
}

func TestWarm_SwallowsFailures(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{ListErr: errors.New("offline")}
	resolver := ResolverFunc(func(context.Context) (*PodContext, error) {
		return podContext("card-1", "fp-1", fake, nil), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { env.registry.Warm(ctx, resolver) })

	w, ok := env.registry.Get("card-1")
	require.True(t, ok)
	assert.Equal(t, StatusError, w.Status())
}

// ============================================================================
// 3. Eviction
// ============================================================================

func TestSweep_EvictsStaleWatcher(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	waitReady(t, w)
	watch := waitForWatch(t, fake, 1)
	require.Eventually(t, env.clock.HasWaiters, time.Second, time.Millisecond, "sweep timer should be scheduled")

	env.clock.Step(DefaultStaleAfter + time.Second)

	require.Eventually(t, w.Disposed, time.Second, time.Millisecond)
	assert.True(t, watch.Stopped())
	assert.Zero(t, env.registry.Len())

	// The sweep stops itself once the registry is empty...
	time.Sleep(10 * time.Millisecond)
	assert.False(t, env.clock.HasWaiters())

	// ...and a new Ensure starts it again.
	env.registry.Ensure(podContext("card-2", "fp-1", fake, nil))
	require.Eventually(t, env.clock.HasWaiters, time.Second, time.Millisecond)
}

func TestSweep_KeepsTouchedWatcher(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{}

	w := env.registry.Ensure(podContext("card-1", "fp-1", fake, nil))
	require.Eventually(t, env.clock.HasWaiters, time.Second, time.Millisecond)

	env.clock.Step(time.Minute)
	assert.Same(t, w, env.registry.Ensure(podContext("card-1", "fp-1", fake, nil)))

	env.clock.Step(time.Minute + time.Second)
	require.Eventually(t, env.clock.HasWaiters, time.Second, time.Millisecond, "sweep should reschedule")
	assert.False(t, w.Disposed())
	assert.Equal(t, 1, env.registry.Len())
}

func TestClose_DisposesEverything(t *testing.T) {
	env := newTestRegistry(t)
	fake := &apitest.FakePodAPI{}

	a := env.registry.Ensure(podContext("card-a", "fp", fake, nil))
	b := env.registry.Ensure(podContext("card-b", "fp", fake, nil))
	assert.False(t, env.registry.Closed())
	env.registry.Close()
	assert.True(t, env.registry.Closed())

	assert.True(t, a.Disposed())
	assert.True(t, b.Disposed())
	assert.Zero(t, env.registry.Len())
	assert.Nil(t, env.registry.Ensure(podContext("card-c", "fp", fake, nil)))
	assert.NotPanics(t, env.registry.Close)
}

// ============================================================================
// 4. Badge
// ============================================================================

func TestBuildBadge(t *testing.T) {
	env := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Equal(t, Badge{Refresh: BadgeRefreshSeconds}, BuildBadge(ctx, nil))

	one := env.registry.Ensure(podContext("card-1", "fp", &apitest.FakePodAPI{ListResult: []api.AgentPod{
		apitest.Pod("a", api.PodRunning),
		apitest.Pod("b", api.PodSucceeded),
	}}, nil))
	badge := BuildBadge(ctx, one)
	assert.Equal(t, "1 running pod", badge.Text)
	assert.Equal(t, "green", badge.Color)
	assert.Equal(t, 1, badge.Running)
	assert.Equal(t, 2, badge.Total)

	many := env.registry.Ensure(podContext("card-2", "fp", &apitest.FakePodAPI{ListResult: []api.AgentPod{
		apitest.Pod("a", api.PodRunning),
		apitest.Pod("b", api.PodRunning),
	}}, nil))
	assert.Equal(t, "2 running pods", BuildBadge(ctx, many).Text)

	idle := env.registry.Ensure(podContext("card-3", "fp", &apitest.FakePodAPI{}, nil))
	assert.Empty(t, BuildBadge(ctx, idle).Text)

	offline := env.registry.Ensure(podContext("card-4", "fp", &apitest.FakePodAPI{ListErr: errors.New("x509: unknown authority")}, nil))
	badge = BuildBadge(ctx, offline)
	assert.Equal(t, "Pods offline", badge.Text)
	assert.Equal(t, "red", badge.Color)
	assert.Equal(t, "x509: unknown authority", badge.Title)
}

func podNames(pods []api.AgentPod) []string {
	out := make([]string, 0, len(pods))
	for _, p := range pods {
		out = append(out, p.Name)
	}
	return out
}
