package access

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaguard/internal/util"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newFilter(t *testing.T, whitelist, blacklist []string) *Filter {
	t.Helper()
	f, err := New(whitelist, blacklist, WithShards(4))
	require.NoError(t, err)
	return f
}

func TestNew_Seeds(t *testing.T) {
	t.Parallel()

	f := newFilter(t, []string{"127.0.0.1", "both"}, []string{"6.6.6.6", "both"})

	assert.Equal(t, StateWhitelisted, f.Status("127.0.0.1", epoch).State)
	assert.Equal(t, StateBlacklisted, f.Status("6.6.6.6", epoch).State)
	assert.Equal(t, StateWhitelisted, f.Status("both", epoch).State)
	assert.Equal(t, StateClear, f.Status("1.1.1.1", epoch).State)
}

func TestNew_InvalidSeed(t *testing.T) {
	t.Parallel()

	_, err := New([]string{"bad identity"}, nil)
	require.Error(t, err)
	assert.True(t, util.IsConfigError(err))

	_, err = New(nil, []string{""})
	require.Error(t, err)
	assert.True(t, util.IsConfigError(err))
}

func TestFilter_Validation(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, nil)

	assert.True(t, errors.Is(f.Whitelist(""), util.ErrInvalidInput))
	assert.True(t, errors.Is(f.Blacklist("a\tb"), util.ErrInvalidInput))
	assert.True(t, errors.Is(f.RemoveFromBlacklist(""), util.ErrInvalidInput))

	_, err := f.Block("", epoch, BlockOptions{Duration: time.Second})
	assert.True(t, util.IsValidationError(err))
	_, err = f.Unblock("")
	assert.True(t, util.IsValidationError(err))

	for _, d := range []time.Duration{0, -time.Second} {
		_, err = f.Block("1.1.1.1", epoch, BlockOptions{Duration: d})
		require.Error(t, err)
		assert.True(t, util.IsValidationError(err))
	}

	// Nothing was mutated by the rejected calls.
	assert.Equal(t, 0, f.Stats(epoch).TrackedIdentities)
}

func TestFilter_WhitelistClearsBlocks(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, []string{"a"})
	_, err := f.Block("a", epoch, BlockOptions{Permanent: true})
	require.NoError(t, err)
	_, err = f.Block("a", epoch, BlockOptions{Duration: time.Minute})
	require.NoError(t, err)

	require.NoError(t, f.Whitelist("a"))
	require.NoError(t, f.Whitelist("a"))

	st := f.Status("a", epoch)
	assert.Equal(t, StateWhitelisted, st.State)

	stats := f.Stats(epoch)
	assert.Empty(t, stats.Blacklist)
	assert.Empty(t, stats.PermanentBlocks)
	assert.Empty(t, stats.TemporaryBlocks)
}

func TestFilter_WhitelistWins(t *testing.T) {
	t.Parallel()

	f := newFilter(t, []string{"a"}, nil)

	require.NoError(t, f.Blacklist("a"))
	applied, err := f.Block("a", epoch, BlockOptions{Permanent: true})
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, StateWhitelisted, f.Status("a", epoch).State)
}

func TestFilter_Precedence(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, nil)
	_, err := f.Block("a", epoch, BlockOptions{Duration: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, StateTemporarilyBlocked, f.Status("a", epoch).State)

	_, err = f.Block("a", epoch, BlockOptions{Permanent: true})
	require.NoError(t, err)
	assert.Equal(t, StatePermanentlyBlocked, f.Status("a", epoch).State)

	require.NoError(t, f.Blacklist("a"))
	assert.Equal(t, StateBlacklisted, f.Status("a", epoch).State)

	require.NoError(t, f.RemoveFromBlacklist("a"))
	assert.Equal(t, StatePermanentlyBlocked, f.Status("a", epoch).State)

	removed, err := f.Unblock("a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, StateClear, f.Status("a", epoch).State)

	removed, err = f.Unblock("a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFilter_UnblockKeepsBlacklist(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, []string{"a"})
	_, err := f.Unblock("a")
	require.NoError(t, err)
	assert.Equal(t, StateBlacklisted, f.Status("a", epoch).State)
}

func TestFilter_TemporaryExpiry(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, nil)
	_, err := f.Block("a", epoch, BlockOptions{Duration: 2 * time.Second, Auto: true})
	require.NoError(t, err)

	st := f.Status("a", epoch.Add(time.Second))
	assert.Equal(t, StateTemporarilyBlocked, st.State)
	assert.Equal(t, epoch.Add(2*time.Second), st.ExpiresAt)
	assert.True(t, st.Auto)
	assert.True(t, st.State.Denies())

	assert.Equal(t, StateClear, f.Status("a", epoch.Add(2*time.Second)).State)
	assert.False(t, StateClear.Denies())
	assert.False(t, StateWhitelisted.Denies())
}

func TestFilter_TemporaryLastWriteWins(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, nil)
	_, err := f.Block("a", epoch, BlockOptions{Duration: time.Hour})
	require.NoError(t, err)
	_, err = f.Block("a", epoch.Add(time.Second), BlockOptions{Duration: time.Second})
	require.NoError(t, err)

	assert.Equal(t, StateClear, f.Status("a", epoch.Add(3*time.Second)).State)
}

func TestFilter_SweepAndReset(t *testing.T) {
	t.Parallel()

	f := newFilter(t, []string{"w"}, []string{"b"})
	for i := 0; i < 5; i++ {
		_, err := f.Block(fmt.Sprintf("t%d", i), epoch, BlockOptions{Duration: time.Duration(i+1) * time.Second})
		require.NoError(t, err)
	}
	_, err := f.Block("p", epoch, BlockOptions{Permanent: true})
	require.NoError(t, err)

	assert.Equal(t, 3, f.Sweep(epoch.Add(3*time.Second)))

	stats := f.Stats(epoch.Add(3 * time.Second))
	assert.Equal(t, 2, stats.TempBlockedCount)
	assert.Equal(t, int64(1), stats.TemporaryBlocks["t3"])
	assert.Equal(t, int64(2), stats.TemporaryBlocks["t4"])

	f.Reset()
	stats = f.Stats(epoch)
	assert.Equal(t, 0, stats.TempBlockedCount)
	assert.Equal(t, []string{"w"}, stats.Whitelist)
	assert.Equal(t, []string{"b"}, stats.Blacklist)
	assert.Equal(t, []string{"p"}, stats.PermanentBlocks)
}

func TestFilter_Stats(t *testing.T) {
	t.Parallel()

	f := newFilter(t, []string{"w2", "w1"}, []string{"b1"})
	_, err := f.Block("auto", epoch, BlockOptions{Duration: 10 * time.Second, Auto: true})
	require.NoError(t, err)
	_, err = f.Block("manual", epoch, BlockOptions{Duration: 10 * time.Second})
	require.NoError(t, err)

	stats := f.Stats(epoch.Add(2500 * time.Millisecond))
	assert.Equal(t, 2, stats.WhitelistCount)
	assert.Equal(t, []string{"w1", "w2"}, stats.Whitelist)
	assert.Equal(t, 1, stats.BlacklistCount)
	assert.Equal(t, 2, stats.TempBlockedCount)
	assert.Equal(t, 1, stats.AutoBlockedCount)
	assert.Equal(t, 3, stats.BlockedIdentities)
	assert.Equal(t, 5, stats.TrackedIdentities)
	assert.Equal(t, int64(7), stats.TemporaryBlocks["auto"])
}

func TestFilter_Blocks(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, nil)
	_, err := f.Block("perm", epoch, BlockOptions{Permanent: true})
	require.NoError(t, err)
	_, err = f.Block("temp", epoch, BlockOptions{Duration: 5 * time.Second, Auto: true})
	require.NoError(t, err)
	_, err = f.Block("gone", epoch, BlockOptions{Duration: time.Second})
	require.NoError(t, err)

	blocks := f.Blocks(epoch.Add(2 * time.Second))
	require.Len(t, blocks, 2)

	byID := map[string]Block{}
	for _, b := range blocks {
		byID[b.Identity] = b
	}
	assert.True(t, byID["perm"].Permanent)
	assert.False(t, byID["temp"].Permanent)
	assert.True(t, byID["temp"].Auto)
	assert.Equal(t, epoch.Add(5*time.Second), byID["temp"].ExpiresAt)
	assert.Equal(t, 3, f.Len())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "clear", StateClear.String())
	assert.Equal(t, "whitelisted", StateWhitelisted.String())
	assert.Equal(t, "blacklisted", StateBlacklisted.String())
	assert.Equal(t, "permanently_blocked", StatePermanentlyBlocked.String())
	assert.Equal(t, "temporarily_blocked", StateTemporarilyBlocked.String())
}

func TestFilter_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFilter(t, nil, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("10.0.%d.%d", g, i)
				_, _ = f.Block(id, epoch, BlockOptions{Duration: time.Minute})
				_ = f.Status(id, epoch)
				if i%2 == 0 {
					_, _ = f.Unblock(id)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 400, f.Stats(epoch).TempBlockedCount)
}

func TestFilter_HandOffCarriesRuntimeState(t *testing.T) {
	t.Parallel()

	old := newFilter(t, []string{"seed-white"}, []string{"seed-black", "seed-removed"})
	require.NoError(t, old.Whitelist("9.9.9.9"))
	require.NoError(t, old.Blacklist("8.8.4.4"))
	require.NoError(t, old.RemoveFromBlacklist("seed-removed"))
	_, err := old.Block("temp", epoch, BlockOptions{Duration: time.Minute, Auto: true})
	require.NoError(t, err)
	_, err = old.Block("perm", epoch, BlockOptions{Permanent: true})
	require.NoError(t, err)

	// The newer configuration dropped seed-white and seed-black and keeps seed-removed.
	next := newFilter(t, nil, []string{"seed-removed", "new-black"})
	now := epoch.Add(10 * time.Second)
	assert.Equal(t, 2, old.HandOff(next, now))

	assert.Equal(t, StateWhitelisted, next.Status("9.9.9.9", now).State)
	assert.Equal(t, StateBlacklisted, next.Status("8.8.4.4", now).State)
	assert.Equal(t, StateBlacklisted, next.Status("new-black", now).State)
	assert.Equal(t, StateClear, next.Status("seed-white", now).State)
	assert.Equal(t, StateClear, next.Status("seed-black", now).State)
	assert.Equal(t, StateClear, next.Status("seed-removed", now).State)

	temp := next.Status("temp", now)
	assert.Equal(t, StateTemporarilyBlocked, temp.State)
	assert.Equal(t, epoch.Add(time.Minute), temp.ExpiresAt)
	assert.True(t, temp.Auto)
	assert.Equal(t, StatePermanentlyBlocked, next.Status("perm", now).State)
}

func TestFilter_HandOffWhitelistAppliedLaterWins(t *testing.T) {
	t.Parallel()

	old := newFilter(t, nil, nil)
	require.NoError(t, old.Blacklist("both"))
	require.NoError(t, old.Whitelist("both"))

	next := newFilter(t, nil, nil)
	old.HandOff(next, epoch)
	assert.Equal(t, StateWhitelisted, next.Status("both", epoch).State)
}

func TestFilter_HandOffMirrorsLaterMutations(t *testing.T) {
	t.Parallel()

	old := newFilter(t, nil, nil)
	next := newFilter(t, nil, nil)
	old.HandOff(next, epoch)

	_, err := old.Block("late", epoch, BlockOptions{Duration: time.Minute, Auto: true})
	require.NoError(t, err)
	require.NoError(t, old.Blacklist("late-black"))
	require.NoError(t, old.Whitelist("late-white"))

	assert.Equal(t, StateTemporarilyBlocked, next.Status("late", epoch).State)
	assert.Equal(t, StateBlacklisted, next.Status("late-black", epoch).State)
	assert.Equal(t, StateWhitelisted, next.Status("late-white", epoch).State)

	_, err = old.Unblock("late")
	require.NoError(t, err)
	require.NoError(t, old.RemoveFromBlacklist("late-black"))
	assert.Equal(t, StateClear, next.Status("late", epoch).State)
	assert.Equal(t, StateClear, next.Status("late-black", epoch).State)
}

func TestFilter_HandOffConcurrentBlocks(t *testing.T) {
	t.Parallel()

	old := newFilter(t, nil, nil)
	next := newFilter(t, nil, nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = old.Block(fmt.Sprintf("10.1.%d.%d", g, i), epoch, BlockOptions{Duration: time.Minute})
			}
		}(g)
	}
	old.HandOff(next, epoch)
	wg.Wait()

	assert.Equal(t, 400, old.Stats(epoch).TempBlockedCount)
	assert.Equal(t, 400, next.Stats(epoch).TempBlockedCount)
}
