// Package access implements the whitelist, blacklist and block registry
// consulted first on every admission.
//
// Temporary block expiry is evaluated lazily on read. Sweep removes entries
// left empty by expiry so abandoned blocks do not accumulate.
package access

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/arena"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// State is the effective access state of an identity.
type State int

// States in precedence order, highest first.
const (
	StateClear State = iota
	StateWhitelisted
	StateBlacklisted
	StatePermanentlyBlocked
	StateTemporarilyBlocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateWhitelisted:
		return "whitelisted"
	case StateBlacklisted:
		return "blacklisted"
	case StatePermanentlyBlocked:
		return "permanently_blocked"
	case StateTemporarilyBlocked:
		return "temporarily_blocked"
	default:
		return "clear"
	}
}

// Denies reports whether the state denies admission.
func (s State) Denies() bool {
	return s == StateBlacklisted || s == StatePermanentlyBlocked || s == StateTemporarilyBlocked
}

// Status is the result of an access check.
type Status struct {
	State State

	// ExpiresAt is set for StateTemporarilyBlocked.
	ExpiresAt time.Time

	// Auto reports that the deciding block was installed by escalation.
	Auto bool
}

// entry holds everything known about one identity. Whitelist and blacklist
// flags are independent; Status applies precedence.
type entry struct {
	whitelisted bool
	blacklisted bool
	permanent   bool
	permAuto    bool
	expiresAt   time.Time
	tempAuto    bool
}

func (e *entry) empty() bool {
	return !e.whitelisted && !e.blacklisted && !e.permanent && e.expiresAt.IsZero()
}

func (e *entry) expire(now time.Time) {
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		e.expiresAt = time.Time{}
		e.tempAuto = false
	}
}

func (e *entry) status() Status {
	switch {
	case e.whitelisted:
		return Status{State: StateWhitelisted}
	case e.blacklisted:
		return Status{State: StateBlacklisted}
	case e.permanent:
		return Status{State: StatePermanentlyBlocked, Auto: e.permAuto}
	case !e.expiresAt.IsZero():
		return Status{State: StateTemporarilyBlocked, ExpiresAt: e.expiresAt, Auto: e.tempAuto}
	default:
		return Status{State: StateClear}
	}
}

// Stats is a snapshot of the filter.
type Stats struct {
	WhitelistCount    int              `json:"whitelistCount"`
	BlacklistCount    int              `json:"blacklistCount"`
	TempBlockedCount  int              `json:"tempBlockedCount"`
	PermBlockedCount  int              `json:"permanentBlockedCount"`
	AutoBlockedCount  int              `json:"autoBlockedCount"`
	BlockedIdentities int              `json:"blockedIdentities"`
	TrackedIdentities int              `json:"trackedIdentities"`
	Whitelist         []string         `json:"whitelist"`
	Blacklist         []string         `json:"blacklist"`
	PermanentBlocks   []string         `json:"permanentBlocks"`
	TemporaryBlocks   map[string]int64 `json:"temporaryBlocks"`
}

// Option is a functional option for the filter.
type Option func(*Filter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithShards sets the number of lock stripes.
func WithShards(n int) Option {
	return func(f *Filter) {
		f.shards = n
	}
}

// Filter is the access registry.
type Filter struct {
	shards  int
	logger  observability.Logger
	entries *arena.Store[*entry]

	// Seed lists from configuration, kept apart from runtime changes.
	seedWhite map[string]struct{}
	seedBlack map[string]struct{}

	// successor receives every mutation once HandOff was called.
	successor atomic.Pointer[Filter]
}

// New creates a filter seeded with the given lists. Seeding applies the
// blacklist first so an identity on both lists ends up whitelisted.
func New(whitelist, blacklist []string, opts ...Option) (*Filter, error) {
	f := &Filter{
		logger:    observability.NopLogger(),
		seedWhite: make(map[string]struct{}, len(whitelist)),
		seedBlack: make(map[string]struct{}, len(blacklist)),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.entries = arena.New[*entry](f.shards)

	for _, id := range blacklist {
		if err := f.Blacklist(id); err != nil {
			return nil, util.NewConfigErrorWithCause("ipBlocking.blacklist", "invalid identity", err)
		}
		f.seedBlack[id] = struct{}{}
	}
	for _, id := range whitelist {
		if err := f.Whitelist(id); err != nil {
			return nil, util.NewConfigErrorWithCause("ipBlocking.whitelist", "invalid identity", err)
		}
		f.seedWhite[id] = struct{}{}
	}
	return f, nil
}

// HandOff moves the runtime state of f into next, a filter built from a
// newer configuration, and mirrors every later mutation of f into next so
// callers still holding f lose nothing.
//
// Lists f was seeded with belong to configuration: next's own seed decides
// them, except that seeded blacklist entries removed at runtime stay
// removed. Runtime whitelist and blacklist entries and unexpired blocks
// are copied. Each identity is copied under f's lock for it, so a
// concurrent mutation lands in next either through the copy or through
// the mirror, never neither. It returns the number of blocks copied.
func (f *Filter) HandOff(next *Filter, now time.Time) int {
	if next == nil || next == f {
		return 0
	}
	f.successor.Store(next)

	for id := range f.seedBlack {
		f.entries.Upsert(id, time.Time{}, newEntry, func(e *entry, _ bool) {
			if !e.blacklisted {
				_ = next.RemoveFromBlacklist(id)
			}
		})
	}

	copied := 0
	f.entries.Range(func(identity string, e *entry) bool {
		e.expire(now)
		copied += f.copyEntry(next, identity, e, now)
		return true
	})

	f.logger.Debug("access state handed off",
		observability.Int("blocks", copied),
	)
	return copied
}

func (f *Filter) copyEntry(next *Filter, identity string, e *entry, now time.Time) int {
	if _, seeded := f.seedWhite[identity]; e.whitelisted && !seeded {
		_ = next.Whitelist(identity)
	}
	if _, seeded := f.seedBlack[identity]; e.blacklisted && !seeded {
		_ = next.Blacklist(identity)
	}

	copied := 0
	if e.permanent {
		if applied, _ := next.Block(identity, now, BlockOptions{Permanent: true, Auto: e.permAuto}); applied {
			copied++
		}
	}
	if !e.expiresAt.IsZero() {
		opts := BlockOptions{Duration: e.expiresAt.Sub(now), Auto: e.tempAuto}
		if applied, _ := next.Block(identity, now, opts); applied {
			copied++
		}
	}
	return copied
}

func newEntry() *entry {
	return &entry{}
}

func validate(identity string) error {
	if err := util.ValidateIdentity(identity); err != nil {
		return util.NewValidationErrorWithCause("identity", "invalid identity", err)
	}
	return nil
}

// Whitelist marks identity as always allowed and removes its blacklist
// membership and blocks.
func (f *Filter) Whitelist(identity string) error {
	if err := validate(identity); err != nil {
		return err
	}
	f.entries.Upsert(identity, time.Time{}, newEntry, func(e *entry, _ bool) {
		*e = entry{whitelisted: true}
	})
	if next := f.successor.Load(); next != nil {
		_ = next.Whitelist(identity)
	}
	return nil
}

// Blacklist marks identity as always denied. A whitelisted identity keeps
// winning until it is explicitly changed.
func (f *Filter) Blacklist(identity string) error {
	if err := validate(identity); err != nil {
		return err
	}
	f.entries.Upsert(identity, time.Time{}, newEntry, func(e *entry, _ bool) {
		e.blacklisted = true
	})
	if next := f.successor.Load(); next != nil {
		_ = next.Blacklist(identity)
	}
	return nil
}

// RemoveFromBlacklist drops blacklist membership. Blocks are kept.
func (f *Filter) RemoveFromBlacklist(identity string) error {
	if err := validate(identity); err != nil {
		return err
	}
	f.entries.Update(identity, time.Time{}, func(e *entry) {
		e.blacklisted = false
	})
	if next := f.successor.Load(); next != nil {
		_ = next.RemoveFromBlacklist(identity)
	}
	return nil
}

// BlockOptions describe a block request.
type BlockOptions struct {
	Duration  time.Duration
	Permanent bool
	Auto      bool
}

// Block installs a permanent block or a temporary block expiring at
// now+Duration. A new temporary block replaces the previous expiry. It
// returns false without change when identity is whitelisted.
func (f *Filter) Block(identity string, now time.Time, opts BlockOptions) (bool, error) {
	if err := validate(identity); err != nil {
		return false, err
	}
	if !opts.Permanent {
		if err := util.ValidatePositiveDuration("duration", opts.Duration); err != nil {
			return false, err
		}
	}

	applied := false
	f.entries.Upsert(identity, now, newEntry, func(e *entry, _ bool) {
		if e.whitelisted {
			return
		}
		applied = true
		if opts.Permanent {
			e.permanent = true
			e.permAuto = opts.Auto
			return
		}
		e.expiresAt = now.Add(opts.Duration)
		e.tempAuto = opts.Auto
	})

	if !applied {
		f.logger.Debug("block ignored for whitelisted identity",
			observability.String("identity", identity),
		)
	}
	if next := f.successor.Load(); next != nil && applied {
		_, _ = next.Block(identity, now, opts)
	}
	return applied, nil
}

// Unblock removes temporary and permanent blocks. List membership is kept.
func (f *Filter) Unblock(identity string) (bool, error) {
	if err := validate(identity); err != nil {
		return false, err
	}
	removed := false
	f.entries.Update(identity, time.Time{}, func(e *entry) {
		removed = e.permanent || !e.expiresAt.IsZero()
		e.permanent, e.permAuto = false, false
		e.expiresAt, e.tempAuto = time.Time{}, false
	})
	if next := f.successor.Load(); next != nil {
		_, _ = next.Unblock(identity)
	}
	return removed, nil
}

// Block describes one installed block.
type Block struct {
	Identity  string
	Permanent bool
	ExpiresAt time.Time
	Auto      bool
}

// Blocks lists unexpired blocks at now. An identity with both a permanent
// and a temporary block yields two records.
func (f *Filter) Blocks(now time.Time) []Block {
	var blocks []Block
	f.entries.Range(func(identity string, e *entry) bool {
		e.expire(now)
		if e.permanent {
			blocks = append(blocks, Block{Identity: identity, Permanent: true, Auto: e.permAuto})
		}
		if !e.expiresAt.IsZero() {
			blocks = append(blocks, Block{Identity: identity, ExpiresAt: e.expiresAt, Auto: e.tempAuto})
		}
		return true
	})
	return blocks
}

// Len returns the number of tracked entries, expired ones included.
func (f *Filter) Len() int {
	return f.entries.Len()
}

// Status returns the effective state of identity at now.
func (f *Filter) Status(identity string, now time.Time) Status {
	st := Status{State: StateClear}
	f.entries.View(identity, func(e *entry) {
		e.expire(now)
		st = e.status()
	})
	return st
}

// Sweep drops entries whose only content was an expired block.
func (f *Filter) Sweep(now time.Time) int {
	return f.entries.DeleteIf(func(_ string, e *entry) bool {
		e.expire(now)
		return e.empty()
	})
}

// Reset clears temporary blocks; lists and permanent blocks stay.
func (f *Filter) Reset() {
	f.entries.DeleteIf(func(_ string, e *entry) bool {
		e.expiresAt, e.tempAuto = time.Time{}, false
		return e.empty()
	})
	if next := f.successor.Load(); next != nil {
		next.Reset()
	}
}

// Stats returns a snapshot at now. Remaining block time is in whole seconds.
func (f *Filter) Stats(now time.Time) Stats {
	stats := Stats{
		Whitelist:       []string{},
		Blacklist:       []string{},
		PermanentBlocks: []string{},
		TemporaryBlocks: map[string]int64{},
	}

	f.entries.Range(func(identity string, e *entry) bool {
		e.expire(now)
		if e.empty() {
			return true
		}
		stats.TrackedIdentities++
		if e.whitelisted {
			stats.Whitelist = append(stats.Whitelist, identity)
		}
		if e.blacklisted {
			stats.Blacklist = append(stats.Blacklist, identity)
		}
		if e.permanent {
			stats.PermanentBlocks = append(stats.PermanentBlocks, identity)
		}
		if !e.expiresAt.IsZero() {
			stats.TemporaryBlocks[identity] = int64(e.expiresAt.Sub(now) / time.Second)
		}
		if (e.permanent && e.permAuto) || (!e.expiresAt.IsZero() && e.tempAuto) {
			stats.AutoBlockedCount++
		}
		if e.status().State.Denies() {
			stats.BlockedIdentities++
		}
		return true
	})

	sort.Strings(stats.Whitelist)
	sort.Strings(stats.Blacklist)
	sort.Strings(stats.PermanentBlocks)
	stats.WhitelistCount = len(stats.Whitelist)
	stats.BlacklistCount = len(stats.Blacklist)
	stats.PermBlockedCount = len(stats.PermanentBlocks)
	stats.TempBlockedCount = len(stats.TemporaryBlocks)

	return stats
}
