package domain

import "time"

// Defaults for the admission and penalty policy. Each value can be overridden
// through Limits; nothing else in the service hard-codes these numbers.
const (
	// DefaultMaxParticipantsCeiling caps how many active members a team may hold.
	DefaultMaxParticipantsCeiling = 4
	// DefaultJoinCutoff closes admissions this close to the start time.
	DefaultJoinCutoff = 2 * time.Hour
	// DefaultLateCancelWindow is the threshold under which leaving an active
	// slot counts as a late cancellation.
	DefaultLateCancelWindow = 24 * time.Hour
	// DefaultBanDuration is how long a late cancellation bans the user.
	DefaultBanDuration = 7 * 24 * time.Hour
	// DefaultTxAttempts bounds how often a conflicted admission transaction
	// is retried before surfacing ErrConflict.
	DefaultTxAttempts = 3
)

// Limits holds the named policy parameters for admission, cancellation
// penalties and transactional retries.
//
// The join cutoff and the late-cancel window are deliberately independent
// knobs; neither is derived from the other.
type Limits struct {
	MaxParticipantsCeiling int
	JoinCutoff             time.Duration
	LateCancelWindow       time.Duration
	BanDuration            time.Duration
	TxAttempts             int
}

// DefaultLimits returns the stock policy parameters.
func DefaultLimits() Limits {
	return Limits{
		MaxParticipantsCeiling: DefaultMaxParticipantsCeiling,
		JoinCutoff:             DefaultJoinCutoff,
		LateCancelWindow:       DefaultLateCancelWindow,
		BanDuration:            DefaultBanDuration,
		TxAttempts:             DefaultTxAttempts,
	}
}

// withDefaults fills zero fields so a partially populated Limits stays usable.
func (l Limits) withDefaults() Limits {
	defaults := DefaultLimits()
	if l.MaxParticipantsCeiling <= 0 {
		l.MaxParticipantsCeiling = defaults.MaxParticipantsCeiling
	}
	if l.JoinCutoff <= 0 {
		l.JoinCutoff = defaults.JoinCutoff
	}
	if l.LateCancelWindow <= 0 {
		l.LateCancelWindow = defaults.LateCancelWindow
	}
	if l.BanDuration <= 0 {
		l.BanDuration = defaults.BanDuration
	}
	if l.TxAttempts <= 0 {
		l.TxAttempts = defaults.TxAttempts
	}
	return l
}
