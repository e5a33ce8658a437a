package exception

import "github.com/yanun0323/errors"

// Feed and cognitive path.
var (
	ErrFeedStale       = errors.New("venue feed stale")
	ErrFeedOutOfOrder  = errors.New("tick older than last accepted")
	ErrFeedParse       = errors.New("malformed feed message")
	ErrContextTimeout  = errors.New("context service deadline exceeded")
	ErrContextDegraded = errors.New("context service unavailable")
)

// Risk and execution path.
var (
	ErrVetoed          = errors.New("intent vetoed")
	ErrRateExhausted   = errors.New("order rate budget exhausted")
	ErrFatFinger       = errors.New("order notional exceeds fat finger cap")
	ErrLeverageCap     = errors.New("order would exceed the leverage cap")
	ErrInsolvencyGuard = errors.New("insufficient margin for intent")
	ErrOrderUnknown    = errors.New("unknown order id")
	ErrOrderTerminal   = errors.New("order already in terminal state")
	ErrVenueRejected   = errors.New("venue rejected order")
)

// Sovereign control plane.
var (
	ErrUnauthorized     = errors.New("sovereign authentication failed")
	ErrBadAttestation   = errors.New("attested signature invalid")
	ErrUnknownCommand   = errors.New("unknown sovereign command")
	ErrInvalidOverride  = errors.New("sentiment override out of range")
	ErrRatchetMonotonic = errors.New("ratchet cannot be lowered")
	ErrKillTerminal     = errors.New("kernel is in kill state")
)

// Historian.
var (
	ErrLogOverwritten = errors.New("reader overtaken by ring writer")
	ErrLogCorrupt     = errors.New("decision log record corrupt")
	ErrLogExhausted   = errors.New("no more records")
)
