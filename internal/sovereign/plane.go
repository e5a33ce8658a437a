package sovereign

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/execution"
	"main/internal/governor"
	"main/internal/schema"
	"main/pkg/exception"
)

// Plane is the sovereign control plane: authenticated operator
// commands in, kernel effects out. Every attempt, accepted or not, is
// audited. Any accepted command counts as a deadman pulse.
type Plane struct {
	auth  *Authenticator
	audit *AuditLog
	gov   *governor.Governor
	exec  *execution.Adapter

	nowUs func() int64

	killOnce sync.Once
	killC    chan struct{}
}

// NewPlane wires the control plane.
func NewPlane(auth *Authenticator, audit *AuditLog, gov *governor.Governor, exec *execution.Adapter, nowUs func() int64) *Plane {
	if nowUs == nil {
		nowUs = func() int64 { return time.Now().UnixMicro() }
	}
	return &Plane{
		auth:  auth,
		audit: audit,
		gov:   gov,
		exec:  exec,
		nowUs: nowUs,
		killC: make(chan struct{}),
	}
}

// Killed is closed once a Kill command has completed its flatten. The
// process watches it and exits with the kill status code.
func (p *Plane) Killed() <-chan struct{} {
	return p.killC
}

// Submit authenticates, applies, and audits one command. The returned
// ack reports acceptance and the control-plane latency.
func (p *Plane) Submit(ctx context.Context, cmd Command) Ack {
	start := time.Now()
	ack := Ack{ID: cmd.ID}

	if err := p.auth.Verify(cmd); err != nil {
		ack.Detail = err.Error()
		ack.LatencyUs = time.Since(start).Microseconds()
		p.record(ctx, cmd, false, time.Since(start))
		logs.Warn(fmt.Sprintf("sovereign command %s rejected: %v", cmd.Type, err))
		return ack
	}

	// Authenticated traffic is operator liveness.
	p.gov.Pulse(p.nowUs())

	if err := p.apply(ctx, cmd); err != nil {
		ack.Detail = err.Error()
	} else {
		ack.Accepted = true
	}
	ack.LatencyUs = time.Since(start).Microseconds()
	p.record(ctx, cmd, ack.Accepted, time.Since(start))
	return ack
}

func (p *Plane) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CmdVerify:
		return nil

	case CmdPause:
		p.gov.Pause()
		logs.Info(fmt.Sprintf("sovereign pause by %s", cmd.UserID))
		return nil

	case CmdResume:
		if err := p.gov.Ratchet().Unfreeze(); err != nil {
			return err
		}
		p.gov.Resume()
		logs.Info(fmt.Sprintf("sovereign resume by %s", cmd.UserID))
		return nil

	case CmdVeto:
		// One-shot strike of every resting order.
		var firstErr error
		for _, o := range p.exec.Book().Live() {
			if err := p.exec.CancelOrder(ctx, o.OrderID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr

	case CmdSetSentimentOverride:
		v, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil || v < 0 || v > 1 {
			return exception.ErrInvalidOverride
		}
		p.gov.SetSentimentOverride(v)
		return nil

	case CmdClearSentimentOverride:
		p.gov.ClearSentimentOverride()
		return nil

	case CmdCloseAll:
		return p.exec.Flatten(ctx, 0, p.nowUs())

	case CmdKill:
		if p.gov.Ratchet().Killed() {
			return exception.ErrKillTerminal
		}
		if err := p.exec.Flatten(ctx, 0, p.nowUs()); err != nil {
			logs.Error(fmt.Sprintf("kill flatten: %v", err))
		}
		p.gov.Ratchet().Raise(schema.RatchetKill)
		p.killOnce.Do(func() { close(p.killC) })
		logs.Error(fmt.Sprintf("sovereign kill by %s", cmd.UserID))
		return nil

	default:
		return exception.ErrUnknownCommand
	}
}

func (p *Plane) record(ctx context.Context, cmd Command, accepted bool, latency time.Duration) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, cmd, accepted, latency); err != nil {
		logs.Warn(fmt.Sprintf("audit append failed: %v", err))
	}
}
