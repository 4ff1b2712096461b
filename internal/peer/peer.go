// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package peer orchestrates one miner's whole lifetime: admission onto a
// net, repeated rounds (internal/round), appending committed blocks to
// a local chain (internal/chain), local SIGINT handling, and teardown.
// Nothing here is net-transport specific; a Peer is handed a
// netreg.Transport and never sees whether it is internal/simnet or
// internal/shm underneath.
package peer

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vpcano/Miner-rush/internal/chain"
	"github.com/vpcano/Miner-rush/internal/logging"
	"github.com/vpcano/Miner-rush/internal/netreg"
	"github.com/vpcano/Miner-rush/internal/round"
)

// Config parameterizes a Peer's lifetime.
type Config struct {
	// Workers is the number of search goroutines per round.
	Workers int
	// Patience bounds every net wait; zero means round.DefaultPatience.
	Patience time.Duration
	// Rounds caps how many rounds this peer will play before leaving
	// voluntarily. Zero means unbounded (run until SIGINT or ctx done).
	Rounds int
	// Seed seeds the founder's initial target when this peer founds the
	// net; ignored by joiners.
	Seed int64
}

// Peer is one miner's full lifecycle: admit, play rounds, teardown.
type Peer struct {
	h     netreg.Handle
	rm    *round.Machine
	chain chain.Chain
	log   *zap.SugaredLogger
	cfg   Config
}

// New admits onto t (founding it if nobody has yet, joining otherwise)
// and builds a Peer ready to Run.
func New(ctx context.Context, t netreg.Transport, cfg Config, log *zap.SugaredLogger) (*Peer, error) {
	if log == nil {
		log = logging.Nop()
	}
	h, err := netreg.Admit(ctx, t, cfg.Seed)
	if err != nil {
		return nil, err
	}
	rcfg := round.Config{Workers: cfg.Workers, Patience: cfg.Patience}
	return &Peer{
		h:   h,
		rm:  round.New(h, rcfg, log),
		log: log,
		cfg: cfg,
	}, nil
}

// Chain exposes this peer's locally observed history, e.g. for a final
// report.
func (p *Peer) Chain() *chain.Chain { return &p.chain }

// Run plays rounds until: the round count configured in cfg.Rounds is
// reached, ctx is cancelled, a local SIGINT arrives, or a round is
// abandoned for lack of patience. It always tears down cleanly via
// Handle.Close before returning.
func (p *Peer) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var stopRequested atomic.Bool
	go func() {
		select {
		case <-sigCh:
			p.log.Infow("SIGINT received, leaving after the current round", "peer", p.h.Self())
			stopRequested.Store(true)
		case <-ctx.Done():
		}
	}()

	wasWinner := false
	played := 0
	for {
		if stopRequested.Load() {
			break
		}
		if p.cfg.Rounds > 0 && played >= p.cfg.Rounds {
			break
		}
		if ctx.Err() != nil {
			break
		}

		out, err := p.rm.RunOne(ctx)
		if err != nil {
			p.h.Close(wasWinner)
			return err
		}
		if out.Aborted {
			p.log.Warnw("round abandoned, too few peers responding", "peer", p.h.Self())
			break
		}
		played++
		wasWinner = out.WasWinner

		if out.Committed {
			p.chain.Append(out.Block)
			p.log.Infow("block committed", "peer", p.h.Self(), "block", out.Block.ID, "winner", out.WasWinner)
		} else {
			p.log.Infow("round rejected", "peer", p.h.Self())
		}

		// Post inline only if this peer will play another round; on its
		// final round, Close posts updated in its stead, and posting here
		// too would double-count this round's ticket against the next
		// round's WaitUpdated.
		playingAnother := !stopRequested.Load() && ctx.Err() == nil &&
			(p.cfg.Rounds <= 0 || played < p.cfg.Rounds)
		if !out.WasWinner && playingAnother {
			p.h.PostUpdated()
		}
	}

	_, err := p.h.Close(wasWinner)
	return err
}
