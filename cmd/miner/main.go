// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Command miner is one real OS-process peer in the mining net, talking
// to every other miner process through the shared-memory region of
// internal/shm.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vpcano/Miner-rush/internal/chain"
	"github.com/vpcano/Miner-rush/internal/logging"
	"github.com/vpcano/Miner-rush/internal/peer"
	"github.com/vpcano/Miner-rush/internal/shm"
)

// netName is the fixed name every miner process rendezvous on.
const netName = "miner-rush"

func main() {
	debug := flag.Bool("debug", false, "enable development-mode (console) logging")
	seed := flag.Int64("seed", -1, "founder's target RNG seed, -1 means use wall-clock")
	patience := flag.Duration("patience", 3_000_000_000, "bounded wait on the round/result latches before abandoning a round")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <n_workers> <n_rounds>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	workers, err := strconv.Atoi(flag.Arg(0))
	if err != nil || workers < 1 || workers > 10 {
		fmt.Fprintln(os.Stderr, "n_workers must be an integer in [1, 10]")
		os.Exit(2)
	}
	rounds, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, "n_rounds must be an integer (<= 0 means run until SIGINT)")
		os.Exit(2)
	}
	if rounds < 0 {
		rounds = 0
	}

	log := logging.New(*debug)
	defer log.Sync()

	shm.IgnoreDefaultSIGUSR2()

	founderSeed := *seed
	if founderSeed == -1 {
		founderSeed = time.Now().UnixNano()
	}
	cfg := peer.Config{
		Workers:  workers,
		Rounds:   rounds,
		Seed:     founderSeed,
		Patience: *patience,
	}
	p, err := peer.New(context.Background(), shm.New(netName), cfg, log)
	if err != nil {
		log.Errorw("could not join the mining net", "error", err)
		os.Exit(1)
	}

	if err := p.Run(context.Background()); err != nil {
		log.Errorw("peer exited with error", "error", err)
		os.Exit(1)
	}

	chain.Print(os.Stdout, p.Chain().Tail)
}
