// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package shm is the real cross-process netreg.Transport: the shared
// region is a POSIX shared-memory file under /dev/shm, memory-mapped
// into every peer process with syscall.Mmap, and every named semaphore
// is a spin-wait counter or lock living directly inside that mapped
// memory (there is no portable cross-process semaphore in the standard
// library or anywhere in this module's dependency set, so
// atomics-over-shared-pages is the equivalent construct).
// internal/simnet is the in-process twin used by tests and cmd/simnet;
// this package is what cmd/miner actually links against.
package shm

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/vpcano/Miner-rush/internal/minerr"
	"github.com/vpcano/Miner-rush/internal/netreg"
)

const maxMiners = netreg.MaxMiners

// rawNet is the shared slot table, voting pool, and every
// counting/binary "semaphore", each a plain int64 manipulated with
// sync/atomic. Every field is fixed-size so the struct has one stable
// on-disk layout regardless of which process maps it.
type rawNet struct {
	mu            int64 // spinlock: occupied/votingPool/pids/totalMiners/currentWinner
	totalMiners   int64
	currentWinner int64 // -1 means none
	winnerLock    int64 // binary spinlock
	entryLock     int64 // binary spinlock
	roundCount    int64 // counting ticket
	updatedCount  int64 // counting ticket
	votingCount   int64 // counting ticket
	resultCount   int64 // counting ticket
	occupied      [maxMiners]int64
	votingPool    [maxMiners]int64 // 0 absent, 1 yes, 2 no
	pids          [maxMiners]int64
	signals       [maxMiners]int64 // pending SIGUSR2-equivalent count, per slot
}

// rawBlock is the shared round content.
type rawBlock struct {
	mu       int64
	id       int64
	target   int64
	solution int64
	isValid  int64
	// wallets[i] == -1 is "never seated"; any other value is a reward
	// count. handle.snapshotWallets converts this into the map[int]int64
	// of netreg.BlockSnapshot.Wallets that the rest of the module uses.
	wallets [maxMiners]int64
}

// rawRegion is the entire mapped file, net first then block, kept in
// one file for a single open/mmap/close lifecycle.
type rawRegion struct {
	net   rawNet
	block rawBlock
}

const regionSize = int(unsafe.Sizeof(rawRegion{}))

func regionPath(name string) string {
	return "/dev/shm/minerrush-" + name
}

// region owns the mmap'd bytes and the typed view over them.
type region struct {
	file *os.File
	data []byte
	raw  *rawRegion
}

func createRegion(name string) (*region, error) {
	path := regionPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, netreg.ErrAlreadyExists
		}
		return nil, minerr.Wrap(minerr.SharedRegionFailed, err, "create shared region")
	}
	if err := f.Truncate(int64(regionSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, minerr.Wrap(minerr.SharedRegionFailed, err, "truncate shared region")
	}
	return mapRegion(f, path)
}

func openRegion(name string) (*region, error) {
	path := regionPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, minerr.New(minerr.SharedRegionFailed, "no such net: "+name)
		}
		return nil, minerr.Wrap(minerr.SharedRegionFailed, err, "open shared region")
	}
	return mapRegion(f, path)
}

func mapRegion(f *os.File, path string) (*region, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, regionSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, minerr.Wrap(minerr.SharedRegionFailed, err, "mmap shared region")
	}
	return &region{
		file: f,
		data: data,
		raw:  (*rawRegion)(unsafe.Pointer(&data[0])),
	}, nil
}

// unmap releases this process's mapping. It does not remove the
// underlying file; call unlink for that (the last peer's job).
func (r *region) unmap() error {
	if err := syscall.Munmap(r.data); err != nil {
		return minerr.Wrap(minerr.SharedRegionFailed, err, "munmap shared region")
	}
	return r.file.Close()
}

func unlinkRegion(name string) error {
	return os.Remove(regionPath(name))
}
