package cachestore

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Persister periodically dumps a Store to a sidecar file. It skips a tick
// if the previous dump is still writing, rather than queueing work: a slow
// disk should degrade to "cache persists less often", not "dumps pile up".
type Persister struct {
	store    *Store
	path     string
	interval time.Duration
	log      zerolog.Logger

	dumping int32
	stop    chan struct{}
}

// NewPersister builds a persister for store, dumping to path every
// interval once Run is called.
func NewPersister(store *Store, path string, interval time.Duration, log zerolog.Logger) *Persister {
	return &Persister{
		store:    store,
		path:     path,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Run blocks, dumping store on every tick until Stop is called. Intended
// to be run in its own goroutine.
func (p *Persister) Run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.stop:
			return
		}
	}
}

func (p *Persister) tick() {
	if !atomic.CompareAndSwapInt32(&p.dumping, 0, 1) {
		p.log.Debug().Msg("skipping cache dump, previous dump still in flight")
		return
	}
	defer atomic.StoreInt32(&p.dumping, 0)

	entries := p.store.Dump()
	if err := WriteFile(p.path, entries); err != nil {
		p.log.Error().Err(err).Str("path", p.path).Msg("could not write cache sidecar")
		return
	}
	p.log.Trace().Int("entries", len(entries)).Str("path", p.path).Msg("dumped cache to sidecar")
}

// DumpNow performs a single synchronous dump, bypassing the in-flight
// guard. Intended for final-flush-on-shutdown use.
func (p *Persister) DumpNow() error {
	return WriteFile(p.path, p.store.Dump())
}

// Stop terminates Run's loop.
func (p *Persister) Stop() {
	close(p.stop)
}
