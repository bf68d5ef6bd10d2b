package config

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-dboe/blockaccess"
	"github.com/mit-pdos/go-dboe/blockmgr"
	"github.com/mit-pdos/go-dboe/bufchan"
	"github.com/mit-pdos/go-dboe/component"
	"github.com/mit-pdos/go-dboe/disk"
	"github.com/mit-pdos/go-dboe/journal"
	"github.com/mit-pdos/go-dboe/txn"
	"github.com/mit-pdos/go-dboe/util"
)

// System is a started coordinator over the components a Config names.
type System struct {
	cfg         *Config
	coordinator *txn.Coordinator
	blocks      *component.Blocks
	integers    map[string]*component.Integer
	blobs       map[string]*component.Blob
	// replayed is the number of journal entries found at open.
	replayed uint64
}

// BlocksId is the id of the block store of the system identified by base.
func BlocksId(base txn.ComponentId) txn.ComponentId {
	return base.Derive("blocks", 0)
}

// CellId is the id of the named cell of the system identified by base.
func CellId(base txn.ComponentId, name string) txn.ComponentId {
	return txn.ComponentIdFromUUID(name, uuid.NewSHA1(uuid.UUID(base.Key()), []byte(name)))
}

type closer func() error

// Open creates what is missing under cfg.DataDir, opens every component,
// and starts the coordinator, which replays the journal.
func Open(cfg *Config) (*System, error) {
	util.SetDebugLevel(cfg.DebugLevel)
	base, err := txn.ParseComponentId("system", cfg.SystemId)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "data dir %s", cfg.DataDir)
	}

	var closers []closer
	fail := func(err error) (*System, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				util.Warnf("open: cleanup: %v", cerr)
			}
		}
		return nil, err
	}

	d, err := disk.NewFileDisk(cfg.Journal.Path, cfg.Journal.NumBlocks)
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(d)
	if err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "journal %s", cfg.Journal.Path)
	}
	closers = append(closers, j.Close)

	s := &System{
		cfg:         cfg,
		coordinator: txn.NewCoordinator(j),
		integers:    make(map[string]*component.Integer),
		blobs:       make(map[string]*component.Blob),
		replayed:    j.NumEntries(),
	}
	var comps []txn.TransactionalComponent

	if !cfg.Blocks.Disable {
		access, err := blockaccess.OpenFile(cfg.Blocks.Path, int(cfg.Blocks.BlockSize), cfg.Blocks.Direct)
		if err != nil {
			return fail(err)
		}
		mgr, err := blockmgr.New(cfg.Blocks.Path, access, blockmgr.Options{
			ReadCacheSize:  int(cfg.Blocks.ReadCacheSize),
			WriteCacheSize: int(cfg.Blocks.WriteCacheSize),
			Track:          cfg.Blocks.Track,
		})
		if err != nil {
			access.Close()
			return fail(err)
		}
		closers = append(closers, mgr.Close)
		s.blocks = component.NewBlocks(BlocksId(base), mgr, access.BlockSize())
		comps = append(comps, s.blocks)
	}

	for _, cell := range cfg.Cells {
		ch, err := bufchan.OpenFile(cell.Path)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, ch.Close)
		id := CellId(base, cell.Name)
		switch cell.Kind {
		case KindInteger:
			x, err := component.NewInteger(id, ch)
			if err != nil {
				return fail(err)
			}
			s.integers[cell.Name] = x
			comps = append(comps, x)
		case KindBlob:
			x, err := component.NewBlob(id, ch)
			if err != nil {
				return fail(err)
			}
			s.blobs[cell.Name] = x
			comps = append(comps, x)
		default:
			return fail(errors.Errorf("cell %q: unknown kind %q", cell.Name, cell.Kind))
		}
	}

	for _, comp := range comps {
		if err := s.coordinator.Add(comp); err != nil {
			return fail(err)
		}
	}
	err = s.coordinator.AddShutdownHook(txn.ShutdownFunc(func() {
		util.Infof("%s: closed after %d transactions", cfg.DataDir, s.coordinator.CountFinished())
	}))
	if err != nil {
		return fail(err)
	}
	// From here the coordinator owns every component and the journal.
	if err := s.coordinator.Start(); err != nil {
		if serr := s.coordinator.Shutdown(); serr != nil {
			util.Warnf("open: shutdown: %v", serr)
		}
		return nil, err
	}
	return s, nil
}

func (s *System) Config() *Config               { return s.cfg }
func (s *System) Coordinator() *txn.Coordinator { return s.coordinator }
func (s *System) Journal() *journal.Journal     { return s.coordinator.Journal() }
func (s *System) Replayed() uint64              { return s.replayed }

// Blocks is the block store, or nil when the configuration disables it.
func (s *System) Blocks() *component.Blocks { return s.blocks }

func (s *System) Integer(name string) (*component.Integer, bool) {
	x, ok := s.integers[name]
	return x, ok
}

func (s *System) Blob(name string) (*component.Blob, bool) {
	x, ok := s.blobs[name]
	return x, ok
}

// Close shuts the coordinator down, which closes every component and the
// journal.
func (s *System) Close() error {
	return s.coordinator.Shutdown()
}
