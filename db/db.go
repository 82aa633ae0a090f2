package db

import (
	"fmt"
	"log"

	"quill/btree"
	"quill/buffer"
	"quill/common"
	"quill/concurrency"
	"quill/disk"
	"quill/disk/structures"
	"quill/disk/wal"
	"quill/recovery"
	"quill/transaction"
)

// DB wires the engine together: disk manager, write-ahead log, buffer pool, lock manager and
// transaction manager. Opening an existing database runs recovery before anything else may touch
// the pages.
type DB struct {
	Pool        *buffer.BufferPool
	LockManager *concurrency.LockManager
	TxnManager  *concurrency.TxnManager
	Heap        *structures.TableHeap

	dm *disk.Manager
	lm *wal.LogManager
}

// Open creates or reopens the database at file with the given configuration.
func Open(file string, cfg common.Config) (*DB, error) {
	dm, created, err := disk.NewDiskManager(file, cfg.Fsync)
	if err != nil {
		return nil, fmt.Errorf("could not open db file: %w", err)
	}

	lm := wal.NewLogManagerWithSize(dm, true, cfg.LogBufferSize, cfg.LogTimeout())
	pool := buffer.NewBufferPool(cfg.PoolSize, dm, lm)
	lockManager := concurrency.NewLockManager(cfg.Strict2PL)
	tm := concurrency.NewTxnManager(lm, lockManager)

	d := &DB{
		Pool:        pool,
		LockManager: lockManager,
		TxnManager:  tm,
		dm:          dm,
		lm:          lm,
	}

	if created {
		boot := tm.Begin()
		heap, err := structures.NewTableHeap(boot, pool, lm)
		if err != nil {
			return nil, fmt.Errorf("could not create the table heap: %w", err)
		}
		d.Heap = heap
		tm.SetTableHeap(heap)
		tm.Commit(boot)
	} else {
		r := recovery.NewLogRecovery(dm, pool)
		maxLSN := r.Recover()
		lm.SetNextLSN(maxLSN + 1)
		if err := pool.FlushAll(); err != nil {
			return nil, fmt.Errorf("could not persist recovered state: %w", err)
		}
		log.Printf("db: recovery finished, highest lsn: %v\n", maxLSN)

		// the heap chain always begins on the first allocated page
		d.Heap = structures.OpenTableHeap(pool, lm, 1)
		tm.SetTableHeap(d.Heap)
	}

	lm.RunFlusher()
	return d, nil
}

// OpenIndex opens (or registers) a named B+tree index backed by this database's pool.
func OpenIndex[K any](d *DB, name string, ks btree.KeySerializer[K], cmp btree.Comparator[K]) *btree.BPlusTree[K] {
	return btree.NewBPlusTree(name, d.Pool, ks, cmp)
}

func (d *DB) Begin() *transaction.Transaction {
	return d.TxnManager.Begin()
}

func (d *DB) Commit(txn *transaction.Transaction) {
	d.TxnManager.Commit(txn)
}

func (d *DB) Abort(txn *transaction.Transaction) {
	d.TxnManager.Abort(txn)
}

// Close flushes everything and shuts the engine down cleanly.
func (d *DB) Close() error {
	if err := d.Pool.FlushAll(); err != nil {
		return err
	}
	if err := d.lm.StopFlusher(); err != nil {
		return err
	}
	return d.dm.Close()
}
