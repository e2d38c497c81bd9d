package load

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/ddl"
)

type indexTask struct {
	name string
	sql  string
}

type indexResult struct {
	name     string
	duration time.Duration
	err      error
}

// MaybeDropIndexes applies the drop gate. When DropIndexes is off and the
// target already carries indexes for catalog tables, nothing is dropped, a
// warning is emitted, and skipRebuild tells the caller to skip the rebuild
// phase entirely. When on, every catalog index is dropped, each preceded
// by drops of its dependent foreign keys, and dropped is the rebuild
// workload.
//
// Drops render the same name CreateIndexes would generate, so unless
// PreserveIndexNames is set they only remove indexes created under this
// tool's OID-based naming scheme; target indexes under other names are
// surfaced by the gate warning, never dropped.
func (l *Loader) MaybeDropIndexes(ctx context.Context, cat *catalog.Catalog) (dropped int, skipRebuild bool, err error) {
	if !l.opts.DropIndexes {
		existing := 0
		for _, t := range cat.TableList() {
			names, err := l.insp.ListIndexNames(ctx, t.Schema.Name, t.Name)
			if err != nil {
				return 0, false, err
			}
			existing += len(names)
		}
		if existing > 0 {
			l.logger.Printf("WARNING: %d indexes exist on target tables and dropIndexes is off; skipping index drop and rebuild", existing)
			l.progress.Log(fmt.Sprintf("keeping %d existing indexes", existing))
			return 0, true, nil
		}
		return 0, false, nil
	}

	opts := l.ddlOptions()
	for _, t := range cat.TableList() {
		for _, idx := range t.Indexes {
			// Dependent foreign keys go first; the index cannot be
			// dropped while a constraint still relies on it.
			for _, fk := range idx.FkDeps {
				if err := l.run(ctx, ddl.DropForeignKey(fk, opts)); err != nil {
					return dropped, false, err
				}
			}
			if err := l.run(ctx, ddl.DropIndex(idx, opts)); err != nil {
				return dropped, false, err
			}
			dropped++
		}
	}
	return dropped, false, nil
}

func indexWorkerCount(tasks, requested int) int {
	if requested > 0 && requested < tasks {
		return requested
	}
	return tasks
}

// CreateIndexes builds every catalog index on a bounded worker pool, one
// cloned connection per worker, then runs the deferred primary-key
// upgrades sequentially on the shared connection.
//
// Every submitted task produces exactly one result, success or failure;
// the drain always receives all of them. The first failure cancels the
// run context so queued tasks fail fast, but the error is only returned
// after the pool has been torn down — the upgrade phase must never overlap
// an in-flight build.
func (l *Loader) CreateIndexes(ctx context.Context, cat *catalog.Catalog) error {
	opts := l.ddlOptions()

	var tasks []indexTask
	var upgrades []string
	for _, t := range cat.TableList() {
		for _, idx := range t.Indexes {
			sql, upgrade := ddl.CreateIndex(idx, opts)
			tasks = append(tasks, indexTask{name: ddl.IndexName(idx, opts), sql: sql})
			if upgrade != "" {
				upgrades = append(upgrades, upgrade)
			}
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	l.progress.StartPhase("Create Indexes")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := indexWorkerCount(len(tasks), l.opts.MaxParallelCreateIndex)
	taskCh := make(chan indexTask, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)
	results := make(chan indexResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, err := l.clone(ctx)
			if err != nil {
				// The pool contract is one result per task; without a
				// connection this worker fails its share as it drains.
				for task := range taskCh {
					results <- indexResult{name: task.name, err: fmt.Errorf("index worker connect: %w", err)}
				}
				return
			}
			defer conn.Close(context.Background())

			for task := range taskCh {
				if ctx.Err() != nil {
					results <- indexResult{name: task.name, err: ctx.Err()}
					continue
				}
				l.progress.Log(fmt.Sprintf("create index %s", task.name))
				start := time.Now()
				_, err := conn.Exec(ctx, task.sql)
				results <- indexResult{name: task.name, duration: time.Since(start), err: err}
			}
		}()
	}

	// Drain: exactly one result per submitted task.
	var firstErr error
	for range tasks {
		res := <-results
		if res.err != nil {
			l.logger.Printf("index %s failed: %v", res.name, res.err)
			if firstErr == nil {
				firstErr = fmt.Errorf("create index %s: %w", res.name, res.err)
				cancel()
			}
			continue
		}
		l.logger.Printf("index %s built in %s", res.name, res.duration)
	}

	// Hard barrier: every worker has exited before anything below runs.
	wg.Wait()
	l.progress.EndPhase("Create Indexes", len(tasks))

	if firstErr != nil {
		return firstErr
	}

	if len(upgrades) == 0 {
		return nil
	}
	// Upgrading a unique index to a primary key takes a table-level lock;
	// deferring all upgrades to this sequential post-phase keeps them from
	// serializing (or deadlocking) the parallel builds above.
	l.progress.StartPhase("Index Pkey Upgrades")
	for _, sql := range upgrades {
		if err := l.run(ctx, sql); err != nil {
			return err
		}
	}
	l.progress.EndPhase("Index Pkey Upgrades", len(upgrades))
	return nil
}
