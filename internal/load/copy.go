package load

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/database"
)

func copyWorkerCount(tables int, requested int) int {
	if requested > 0 {
		if requested > tables {
			return tables
		}
		return requested
	}
	n := tables
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// copyData streams table rows from source to target on a worker pool,
// each worker owning one source and one target connection. Every table's
// bulk insert runs inside the trigger guard.
func (l *Loader) copyData(ctx context.Context, src, dst database.ConnInfo, cat *catalog.Catalog, totalRows int64) error {
	tables := cat.TableList()
	if len(tables) == 0 {
		return nil
	}

	workers := copyWorkerCount(len(tables), l.opts.Workers)
	taskCh := make(chan *catalog.Table, len(tables))
	for _, t := range tables {
		taskCh <- t
	}
	close(taskCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var copiedTotal int64
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			fail := func(err error) {
				l.logger.Printf("copy worker connect: %v", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				errMu.Unlock()
			}

			srcConn, err := database.Connect(ctx, src)
			if err != nil {
				fail(err)
				return
			}
			defer srcConn.Close(ctx)

			dstConn, err := database.Connect(ctx, dst)
			if err != nil {
				fail(err)
				return
			}
			defer dstConn.Close(ctx)

			for t := range taskCh {
				if ctx.Err() != nil {
					return
				}
				err := l.WithTriggersDisabled(ctx, dstConn, t, func(ctx context.Context) error {
					return l.copyOneTable(ctx, srcConn, dstConn, t, &copiedTotal, totalRows)
				})
				if err != nil {
					l.logger.Printf("table %s failed: %v", t.QualifiedName(), err)
					l.progress.AddFailedTable(t.Schema.Name, t.Name, err.Error())
					l.progress.UpdateTable(t.Schema.Name, t.Name, "failed", 0, 0)
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					errMu.Unlock()
					return
				}
			}
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (l *Loader) copyOneTable(ctx context.Context, src, dst *pgx.Conn, t *catalog.Table, copiedTotal *int64, totalRows int64) error {
	var rowCount int64
	if err := src.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`,
		database.QuoteQualified(t.Schema.Name, t.Name))).Scan(&rowCount); err != nil {
		return err
	}
	l.progress.UpdateTable(t.Schema.Name, t.Name, "in_progress", rowCount, 0)

	rows, err := src.Query(ctx, fmt.Sprintf(`SELECT * FROM %s`,
		database.QuoteQualified(t.Schema.Name, t.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	columns := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		columns = append(columns, c.Name)
	}

	batchSize := l.opts.BatchSize
	batch := make([][]any, 0, batchSize)
	var copied int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := dst.CopyFrom(ctx, pgx.Identifier{t.Schema.Name, t.Name}, columns, pgx.CopyFromRows(batch)); err != nil {
			return err
		}
		copied += int64(len(batch))
		atomic.AddInt64(copiedTotal, int64(len(batch)))
		l.progress.UpdateTable(t.Schema.Name, t.Name, "in_progress", rowCount, copied)
		l.progress.UpdateOverall(calcOverall(atomic.LoadInt64(copiedTotal), totalRows))
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		batch = append(batch, vals)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if rows.Err() != nil {
		return rows.Err()
	}
	if err := flush(); err != nil {
		return err
	}
	l.progress.UpdateTable(t.Schema.Name, t.Name, "completed", rowCount, rowCount)
	return nil
}

func calcOverall(done, total int64) int {
	if total == 0 {
		return 0
	}
	return int(float64(done) / float64(total) * 100.0)
}
