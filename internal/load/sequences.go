package load

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/ddl"
)

// ErrSequenceResetNotify distinguishes "the reset block never reported
// back" from a legitimate zero-sequence result. Operators must be able to
// tell a silent crash apart from "nothing to do".
var ErrSequenceResetNotify = errors.New("no notification received from sequence reset")

const sequenceResetTimeout = 5 * time.Minute

// ResetSequences recomputes every auto-increment sequence backing a column
// of the target tables from current table contents, inside one atomic DO
// block. The block has no return path, so the touched-sequence count comes
// back on a notification channel the caller listens on before executing.
//
// The connection must be dedicated: LISTEN state and the temp table are
// session-local.
func (l *Loader) ResetSequences(ctx context.Context, conn *pgx.Conn, target catalog.TableLister) (count int, err error) {
	tables := target.TableList()
	var oids []uint32
	for _, t := range tables {
		if t.OID != 0 {
			oids = append(oids, t.OID)
		}
	}
	// A table set with no resolved OIDs cannot be restricted; falling back
	// to the unrestricted block would touch every sequence in the database.
	if len(tables) > 0 && len(oids) == 0 {
		return 0, fmt.Errorf("%w: sequence reset restriction needs resolved OIDs", ErrTableOIDNotFound)
	}

	l.progress.StartPhase("Reset Sequences")
	defer func() {
		l.progress.EndPhase("Reset Sequences", count)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+ddl.SequenceResetChannel); err != nil {
		return 0, err
	}

	if len(oids) > 0 {
		if _, err := conn.Exec(ctx, ddl.ReloidsTempTable(oids)); err != nil {
			return 0, err
		}
	}
	if _, err := conn.Exec(ctx, ddl.ResetSequencesSQL(len(oids) > 0)); err != nil {
		return 0, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, sequenceResetTimeout)
	defer cancel()
	notification, err := conn.WaitForNotification(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: timed out after %s", ErrSequenceResetNotify, sequenceResetTimeout)
		}
		return 0, fmt.Errorf("%w: %w", ErrSequenceResetNotify, err)
	}

	count, err = parseSequenceResetCount(notification.Payload)
	if err != nil {
		return 0, err
	}
	l.logger.Printf("reset %d sequences", count)
	return count, nil
}

func parseSequenceResetCount(payload string) (int, error) {
	n, err := strconv.Atoi(payload)
	if err != nil {
		return 0, fmt.Errorf("sequence reset notification carried %q, expected a count: %w", payload, err)
	}
	return n, nil
}
