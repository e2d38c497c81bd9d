package load

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/ddl"
)

// commentQuoteTag builds the per-run dollar-quote delimiter: two
// independent five-character uppercase tokens joined by an underscore.
// Comments are arbitrary user text with no parameter binding available,
// so the delimiter only needs to be unlikely to appear in that text —
// collision is accepted residual risk, not defended against further.
func commentQuoteTag() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = letters[rand.Intn(len(letters))]
	}
	buf[5] = '_'
	return string(buf)
}

// InstallComments emits COMMENT ON statements for every table and column
// carrying one, all delimited with the run's quote tag. Returns how many
// comments were installed.
func (l *Loader) InstallComments(ctx context.Context, cat *catalog.Catalog) (int, error) {
	l.progress.StartPhase("Comments")
	opts := l.ddlOptions()
	count := 0
	for _, t := range cat.TableList() {
		if t.Comment != "" {
			if err := l.run(ctx, ddl.CommentOnTable(t, l.commentTag, opts)); err != nil {
				return count, err
			}
			count++
		}
		for _, col := range t.Columns {
			if col.Comment == "" {
				continue
			}
			if err := l.run(ctx, ddl.CommentOnColumn(t, col, l.commentTag, opts)); err != nil {
				return count, err
			}
			count++
		}
	}
	l.progress.EndPhase("Comments", count)
	if count > 0 {
		l.progress.Log(fmt.Sprintf("installed %d comments", count))
	}
	return count, nil
}
