package load

import (
	"context"
	"fmt"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/ddl"
)

// WithTriggersDisabled runs body with the table's triggers disabled,
// guaranteeing the re-enable on every exit path, error and cancellation
// included. With the DisableTriggers option off the body runs unguarded
// and no ALTER statements are issued at all.
//
// If re-enabling itself fails after the body failed, both errors surface
// with the body's failure first; cleanup must never mask the real cause.
func (l *Loader) WithTriggersDisabled(ctx context.Context, exec Executor, t *catalog.Table, body func(context.Context) error) (err error) {
	if !l.opts.DisableTriggers {
		return body(ctx)
	}

	opts := l.ddlOptions()
	if _, err := exec.Exec(ctx, ddl.DisableTriggers(t, opts)); err != nil {
		return fmt.Errorf("disable triggers on %s: %w", t.QualifiedName(), err)
	}
	defer func() {
		// Run even when ctx was cancelled mid-body.
		_, enableErr := exec.Exec(context.WithoutCancel(ctx), ddl.EnableTriggers(t, opts))
		if enableErr == nil {
			return
		}
		if err != nil {
			err = fmt.Errorf("%w (re-enabling triggers on %s also failed: %v)", err, t.QualifiedName(), enableErr)
			return
		}
		err = fmt.Errorf("enable triggers on %s: %w", t.QualifiedName(), enableErr)
	}()

	return body(ctx)
}
