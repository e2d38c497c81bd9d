package load

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/database"
)

// Runner drives a complete load: catalog extraction from the source, then
// every materialization phase in dependency order against the target.
type Runner struct {
	sink       Broadcaster
	logger     *log.Logger
	onProgress func(*Progress)
}

func NewRunner(sink Broadcaster, logger *log.Logger) *Runner {
	return &Runner{sink: sink, logger: logger}
}

func (r *Runner) WithProgressHook(fn func(*Progress)) {
	r.onProgress = fn
}

func (r *Runner) Run(ctx context.Context, req Request) error {
	if req.Options.BatchSize <= 0 {
		req.Options.BatchSize = 1000
	}
	req.Destination.ClientMinMessages = req.Options.ClientMinMessages

	src, err := database.Connect(ctx, req.Source)
	if err != nil {
		return err
	}
	defer src.Close(ctx)

	dst, err := database.Connect(ctx, req.Destination)
	if err != nil {
		return err
	}
	defer dst.Close(ctx)

	schemas := req.Selection.Schemas
	if len(schemas) == 0 {
		schemas, err = database.ListSchemas(ctx, src)
		if err != nil {
			return err
		}
	}
	cat, err := database.FetchCatalog(ctx, src, schemas)
	if err != nil {
		return fmt.Errorf("fetch source catalog: %w", err)
	}

	statuses, totalRows, err := buildTableStatuses(ctx, src, cat)
	if err != nil {
		return err
	}

	progress := NewProgress(r.sink, statuses)
	if r.onProgress != nil {
		r.onProgress(progress)
	}

	clone := func(ctx context.Context) (WorkerConn, error) {
		return database.Connect(ctx, req.Destination)
	}
	loader := NewLoader(dst, NewIntrospector(dst), clone, req.Options, r.logger, progress)

	progress.StartPhase("Create Schemas")
	if err := loader.CreateSchemas(ctx, cat, req.Options.IncludeDrop); err != nil {
		return err
	}
	progress.EndPhase("Create Schemas", len(cat.Schemas))

	progress.StartPhase("Create Types")
	if err := loader.CreateSqlTypes(ctx, cat); err != nil {
		return err
	}
	progress.EndPhase("Create Types", len(cat.DistinctSqlTypes()))

	progress.StartPhase("Create Tables")
	nTables, err := loader.CreateTables(ctx, cat)
	if err != nil {
		return err
	}
	progress.EndPhase("Create Tables", nTables)

	progress.StartPhase("Create Views")
	nViews, err := loader.CreateViews(ctx, cat)
	if err != nil {
		return err
	}
	progress.EndPhase("Create Views", nViews)

	// OIDs are load-bearing for generated index names; resolve them before
	// any index statement is rendered.
	if err := loader.ResolveTableOIDs(ctx, cat); err != nil {
		return err
	}

	progress.StartPhase("Drop Indexes")
	dropped, skipRebuild, err := loader.MaybeDropIndexes(ctx, cat)
	if err != nil {
		return err
	}
	progress.EndPhase("Drop Indexes", dropped)

	progress.StartPhase("Copy Data")
	if err := loader.copyData(ctx, req.Source, req.Destination, cat, totalRows); err != nil {
		return err
	}
	progress.EndPhase("Copy Data", len(cat.TableList()))

	if !skipRebuild {
		if err := loader.CreateIndexes(ctx, cat); err != nil {
			return err
		}
	}

	progress.StartPhase("Create Foreign Keys")
	if !req.Options.IncludeDrop {
		// Tables were kept; clear old keys so recreation cannot collide.
		if err := loader.DropForeignKeys(ctx, cat, false); err != nil {
			return err
		}
	}
	nFks, err := loader.CreateForeignKeys(ctx, cat)
	if err != nil {
		return err
	}
	progress.EndPhase("Create Foreign Keys", nFks)

	progress.StartPhase("Create Triggers")
	if err := loader.CreateTriggers(ctx, cat); err != nil {
		return err
	}
	progress.EndPhase("Create Triggers", 0)

	if _, err := loader.InstallComments(ctx, cat); err != nil {
		return err
	}

	// The reset block's LISTEN and temp table are session state; give it
	// its own connection instead of the shared one.
	seqConn, err := database.Connect(ctx, req.Destination)
	if err != nil {
		return err
	}
	defer seqConn.Close(ctx)
	if _, err := loader.ResetSequences(ctx, seqConn, cat); err != nil {
		return err
	}

	progress.Finish()
	return nil
}

func buildTableStatuses(ctx context.Context, src *pgx.Conn, cat *catalog.Catalog) ([]TableStatus, int64, error) {
	var statuses []TableStatus
	var total int64
	for _, t := range cat.TableList() {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		var count int64
		err := src.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`,
			database.QuoteQualified(t.Schema.Name, t.Name))).Scan(&count)
		if err != nil {
			return nil, 0, err
		}
		statuses = append(statuses, TableStatus{
			Schema:    t.Schema.Name,
			Name:      t.Name,
			Status:    "pending",
			TotalRows: count,
		})
		total += count
	}
	return statuses, total, nil
}
