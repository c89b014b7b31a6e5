package entitysource

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/talentpipe/sentinel/engine"
)

// listBatchSize is the keyset-pagination page size used by List iterators.
const listBatchSize = 500

// SQLAccessor implements engine.Accessor over one relational table described
// by a Descriptor. The descriptor must be validated before construction.
type SQLAccessor struct {
	db       *sql.DB
	desc     Descriptor
	columns  []string
	terminal map[string]bool
}

// NewSQLAccessor creates an accessor for a validated descriptor
func NewSQLAccessor(db *sql.DB, desc Descriptor) (*SQLAccessor, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate descriptor: %w", err)
	}

	columns := make([]string, 0, len(desc.Fields))
	for name := range desc.Fields {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	terminal := make(map[string]bool, len(desc.TerminalStages))
	for _, stage := range desc.TerminalStages {
		terminal[stage] = true
	}

	return &SQLAccessor{
		db:       db,
		desc:     desc,
		columns:  columns,
		terminal: terminal,
	}, nil
}

func (a *SQLAccessor) EntityType() string { return a.desc.EntityType }

func (a *SQLAccessor) OwnerField() string { return a.desc.OwnerField }

func (a *SQLAccessor) AssigneeField() string { return a.desc.AssigneeField }

func (a *SQLAccessor) ContactEmailField() string { return a.desc.ContactField }

// TerminalStage reports whether a stage value is flagged terminal in the
// descriptor. Non-string values are stringified before comparison.
func (a *SQLAccessor) TerminalStage(stage any) bool {
	if stage == nil {
		return false
	}
	s, ok := stage.(string)
	if !ok {
		s = fmt.Sprintf("%v", stage)
	}
	return a.terminal[s]
}

// List streams all rows of the table in id order. Pages are fetched lazily
// in batches so large tables are never held in memory at once.
func (a *SQLAccessor) List(ctx context.Context) (engine.Iterator, error) {
	return &sqlIterator{accessor: a}, nil
}

// Get returns one row by identifier
func (a *SQLAccessor) Get(ctx context.Context, id string) (engine.Record, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1",
		a.desc.IDColumn, strings.Join(a.columns, ", "), a.desc.Table, a.desc.IDColumn)

	row := a.db.QueryRowContext(ctx, query, id)
	rec, err := a.scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, engine.Errorf(engine.KindNotFound, "%s %q not found", a.desc.EntityType, id)
	}
	if err != nil {
		return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "get", a.desc.EntityType)
	}
	return rec, nil
}

// queryPage fetches one keyset page starting after the given id. An empty
// afterID fetches the first page.
func (a *SQLAccessor) queryPage(ctx context.Context, afterID string) ([]engine.Record, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE $1 = '' OR %s > $1 ORDER BY %s LIMIT %d",
		a.desc.IDColumn, strings.Join(a.columns, ", "), a.desc.Table,
		a.desc.IDColumn, a.desc.IDColumn, listBatchSize)

	rows, err := a.db.QueryContext(ctx, query, afterID)
	if err != nil {
		return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "list", a.desc.EntityType)
	}
	defer rows.Close()

	var page []engine.Record
	for rows.Next() {
		rec, err := a.scanRecord(rows.Scan)
		if err != nil {
			return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "list", a.desc.EntityType)
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "list", a.desc.EntityType)
	}
	return page, nil
}

// scanRecord scans one row, id column first then fields in column order,
// into a MapRecord with descriptor-typed values. NULL columns are omitted
// from the record so engine null semantics apply.
func (a *SQLAccessor) scanRecord(scan func(dest ...any) error) (engine.Record, error) {
	var id string
	dests := make([]any, 0, len(a.columns)+1)
	dests = append(dests, &id)

	holders := make([]any, len(a.columns))
	for i, name := range a.columns {
		switch a.desc.Fields[name] {
		case FieldInt:
			holders[i] = &sql.NullInt64{}
		case FieldFloat:
			holders[i] = &sql.NullFloat64{}
		case FieldBool:
			holders[i] = &sql.NullBool{}
		case FieldTimestamp:
			holders[i] = &sql.NullTime{}
		default:
			holders[i] = &sql.NullString{}
		}
		dests = append(dests, holders[i])
	}

	if err := scan(dests...); err != nil {
		return nil, err
	}

	values := make(map[string]any, len(a.columns))
	for i, name := range a.columns {
		switch h := holders[i].(type) {
		case *sql.NullInt64:
			if h.Valid {
				values[name] = h.Int64
			}
		case *sql.NullFloat64:
			if h.Valid {
				values[name] = h.Float64
			}
		case *sql.NullBool:
			if h.Valid {
				values[name] = h.Bool
			}
		case *sql.NullTime:
			if h.Valid {
				values[name] = h.Time
			}
		case *sql.NullString:
			if h.Valid {
				values[name] = h.String
			}
		}
	}

	return &engine.MapRecord{RecordID: id, Values: values}, nil
}

// sqlIterator walks a table page by page
type sqlIterator struct {
	accessor *SQLAccessor
	page     []engine.Record
	pos      int
	lastID   string
	done     bool
	err      error
	current  engine.Record
}

func (it *sqlIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}

	if it.pos >= len(it.page) {
		page, err := it.accessor.queryPage(ctx, it.lastID)
		if err != nil {
			it.err = err
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.page = page
		it.pos = 0
	}

	it.current = it.page[it.pos]
	it.lastID = it.current.ID()
	it.pos++

	// short page means the table is exhausted
	if it.pos >= len(it.page) && len(it.page) < listBatchSize {
		it.done = true
	}
	return true
}

func (it *sqlIterator) Record() engine.Record { return it.current }

func (it *sqlIterator) Err() error { return it.err }

func (it *sqlIterator) Close() error { return nil }
