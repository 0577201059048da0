// Package registry holds the operator's view of submitted batch jobs.
//
// A Registry loads one page of jobs from the remote listing (or every page,
// when scoped to "all"), derives the completed-call columns, and serves a
// sorted, filtered view with an aggregate cost. Sorting and filtering only
// touch the loaded set; there is no cross-page cache.
//
// Loads are last-request-wins. Starting a Load cancels the one in flight, and
// a result that arrives after a newer Load began is dropped with
// errors.ErrSuperseded.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/collate"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/batchapi"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

// DefaultPageSize is the listing page size when none is configured
const DefaultPageSize = 10

// maxPagesAll caps the "all" scope walk
const maxPagesAll = 1000

// Lister fetches one page of the remote job listing
type Lister interface {
	ListJobs(ctx context.Context, page, limit int) (*batchapi.JobPage, error)
}

// Options configures a Registry
type Options struct {
	PageSize int
	Scope    string // am.ScopePage (default) or am.ScopeAll
	Logger   *zap.SugaredLogger
}

// OptionsFromConfig maps the registry config section onto Options
func OptionsFromConfig(cfg am.RegistryConfig) Options {
	return Options{PageSize: cfg.PageSize, Scope: cfg.Scope}
}

// View is a snapshot of the loaded jobs after sort and filter
type View struct {
	Page          int       `json:"page"`
	Limit         int       `json:"limit"`
	TotalJobs     int       `json:"total_jobs"`
	TotalPages    int       `json:"total_pages"`
	Scope         string    `json:"scope"`
	SortField     string    `json:"sort_field,omitempty"`
	SortDirection Direction `json:"sort_direction,omitempty"`
	Loaded        int       `json:"loaded"`
	Jobs          []JobRow  `json:"jobs"`
	AggregateCost float64   `json:"aggregate_cost"`
}

// Registry is safe for concurrent use
type Registry struct {
	lister   Lister
	cost     CostModel
	pageSize int
	scope    string
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	rows     []JobRow
	page     int
	total    int
	pages    int
	field    string
	dir      Direction
	filter   Filter
	collator *collate.Collator
}

// New creates a Registry. The default filter is CompletedOnly.
func New(lister Lister, cost CostModel, opts Options) *Registry {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Scope != am.ScopeAll {
		opts.Scope = am.ScopePage
	}
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("registry")
	}
	return &Registry{
		lister:   lister,
		cost:     cost,
		pageSize: opts.PageSize,
		scope:    opts.Scope,
		logger:   log,
		dir:      Asc,
		filter:   CompletedOnly,
		collator: newCollator(),
	}
}

// Load replaces the loaded set with the given page (or every page in "all"
// scope) and returns the resulting view
func (r *Registry) Load(ctx context.Context, page int) (*View, error) {
	if page < 1 {
		page = 1
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	if r.cancel != nil {
		r.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	rows, meta, err := r.fetch(loadCtx, page)

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq != r.seq {
		r.logger.Debugw("Dropping superseded page load", logger.FieldPage, page, "seq", seq, "current_seq", r.seq)
		return nil, errors.Wrapf(errors.ErrSuperseded, "load of page %d", page)
	}
	r.cancel = nil

	if err != nil {
		return nil, errors.Wrapf(err, "failed to load page %d", page)
	}

	r.rows = rows
	r.page = meta.Page
	r.total = meta.TotalJobs
	r.pages = meta.TotalPages

	r.logger.Debugw("Loaded jobs",
		logger.FieldPage, r.page,
		logger.FieldScope, r.scope,
		logger.FieldCount, len(rows))
	return r.viewLocked(), nil
}

func (r *Registry) fetch(ctx context.Context, page int) ([]JobRow, batchapi.JobPage, error) {
	if r.scope != am.ScopeAll {
		resp, err := r.lister.ListJobs(ctx, page, r.pageSize)
		if err != nil {
			return nil, batchapi.JobPage{}, err
		}
		return r.derive(resp.Jobs, nil), *resp, nil
	}

	var rows []JobRow
	var meta batchapi.JobPage
	for p := 1; p <= maxPagesAll; p++ {
		resp, err := r.lister.ListJobs(ctx, p, r.pageSize)
		if err != nil {
			return nil, batchapi.JobPage{}, errors.Wrapf(err, "walking page %d", p)
		}
		rows = r.derive(resp.Jobs, rows)
		meta = *resp
		if p >= resp.TotalPages || len(resp.Jobs) == 0 {
			break
		}
	}
	meta.Page = 1
	return rows, meta, nil
}

func (r *Registry) derive(jobs []batchapi.BatchJob, into []JobRow) []JobRow {
	if into == nil {
		into = make([]JobRow, 0, len(jobs))
	}
	for _, j := range jobs {
		into = append(into, NewJobRow(j, r.cost))
	}
	return into
}

// SetSort orders the loaded set by field and direction
func (r *Registry) SetSort(field string, dir Direction) error {
	if field != "" && !IsField(field) {
		return errors.NewValidationError("unknown sort field %q", field)
	}
	if dir != Asc && dir != Desc {
		return errors.NewValidationError("unknown sort direction %q", dir)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.field = field
	r.dir = dir
	return nil
}

// ToggleSort flips the direction when field is already the sort key,
// otherwise sorts ascending by field
func (r *Registry) ToggleSort(field string) error {
	if !IsField(field) {
		return errors.NewValidationError("unknown sort field %q", field)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.field == field {
		r.dir = r.dir.Flip()
	} else {
		r.field = field
		r.dir = Asc
	}
	return nil
}

// Sort returns the current sort key and direction
func (r *Registry) Sort() (string, Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.field, r.dir
}

// SetFilter replaces the row filter; nil selects every row
func (r *Registry) SetFilter(f Filter) {
	if f == nil {
		f = AllJobs
	}
	r.mu.Lock()
	r.filter = f
	r.mu.Unlock()
}

// View returns the sorted, filtered loaded set
func (r *Registry) View() *View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Rows returns the sorted, filtered loaded rows
func (r *Registry) Rows() []JobRow {
	return r.View().Jobs
}

// AggregateCost sums the completed-call cost over the filtered loaded set
func (r *Registry) AggregateCost() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, row := range r.rows {
		if r.filter(row) {
			sum += row.CostOfCompletedCalls
		}
	}
	return sum
}

func (r *Registry) viewLocked() *View {
	rows := make([]JobRow, len(r.rows))
	copy(rows, r.rows)
	sortRows(rows, r.field, r.dir, r.collator)

	kept := rows[:0]
	var sum float64
	for _, row := range rows {
		if r.filter(row) {
			kept = append(kept, row)
			sum += row.CostOfCompletedCalls
		}
	}

	v := &View{
		Page:          r.page,
		Limit:         r.pageSize,
		TotalJobs:     r.total,
		TotalPages:    r.pages,
		Scope:         r.scope,
		Loaded:        len(r.rows),
		Jobs:          kept,
		AggregateCost: sum,
	}
	if r.field != "" {
		v.SortField = r.field
		v.SortDirection = r.dir
	}
	return v
}
