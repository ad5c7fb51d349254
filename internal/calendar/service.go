// Package calendar ties the series engine to a store: it loads a series,
// applies an edit or delete, and persists the outcome.
package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/rule"
	"evcal/internal/series"
	"evcal/internal/store"
	"evcal/internal/utils"
)

var (
	// ErrBadCalendar marks an import document that could not be decoded.
	ErrBadCalendar = errors.New("malformed calendar")
	// ErrFeed marks a remote calendar that could not be downloaded.
	ErrFeed = errors.New("remote calendar unavailable")
)

type Service interface {
	Create(ctx context.Context, cs model.ChangeSet) (model.Series, error)
	Get(ctx context.Context, uid string) (model.Series, error)
	List(ctx context.Context) ([]model.Series, error)
	Update(ctx context.Context, req UpdateRequest) (UpdateResult, error)
	Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error)
	Occurrences(ctx context.Context, uid string, w Window) ([]model.Occurrence, error)
	Import(ctx context.Context, r io.Reader) (ImportResult, error)
	ImportURL(ctx context.Context, url string) (ImportResult, error)
	Export(ctx context.Context, w io.Writer, uids ...string) error
	Reconcile(ctx context.Context) (ReconcileResult, error)
}

// UpdateRequest edits the series uid. Revision, when non-zero, must match
// the stored revision.
type UpdateRequest struct {
	UID          string
	Revision     int64
	Changes      model.ChangeSet
	Scope        model.Scope
	RecurrenceID *time.Time
}

type UpdateResult struct {
	Series model.Series
	// Split is the series created by a this-and-future edit.
	Split *model.Series
}

type DeleteRequest struct {
	UID          string
	Revision     int64
	Scope        model.Scope
	RecurrenceID *time.Time
}

type DeleteResult struct {
	Deleted bool
	// Series is the surviving series when only some occurrences went.
	Series *model.Series
}

// Window restricts an occurrence listing. Nil bounds are open.
type Window struct {
	After     *time.Time
	Before    *time.Time
	Inclusive bool
}

type ImportResult struct {
	Created  []string `json:"created"`
	Replaced []string `json:"replaced"`
	Failed   []string `json:"failed"`
}

type ReconcileResult struct {
	Scanned   int `json:"scanned"`
	Repaired  int `json:"repaired"`
	Pruned    int `json:"pruned"`
	Conflicts int `json:"conflicts"`
}

type Config struct {
	Store  store.Store
	Engine series.Options
	// Location is used for floating times in imported documents.
	Location *time.Location
	// Fetcher downloads calendars for ImportURL. Optional.
	Fetcher *ics.Fetcher
}

type ServiceImpl struct {
	store   store.Store
	editor  *series.Editor
	deleter *series.Deleter
	query   *series.Query
	clock   utils.Clock
	loc     *time.Location
	fetcher *ics.Fetcher
}

func NewService(cfg Config) *ServiceImpl {
	if cfg.Engine.Clock == nil {
		cfg.Engine.Clock = utils.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ServiceImpl{
		store:   cfg.Store,
		editor:  series.NewEditor(cfg.Engine),
		deleter: series.NewDeleter(cfg.Engine),
		query:   series.NewQuery(cfg.Engine),
		clock:   cfg.Engine.Clock,
		loc:     cfg.Location,
		fetcher: cfg.Fetcher,
	}
}

// Create builds a new series from a normalized change set. start is
// required; uid is generated when absent and end defaults to start.
func (s *ServiceImpl) Create(ctx context.Context, cs model.ChangeSet) (model.Series, error) {
	if err := cs.Validate(); err != nil {
		return model.Series{}, err
	}
	start, ok := cs.Time(model.FieldStart)
	if !ok {
		return model.Series{}, model.NewValidationError(model.ErrInvalidChangeSet, string(model.FieldStart), "start is required")
	}
	end, ok := cs.Time(model.FieldEnd)
	if !ok {
		end = start
	}
	if end.Before(start) {
		return model.Series{}, model.NewValidationError(model.ErrInvalidChangeSet, string(model.FieldEnd), "end is before start")
	}
	uid, _ := cs.String(model.FieldUID)
	if uid == "" {
		uid = uuid.NewString()
	}
	now := s.clock.Now()
	summary, _ := cs.String(model.FieldSummary)
	description, _ := cs.String(model.FieldDescription)

	m := model.MasterEvent{EventCore: model.EventCore{
		UID:            uid,
		CreatedAt:      now,
		LastModifiedAt: now,
		Start:          start,
		End:            end,
		Summary:        summary,
		Description:    description,
	}}
	m.Rule, _ = rule.ProposedRule(cs)
	if err := m.Rule.Validate(); err != nil {
		return model.Series{}, err
	}

	created, err := s.store.Create(ctx, model.Series{Master: m})
	if err != nil {
		return model.Series{}, fmt.Errorf("create series %s: %w", uid, err)
	}
	appLog.Info("series created", "uid", uid, "repeats", m.Repeats())
	return created, nil
}

func (s *ServiceImpl) Get(ctx context.Context, uid string) (model.Series, error) {
	if uid == "" {
		return model.Series{}, model.NewValidationError(model.ErrMissingIdentifier, "uid", "uid is required")
	}
	return s.store.Get(ctx, uid)
}

func (s *ServiceImpl) List(ctx context.Context) ([]model.Series, error) {
	return s.store.List(ctx)
}

func (s *ServiceImpl) Update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	current, err := s.load(ctx, req.UID, req.Revision)
	if err != nil {
		return UpdateResult{}, err
	}

	res, err := s.editor.Update(current, req.Changes, req.Scope, req.RecurrenceID)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update series %s: %w", req.UID, err)
	}

	// Store the split before closing the original; undo it if the close fails.
	var split *model.Series
	if res.Split != nil {
		created, err := s.store.Create(ctx, *res.Split)
		if err != nil {
			return UpdateResult{}, fmt.Errorf("save split of %s: %w", req.UID, err)
		}
		split = &created
	}

	saved, err := s.store.Update(ctx, res.Series)
	if err != nil {
		if split != nil {
			if derr := s.store.Delete(ctx, split.UID(), split.Revision); derr != nil {
				appLog.Error("failed to remove split after save error", derr, "uid", req.UID, "split_uid", split.UID())
			}
		}
		return UpdateResult{}, fmt.Errorf("save series %s: %w", req.UID, err)
	}
	out := UpdateResult{Series: saved, Split: split}

	appLog.Info("series updated",
		"uid", req.UID,
		"scope", req.Scope,
		"revision", saved.Revision,
		"split", out.Split != nil,
		"pruned", res.Pruned,
	)
	return out, nil
}

func (s *ServiceImpl) Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	current, err := s.load(ctx, req.UID, req.Revision)
	if err != nil {
		return DeleteResult{}, err
	}

	res, err := s.deleter.Delete(current, req.Scope, req.RecurrenceID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete from series %s: %w", req.UID, err)
	}

	switch res.Directive {
	case series.DirectiveDelete:
		if err := s.store.Delete(ctx, res.UID, current.Revision); err != nil {
			return DeleteResult{}, fmt.Errorf("delete series %s: %w", req.UID, err)
		}
		appLog.Info("series deleted", "uid", req.UID, "scope", req.Scope)
		return DeleteResult{Deleted: true}, nil
	default:
		saved, err := s.store.Update(ctx, res.Series)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("save series %s: %w", req.UID, err)
		}
		appLog.Info("occurrences deleted", "uid", req.UID, "scope", req.Scope, "revision", saved.Revision)
		return DeleteResult{Series: &saved}, nil
	}
}

func (s *ServiceImpl) Occurrences(ctx context.Context, uid string, w Window) ([]model.Occurrence, error) {
	current, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	switch {
	case w.After != nil && w.Before != nil:
		list := s.query.Between(current, *w.After, *w.Before)
		if w.Inclusive {
			return list, nil
		}
		out := make([]model.Occurrence, 0, len(list))
		for _, o := range list {
			if !o.RecurrenceID.Equal(*w.After) && !o.RecurrenceID.Equal(*w.Before) {
				out = append(out, o)
			}
		}
		return out, nil
	case w.After != nil:
		return s.query.After(current, *w.After, w.Inclusive), nil
	case w.Before != nil:
		return s.query.Before(current, *w.Before, w.Inclusive), nil
	default:
		return s.query.Expand(current), nil
	}
}

// Import stores every series of an iCalendar document. Existing series
// with the same uid are replaced.
func (s *ServiceImpl) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	list, err := ics.Decode(r, s.loc)
	if err != nil {
		return ImportResult{}, fmt.Errorf("import: %w: %w", ErrBadCalendar, err)
	}

	res := ImportResult{Created: []string{}, Replaced: []string{}, Failed: []string{}}
	for _, in := range list {
		in, _ = s.editor.Prune(in)
		uid := in.UID()

		_, err := s.store.Create(ctx, in)
		if err == nil {
			res.Created = append(res.Created, uid)
			continue
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			appLog.Error("import: create failed", err, "uid", uid)
			res.Failed = append(res.Failed, uid)
			continue
		}

		current, err := s.store.Get(ctx, uid)
		if err == nil {
			in.Revision = current.Revision
			_, err = s.store.Update(ctx, in)
		}
		if err != nil {
			appLog.Error("import: replace failed", err, "uid", uid)
			res.Failed = append(res.Failed, uid)
			continue
		}
		res.Replaced = append(res.Replaced, uid)
	}

	appLog.Info("import finished",
		"created", len(res.Created),
		"replaced", len(res.Replaced),
		"failed", len(res.Failed),
	)
	return res, nil
}

// ImportURL downloads a remote calendar and imports it.
func (s *ServiceImpl) ImportURL(ctx context.Context, url string) (ImportResult, error) {
	if s.fetcher == nil {
		return ImportResult{}, fmt.Errorf("import: %w: remote calendars are not enabled", ErrFeed)
	}
	got, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return ImportResult{}, fmt.Errorf("import: %w: %w", ErrFeed, err)
	}
	return s.Import(ctx, bytes.NewReader(got.Body))
}

// Export writes the named series, or all of them, as one calendar.
func (s *ServiceImpl) Export(ctx context.Context, w io.Writer, uids ...string) error {
	var list []model.Series
	if len(uids) == 0 {
		all, err := s.store.List(ctx)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		list = all
	}
	for _, uid := range uids {
		one, err := s.Get(ctx, uid)
		if err != nil {
			return fmt.Errorf("export %s: %w", uid, err)
		}
		list = append(list, one)
	}
	return ics.Encode(w, list...)
}

// Reconcile drops orphaned exceptions from every stored series. Series
// changed concurrently are skipped and picked up by the next run.
func (s *ServiceImpl) Reconcile(ctx context.Context) (ReconcileResult, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}

	var res ReconcileResult
	for _, current := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		pruned, n := s.editor.Prune(current)
		if n == 0 {
			continue
		}
		if _, err := s.store.Update(ctx, pruned); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				res.Conflicts++
				appLog.Debug("reconcile: skipped series", "uid", current.UID(), "err", err)
				continue
			}
			return res, fmt.Errorf("reconcile %s: %w", current.UID(), err)
		}
		res.Repaired++
		res.Pruned += n
	}

	appLog.Info("reconcile finished",
		"scanned", res.Scanned,
		"repaired", res.Repaired,
		"pruned", res.Pruned,
		"conflicts", res.Conflicts,
	)
	return res, nil
}

func (s *ServiceImpl) load(ctx context.Context, uid string, revision int64) (model.Series, error) {
	current, err := s.Get(ctx, uid)
	if err != nil {
		return model.Series{}, err
	}
	if revision != 0 && revision != current.Revision {
		return model.Series{}, fmt.Errorf("%w: %s at revision %d, got %d", store.ErrConflict, uid, current.Revision, revision)
	}
	return current, nil
}
