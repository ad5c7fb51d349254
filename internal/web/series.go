package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"evcal/internal/calendar"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/rule"
)

// GET /api/series
func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]seriesDTO, 0, len(list))
	for _, one := range list {
		out = append(out, seriesToDTO(one))
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/series
//
// The body is a flat change set: {"summary": "...", "start": "...",
// "freq": "WEEKLY", "byday": ["MO", "WE"]}.
func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cs, err := rule.NormalizeChangeSet(raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	created, err := s.svc.Create(r.Context(), cs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	setRevision(w, created.Revision)
	w.Header().Set("Location", "/api/series/"+created.UID())
	writeJSON(w, http.StatusCreated, seriesToDTO(created))
}

// GET /api/series/{uid}
func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	got, err := s.svc.Get(r.Context(), mux.Vars(r)["uid"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	setRevision(w, got.Revision)
	writeJSON(w, http.StatusOK, seriesToDTO(got))
}

// PATCH /api/series/{uid}
//
// {"scope": "thisAndFuture", "recurrence_id": "...", "revision": 3,
// "changes": {"summary": "..."}}. An empty scope means "all".
func (s *Server) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	var body updateBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	scope, err := parseScope(body.Scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rid, err := parseRecurrenceID(body.RecurrenceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	revision := body.Revision
	if revision == 0 {
		if revision, err = revisionParam(r); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	cs, err := rule.NormalizeChangeSet(body.Changes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Update(r.Context(), calendar.UpdateRequest{
		UID:          mux.Vars(r)["uid"],
		Revision:     revision,
		Changes:      cs,
		Scope:        scope,
		RecurrenceID: rid,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := updateResponse{Series: seriesToDTO(res.Series)}
	if res.Split != nil {
		split := seriesToDTO(*res.Split)
		resp.Split = &split
	}
	setRevision(w, res.Series.Revision)
	writeJSON(w, http.StatusOK, resp)
}

// DELETE /api/series/{uid}?scope=&recurrence_id=&revision=
//
// Responds 204 when the whole series went away, otherwise 200 with the
// surviving series.
func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := parseScope(q.Get("scope"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rid, err := parseTimeParam("recurrence_id", q.Get("recurrence_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	revision, err := revisionParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Delete(r.Context(), calendar.DeleteRequest{
		UID:          mux.Vars(r)["uid"],
		Revision:     revision,
		Scope:        scope,
		RecurrenceID: rid,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Deleted || res.Series == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	setRevision(w, res.Series.Revision)
	writeJSON(w, http.StatusOK, seriesToDTO(*res.Series))
}

// GET /api/series/{uid}/occurrences?after=&before=&inclusive=
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := parseTimeParam("after", q.Get("after"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	before, err := parseTimeParam("before", q.Get("before"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	list, err := s.svc.Occurrences(r.Context(), mux.Vars(r)["uid"], calendar.Window{
		After:     after,
		Before:    before,
		Inclusive: parseBoolDefault(q.Get("inclusive"), false),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occurrencesToDTO(list))
}

// GET /api/series/{uid}/ics and GET /api/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var uids []string
	if uid, ok := mux.Vars(r)["uid"]; ok {
		uids = append(uids, uid)
	}

	var buf bytes.Buffer
	if err := s.svc.Export(r.Context(), &buf, uids...); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		appLog.Error("failed to write calendar response", err)
	}
}

// POST /api/import
//
// Either a text/calendar body or ?url= naming a remote calendar.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var (
		res calendar.ImportResult
		err error
	)
	if url := r.URL.Query().Get("url"); url != "" {
		res, err = s.svc.ImportURL(r.Context(), url)
	} else {
		res, err = s.svc.Import(r.Context(), io.LimitReader(r.Body, maxBodyBytes))
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeJSON decodes a bounded body, keeping numbers as json.Number so
// that change-set normalization sees exact integers.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func parseScope(raw string) (model.Scope, error) {
	if raw == "" {
		return model.ScopeAll, nil
	}
	return model.ParseScope(raw)
}

func parseRecurrenceID(raw any) (*time.Time, error) {
	v, err := rule.Normalize(model.FieldStart, raw)
	if err != nil {
		return nil, model.NewValidationError(model.ErrInvalidChangeSet, "recurrence_id", "unrecognized date-time")
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func parseTimeParam(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := rule.Normalize(model.FieldStart, raw)
	if err != nil {
		return nil, model.NewValidationError(model.ErrInvalidChangeSet, name, "unrecognized date-time")
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func setRevision(w http.ResponseWriter, rev int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(rev, 10)))
}
