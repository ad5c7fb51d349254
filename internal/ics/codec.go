// Package ics reads and writes series as iCalendar (RFC 5545) documents.
//
// A series maps onto one VEVENT for the master plus one VEVENT carrying
// RECURRENCE-ID per exception, all sharing the UID.
package ics

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/recur"
)

const productID = "-//evcal//Recurring Series//EN"

const propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")

var ErrDuplicateMaster = errors.New("ics: more than one master event for uid")

// Decode parses a calendar into series. Floating times and dates are read
// in loc. Exceptions without a master are skipped.
func Decode(r io.Reader, loc *time.Location) ([]model.Series, error) {
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	masters := make(map[string]*model.Series)
	var overrides []model.ExceptionEvent
	for _, ve := range cal.Events() {
		core, err := decodeCore(ve, loc)
		if err != nil {
			appLog.Error("ics: skipping event", err)
			continue
		}

		if p := ve.GetProperty(propRecurrenceID); p != nil {
			rid, err := parseTime(p, loc)
			if err != nil {
				appLog.Error("ics: bad recurrence id", err, "uid", core.UID)
				continue
			}
			overrides = append(overrides, model.ExceptionEvent{EventCore: core, RecurrenceID: rid})
			continue
		}

		if _, ok := masters[core.UID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMaster, core.UID)
		}
		m := model.MasterEvent{EventCore: core}
		if m.Rule, err = decodeRule(ve, m.Start.Location(), loc); err != nil {
			return nil, fmt.Errorf("uid %s: %w", core.UID, err)
		}
		masters[core.UID] = &model.Series{Master: m}
	}

	for _, ex := range overrides {
		s, ok := masters[ex.UID]
		if !ok {
			appLog.Error("ics: exception without master", model.ErrOrphanException,
				"uid", ex.UID, "recurrence_id", ex.RecurrenceID.Format(time.RFC3339))
			continue
		}
		s.Exceptions = append(s.Exceptions, ex)
	}

	out := make([]model.Series, 0, len(masters))
	for _, s := range masters {
		slices.SortFunc(s.Exceptions, func(a, b model.ExceptionEvent) int {
			return a.RecurrenceID.Compare(b.RecurrenceID)
		})
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b model.Series) int { return strings.Compare(a.UID(), b.UID()) })

	appLog.Debug("ics: decoded", "series", len(out), "exceptions", len(overrides))
	return out, nil
}

func decodeCore(ve *ical.VEvent, loc *time.Location) (model.EventCore, error) {
	var core model.EventCore

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return core, model.ErrMissingIdentifier
	}
	core.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			core.Sequence = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		core.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		core.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCreated); p != nil {
		core.CreatedAt, _ = parseTime(p, time.UTC)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLastModified); p != nil {
		core.LastModifiedAt, _ = parseTime(p, time.UTC)
	}

	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return core, fmt.Errorf("uid %s: missing DTSTART", core.UID)
	}
	start, err := parseTime(p, loc)
	if err != nil {
		return core, fmt.Errorf("uid %s: %w", core.UID, err)
	}
	core.Start = start
	core.End = start
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if end, err := parseTime(p, loc); err == nil {
			core.End = end
		}
	}
	return core, nil
}

func decodeRule(ve *ical.VEvent, zone, loc *time.Location) (*model.RecurrenceRule, error) {
	p := ve.GetProperty(ical.ComponentPropertyRrule)
	if p == nil || p.Value == "" {
		return nil, nil
	}
	r, err := recur.ParseRule(p.Value, zone)
	if err != nil {
		return nil, err
	}
	for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
		dates, err := parseTimes(ex, loc)
		if err != nil {
			return nil, err
		}
		r.ExcludedDates = append(r.ExcludedDates, dates...)
	}
	return r, nil
}

// Encode writes the series as one VCALENDAR.
func Encode(w io.Writer, list ...model.Series) error {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, s := range list {
		if s.Master.UID == "" {
			return model.ErrMissingIdentifier
		}
		ve := cal.AddEvent(s.Master.UID)
		encodeCore(ve, s.Master.EventCore)
		if s.Master.Repeats() {
			value, err := recur.RuleString(s.Master.Rule, s.Master.Start)
			if err != nil {
				return fmt.Errorf("uid %s: %w", s.Master.UID, err)
			}
			ve.AddRrule(value)
			for _, d := range s.Master.Rule.ExcludedDates {
				value, params := formatTime(d.In(s.Master.Start.Location()))
				ve.AddExdate(value, params...)
			}
		}

		for _, ex := range s.Exceptions {
			xe := cal.AddEvent(s.Master.UID)
			encodeCore(xe, ex.EventCore)
			value, params := formatTime(ex.RecurrenceID)
			xe.SetProperty(propRecurrenceID, value, params...)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func encodeCore(ve *ical.VEvent, core model.EventCore) {
	stamp := core.LastModifiedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	ve.SetDtStampTime(stamp)
	if !core.CreatedAt.IsZero() {
		ve.SetCreatedTime(core.CreatedAt)
	}
	if !core.LastModifiedAt.IsZero() {
		ve.SetModifiedAt(core.LastModifiedAt)
	}
	ve.SetSequence(core.Sequence)

	value, params := formatTime(core.Start)
	ve.SetProperty(ical.ComponentPropertyDtStart, value, params...)
	value, params = formatTime(core.End)
	ve.SetProperty(ical.ComponentPropertyDtEnd, value, params...)

	if core.Summary != "" {
		ve.SetSummary(core.Summary)
	}
	if core.Description != "" {
		ve.SetDescription(core.Description)
	}
}
