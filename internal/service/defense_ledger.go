package service

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pfe-hub/pfe-planner-api/internal/models"
)

// timeInterval is a half-open [start,end) wall-clock window expressed in
// minutes from midnight.
type timeInterval struct {
	Start int
	End   int
}

// overlaps reports whether two half-open intervals collide. Back-to-back
// sessions share an endpoint and never conflict.
func (i timeInterval) overlaps(other timeInterval) bool {
	lo := i.Start
	if other.Start > lo {
		lo = other.Start
	}
	hi := i.End
	if other.End < hi {
		hi = other.End
	}
	return lo < hi
}

func (i timeInterval) startClock() string { return formatClock(i.Start) }
func (i timeInterval) endClock() string   { return formatClock(i.End) }

// parseClock converts "08:30" into minutes from midnight.
func parseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock value %q out of range", raw)
	}
	return hours*60 + minutes, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// buildSlots derives the fixed slot grid between start and end. With the
// default 08:30-15:00 window and 30-minute step this yields 13 slots.
func buildSlots(start, end, step int) []timeInterval {
	if step <= 0 {
		return nil
	}
	var slots []timeInterval
	for s := start; s+step <= end; s += step {
		slots = append(slots, timeInterval{Start: s, End: s + step})
	}
	return slots
}

// ledgerEntry is one committed session as tracked by the ledger.
type ledgerEntry struct {
	SessionID string
	ProjectID string
	Room      string
	Date      string
	Interval  timeInterval
	Teachers  []string
}

// defenseLedger tracks committed room and teacher occupancy per date,
// plus a per-(teacher, date) load counter. It is a plain value built
// fresh for each engine invocation; commit is the only mutator and must
// run only after the room and teacher checks pass.
type defenseLedger struct {
	byDate map[string][]ledgerEntry
	load   map[string]int
}

func newDefenseLedger() *defenseLedger {
	return &defenseLedger{
		byDate: make(map[string][]ledgerEntry),
		load:   make(map[string]int),
	}
}

// seed registers already persisted sessions so new commitments are
// checked against them. A session matching excludeID is skipped, which
// lets the update flow ignore the session being edited.
func (l *defenseLedger) seed(sessions []models.DefenseSession, excludeID string) error {
	for _, session := range sessions {
		if excludeID != "" && session.ID == excludeID {
			continue
		}
		start, err := parseClock(session.StartTime)
		if err != nil {
			return err
		}
		end, err := parseClock(session.EndTime)
		if err != nil {
			return err
		}
		teachers := make([]string, 0, len(session.Panel))
		for _, member := range session.Panel {
			teachers = append(teachers, member.TeacherID)
		}
		l.commit(ledgerEntry{
			SessionID: session.ID,
			ProjectID: session.ProjectID,
			Room:      session.Room,
			Date:      session.Date,
			Interval:  timeInterval{Start: start, End: end},
			Teachers:  teachers,
		})
	}
	return nil
}

func (l *defenseLedger) commit(entry ledgerEntry) {
	l.byDate[entry.Date] = append(l.byDate[entry.Date], entry)
	for _, teacher := range entry.Teachers {
		l.load[loadKey(teacher, entry.Date)]++
	}
}

// roomFree reports whether the room has no overlapping session on the date.
func (l *defenseLedger) roomFree(room, date string, interval timeInterval) bool {
	for _, entry := range l.byDate[date] {
		if entry.Room == room && entry.Interval.overlaps(interval) {
			return false
		}
	}
	return true
}

// teacherFree reports whether the teacher, in any role, has no
// overlapping session on the date.
func (l *defenseLedger) teacherFree(teacherID, date string, interval timeInterval) bool {
	for _, entry := range l.byDate[date] {
		if !entry.Interval.overlaps(interval) {
			continue
		}
		for _, teacher := range entry.Teachers {
			if teacher == teacherID {
				return false
			}
		}
	}
	return true
}

// roomConflicts returns every committed session colliding with the
// proposed room booking.
func (l *defenseLedger) roomConflicts(room, date string, interval timeInterval) []models.DefenseConflict {
	var conflicts []models.DefenseConflict
	for _, entry := range l.byDate[date] {
		if entry.Room == room && entry.Interval.overlaps(interval) {
			conflicts = append(conflicts, models.DefenseConflict{
				DefenseID: entry.SessionID,
				ProjectID: entry.ProjectID,
				Room:      entry.Room,
				Date:      entry.Date,
				StartTime: entry.Interval.startClock(),
				EndTime:   entry.Interval.endClock(),
				Dimension: "ROOM",
			})
		}
	}
	return conflicts
}

// teacherConflicts checks every supplied teacher and returns the full
// set of busy ones along with the sessions holding them.
func (l *defenseLedger) teacherConflicts(date string, interval timeInterval, teacherIDs []string) ([]string, []models.DefenseConflict) {
	var busy []string
	var conflicts []models.DefenseConflict
	for _, teacherID := range teacherIDs {
		found := false
		for _, entry := range l.byDate[date] {
			if !entry.Interval.overlaps(interval) {
				continue
			}
			for _, teacher := range entry.Teachers {
				if teacher != teacherID {
					continue
				}
				found = true
				conflicts = append(conflicts, models.DefenseConflict{
					DefenseID: entry.SessionID,
					ProjectID: entry.ProjectID,
					Room:      entry.Room,
					Date:      entry.Date,
					StartTime: entry.Interval.startClock(),
					EndTime:   entry.Interval.endClock(),
					Dimension: "TEACHER",
					TeacherID: teacherID,
				})
			}
		}
		if found {
			busy = append(busy, teacherID)
		}
	}
	return busy, conflicts
}

// dailyLoad returns the number of sessions committed for the teacher on
// the date within this ledger.
func (l *defenseLedger) dailyLoad(teacherID, date string) int {
	return l.load[loadKey(teacherID, date)]
}

func loadKey(teacherID, date string) string {
	return teacherID + "|" + date
}

// ReviewerPicker selects one index out of n eligible reviewers. The
// production picker is uniformly random; tests supply a deterministic
// stub.
type ReviewerPicker interface {
	Pick(n int) int
}

type randReviewerPicker struct {
	rng *rand.Rand
}

// NewRandReviewerPicker returns the default uniformly random picker.
func NewRandReviewerPicker() ReviewerPicker {
	return &randReviewerPicker{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *randReviewerPicker) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	return p.rng.Intn(n)
}
