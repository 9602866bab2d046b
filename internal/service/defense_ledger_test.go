package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfe-hub/pfe-planner-api/internal/models"
)

func interval(t *testing.T, start, end string) timeInterval {
	t.Helper()
	s, err := parseClock(start)
	require.NoError(t, err)
	e, err := parseClock(end)
	require.NoError(t, err)
	return timeInterval{Start: s, End: e}
}

func TestTimeIntervalOverlaps(t *testing.T) {
	base := interval(t, "08:30", "09:00")

	assert.True(t, base.overlaps(interval(t, "08:45", "09:15")))
	assert.True(t, base.overlaps(interval(t, "08:00", "08:31")))
	assert.True(t, base.overlaps(interval(t, "08:30", "09:00")))
	assert.False(t, base.overlaps(interval(t, "09:00", "09:30")), "back-to-back sessions share an endpoint and do not collide")
	assert.False(t, base.overlaps(interval(t, "08:00", "08:30")))
}

func TestParseClock(t *testing.T) {
	minutes, err := parseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 510, minutes)

	minutes, err = parseClock("15:00")
	require.NoError(t, err)
	assert.Equal(t, 900, minutes)

	_, err = parseClock("830")
	assert.Error(t, err)
	_, err = parseClock("24:00")
	assert.Error(t, err)
	_, err = parseClock("08:60")
	assert.Error(t, err)
}

func TestBuildSlotsDefaultGrid(t *testing.T) {
	start, _ := parseClock("08:30")
	end, _ := parseClock("15:00")

	slots := buildSlots(start, end, 30)
	require.Len(t, slots, 13)
	assert.Equal(t, "08:30", slots[0].startClock())
	assert.Equal(t, "09:00", slots[0].endClock())
	assert.Equal(t, "14:30", slots[12].startClock())
	assert.Equal(t, "15:00", slots[12].endClock())
}

func TestLedgerRoomOccupancy(t *testing.T) {
	ledger := newDefenseLedger()
	ledger.commit(ledgerEntry{
		SessionID: "s1",
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		Interval:  interval(t, "08:30", "09:00"),
		Teachers:  []string{"t1", "t2"},
	})

	assert.False(t, ledger.roomFree("A1", "2026-06-15", interval(t, "08:45", "09:15")))
	assert.True(t, ledger.roomFree("A1", "2026-06-15", interval(t, "09:00", "09:30")))
	assert.True(t, ledger.roomFree("A2", "2026-06-15", interval(t, "08:30", "09:00")))
	assert.True(t, ledger.roomFree("A1", "2026-06-16", interval(t, "08:30", "09:00")))

	conflicts := ledger.roomConflicts("A1", "2026-06-15", interval(t, "08:30", "09:00"))
	require.Len(t, conflicts, 1)
	assert.Equal(t, "s1", conflicts[0].DefenseID)
	assert.Equal(t, "ROOM", conflicts[0].Dimension)
}

func TestLedgerTeacherOccupancy(t *testing.T) {
	ledger := newDefenseLedger()
	ledger.commit(ledgerEntry{
		SessionID: "s1",
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		Interval:  interval(t, "08:30", "09:00"),
		Teachers:  []string{"t1", "t2"},
	})

	assert.False(t, ledger.teacherFree("t1", "2026-06-15", interval(t, "08:45", "09:15")))
	assert.False(t, ledger.teacherFree("t2", "2026-06-15", interval(t, "08:30", "09:00")))
	assert.True(t, ledger.teacherFree("t1", "2026-06-15", interval(t, "09:00", "09:30")))
	assert.True(t, ledger.teacherFree("t3", "2026-06-15", interval(t, "08:30", "09:00")))
}

func TestLedgerTeacherConflictsReportsAllBusyTeachers(t *testing.T) {
	ledger := newDefenseLedger()
	ledger.commit(ledgerEntry{
		SessionID: "s1",
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		Interval:  interval(t, "08:30", "09:00"),
		Teachers:  []string{"t1", "t2"},
	})
	ledger.commit(ledgerEntry{
		SessionID: "s2",
		ProjectID: "p2",
		Room:      "A2",
		Date:      "2026-06-15",
		Interval:  interval(t, "08:30", "09:00"),
		Teachers:  []string{"t3", "t4"},
	})

	busy, conflicts := ledger.teacherConflicts("2026-06-15", interval(t, "08:45", "09:15"), []string{"t1", "t3", "t5"})
	assert.Equal(t, []string{"t1", "t3"}, busy)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "t1", conflicts[0].TeacherID)
	assert.Equal(t, "t3", conflicts[1].TeacherID)
}

func TestLedgerDailyLoad(t *testing.T) {
	ledger := newDefenseLedger()
	for i, slot := range []string{"08:30", "09:00", "09:30"} {
		start, _ := parseClock(slot)
		ledger.commit(ledgerEntry{
			SessionID: string(rune('a' + i)),
			Room:      "A1",
			Date:      "2026-06-15",
			Interval:  timeInterval{Start: start, End: start + 30},
			Teachers:  []string{"t1"},
		})
	}

	assert.Equal(t, 3, ledger.dailyLoad("t1", "2026-06-15"))
	assert.Equal(t, 0, ledger.dailyLoad("t1", "2026-06-16"))
	assert.Equal(t, 0, ledger.dailyLoad("t2", "2026-06-15"))
}

func TestLedgerSeedExcludesSession(t *testing.T) {
	sessions := []models.DefenseSession{
		{
			ID: "s1", ProjectID: "p1", Room: "A1", Date: "2026-06-15",
			StartTime: "08:30", EndTime: "09:00",
			Panel: []models.DefensePanelMember{
				{TeacherID: "t1", Role: models.RoleSupervisor},
				{TeacherID: "t2", Role: models.RoleReviewer},
			},
		},
		{
			ID: "s2", ProjectID: "p2", Room: "A1", Date: "2026-06-15",
			StartTime: "09:00", EndTime: "09:30",
			Panel: []models.DefensePanelMember{
				{TeacherID: "t3", Role: models.RoleSupervisor},
				{TeacherID: "t4", Role: models.RoleReviewer},
			},
		},
	}

	ledger := newDefenseLedger()
	require.NoError(t, ledger.seed(sessions, "s1"))

	assert.True(t, ledger.roomFree("A1", "2026-06-15", interval(t, "08:30", "09:00")), "excluded session is not seeded")
	assert.False(t, ledger.roomFree("A1", "2026-06-15", interval(t, "09:00", "09:30")))
}

func TestLedgerSeedRejectsInvalidTimes(t *testing.T) {
	ledger := newDefenseLedger()
	err := ledger.seed([]models.DefenseSession{
		{ID: "s1", Room: "A1", Date: "2026-06-15", StartTime: "bogus", EndTime: "09:00"},
	}, "")
	assert.Error(t, err)
}
