package models

import "time"

// DefenseRole identifies a teacher's function within a defense panel.
type DefenseRole string

const (
	RoleSupervisor DefenseRole = "SUPERVISOR"
	RoleReviewer   DefenseRole = "REVIEWER"
	RolePresident  DefenseRole = "PRESIDENT"
)

// DefenseSession is a scheduled slot in which a project is presented
// to its assigned panel. Date is a calendar day (2006-01-02) and the
// times are naive wall-clock values (15:04); the interval is half-open
// so back-to-back sessions in the same room do not collide.
type DefenseSession struct {
	ID        string               `db:"id" json:"id"`
	ProjectID string               `db:"project_id" json:"project_id"`
	Room      string               `db:"room" json:"room"`
	Date      string               `db:"date" json:"date"`
	StartTime string               `db:"start_time" json:"start_time"`
	EndTime   string               `db:"end_time" json:"end_time"`
	Published bool                 `db:"published" json:"published"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt time.Time            `db:"updated_at" json:"updated_at"`
	Panel     []DefensePanelMember `db:"-" json:"panel,omitempty"`
}

// DefensePanelMember binds a teacher and a role to a defense session.
type DefensePanelMember struct {
	DefenseID string      `db:"defense_id" json:"-"`
	TeacherID string      `db:"teacher_id" json:"teacher_id"`
	Role      DefenseRole `db:"role" json:"role"`
}

// DefenseFilter captures query params for listing defense sessions.
type DefenseFilter struct {
	From      string
	To        string
	Room      string
	ProjectID string
	Published *bool
}

// DefenseConflict describes an existing session that causes a conflict.
type DefenseConflict struct {
	DefenseID string `json:"defense_id"`
	ProjectID string `json:"project_id"`
	Room      string `json:"room"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Dimension string `json:"dimension"`
	TeacherID string `json:"teacher_id,omitempty"`
}

// DefenseConflictError is returned when a proposed session collides with
// committed ones. Teachers lists every conflicting panel member, not
// just the first one found.
type DefenseConflictError struct {
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Teachers []string          `json:"teachers,omitempty"`
	Errors   []DefenseConflict `json:"errors,omitempty"`
}

// Error implements the error interface for conflict errors.
func (e *DefenseConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
