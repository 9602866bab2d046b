package models

import (
	"time"

	"github.com/lib/pq"
)

// OptionTrack is one of the two mutually exclusive specialization options.
type OptionTrack string

const (
	TrackA OptionTrack = "A"
	TrackB OptionTrack = "B"
)

// Other returns the alternate track.
func (t OptionTrack) Other() OptionTrack {
	if t == TrackA {
		return TrackB
	}
	return TrackA
}

// OptionCandidate carries the grade inputs used to rank a student for
// option assignment. Stratum is the integration-year category (1 or 2);
// stratum-2 candidates are ranked by GlobalScore verbatim.
type OptionCandidate struct {
	StudentID      string      `db:"student_id" json:"student_id"`
	FullName       string      `db:"full_name" json:"full_name"`
	Preference     OptionTrack `db:"preference" json:"preference"`
	Stratum        int         `db:"stratum" json:"stratum"`
	GeneralAverage float64     `db:"general_average" json:"general_average"`
	WebGrade       float64     `db:"web_grade" json:"web_grade"`
	AlgoGrade      float64     `db:"algo_grade" json:"algo_grade"`
	OOPGrade       float64     `db:"oop_grade" json:"oop_grade"`
	GlobalScore    float64     `db:"global_score" json:"global_score"`
	Repeater       bool        `db:"repeater" json:"repeater"`
}

// OptionAssignment records the final track computed for a candidate.
type OptionAssignment struct {
	ID         string      `db:"id" json:"id"`
	StudentID  string      `db:"student_id" json:"student_id"`
	Track      OptionTrack `db:"track" json:"track"`
	Preference OptionTrack `db:"preference" json:"preference"`
	Stratum    int         `db:"stratum" json:"stratum"`
	Score      float64     `db:"score" json:"score"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// OptionCapacity is the persisted capacity record for one track.
type OptionCapacity struct {
	ID          string         `db:"id" json:"id"`
	Track       OptionTrack    `db:"track" json:"track"`
	Capacity    int            `db:"capacity" json:"capacity"`
	AssignedIDs pq.StringArray `db:"assigned_ids" json:"assigned_ids"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
