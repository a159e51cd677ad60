package gradescope

import (
	"maps"
	"time"
)

// Course is an immutable snapshot of one grading-site course at fetch time.
type Course struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Term     string `json:"term,omitempty"`
	Year     string `json:"year,omitempty"`
}

// CourseGroups holds the account's courses split by role, keyed by course id.
type CourseGroups struct {
	Student    map[string]Course `json:"student"`
	Instructor map[string]Course `json:"instructor"`
}

// clone returns a grouping whose maps are independent of the receiver's, so
// a cached grouping survives caller mutation.
func (g CourseGroups) clone() CourseGroups {
	g.Student = maps.Clone(g.Student)
	g.Instructor = maps.Clone(g.Instructor)
	return g
}

// Assignment is the uniform record produced by both the instructor-view and
// student-view parse paths. Dates and grades are nullable because the two
// views expose different subsets.
type Assignment struct {
	ID               string     `json:"id,omitempty"`
	Name             string     `json:"name"`
	ReleaseDate      *time.Time `json:"release_date,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	LateDueDate      *time.Time `json:"late_due_date,omitempty"`
	SubmissionStatus string     `json:"submission_status,omitempty"`
	Grade            *float64   `json:"grade,omitempty"`
	MaxGrade         *float64   `json:"max_grade,omitempty"`
}

// Submission is one row of an assignment's instructor grade roster.
type Submission struct {
	SubmissionID string   `json:"submission_id,omitempty"`
	StudentName  string   `json:"student_name"`
	StudentEmail string   `json:"student_email,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	MaxScore     *float64 `json:"max_score,omitempty"`
}
