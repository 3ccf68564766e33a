package domain

import "time"

type (
	Email    = string
	Password = string
	IP       = string

	UserId       = int64
	CollegeId    = int64
	DepartmentId = int64
	ExamId       = int64
	AssignmentId = string
)

// DateLayout is the wire format of exam and availability dates.
const DateLayout = "2006-01-02"

// Day truncates t to a UTC calendar day. All date comparisons go through it.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a DateLayout string into a UTC calendar day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}
