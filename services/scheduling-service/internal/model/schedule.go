package model

import "time"

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Empty() bool {
	return !i.End.After(i.Start)
}

type BlockType string

const (
	BlockHoliday     BlockType = "holiday"
	BlockVacation    BlockType = "vacation"
	BlockMaintenance BlockType = "maintenance"
	BlockBreak       BlockType = "break"
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockHoliday, BlockVacation, BlockMaintenance, BlockBreak:
		return true
	}
	return false
}

type ScheduleBlock struct {
	ID             string
	CompanyID      string
	ProfessionalID string // empty means company-wide
	Title          string
	StartTime      time.Time
	EndTime        time.Time
	Type           BlockType
	CreatedAt      time.Time
}

func (b ScheduleBlock) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

func (b ScheduleBlock) CompanyWide() bool {
	return b.ProfessionalID == ""
}

// BusinessHour is one weekday row. Times are minutes after local midnight.
type BusinessHour struct {
	CompanyID           string
	Weekday             time.Weekday
	IsOpen              bool
	OpenMinute          int
	CloseMinute         int
	LunchStartMinute    *int
	LunchEndMinute      *int
	SlotDurationMinutes int
	MinAdvanceHours     *int
	MaxAdvanceDays      *int
}
