package reminder

import "github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"

// Stage is a reminder step of the yearly cycle.
type Stage int

const (
	StageNone Stage = iota
	Stage7Days
	Stage3Days
	Stage1Day
)

func (s Stage) String() string {
	switch s {
	case Stage7Days:
		return "7d"
	case Stage3Days:
		return "3d"
	case Stage1Day:
		return "1d"
	}
	return "none"
}

// NextStatus is the event status written after the stage's reminder was sent.
func (s Stage) NextStatus() models.EventStatus {
	switch s {
	case Stage7Days:
		return models.EventStatusReminded7d
	case Stage3Days:
		return models.EventStatusReminded3d
	case Stage1Day:
		return models.EventStatusReminded1d
	}
	return ""
}

// dispatchStatuses are the statuses that can still match a stage. Preordered
// events only get the 1 day pickup reminder.
var dispatchStatuses = []models.EventStatus{
	models.EventStatusActive, models.EventStatusReminded7d, models.EventStatusReminded3d,
	models.EventStatusPreordered,
}

// rolloverStatuses are reset to active once the event date has passed.
var rolloverStatuses = []models.EventStatus{
	models.EventStatusReminded7d, models.EventStatusReminded3d,
	models.EventStatusReminded1d, models.EventStatusPreordered,
}

func statusIn(s models.EventStatus, set ...models.EventStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// MatchStage returns the first stage whose rule matches, in 7d, 3d, 1d order.
// With strict set, the 3 and 1 day stages require the 7 day reminder to have
// gone out; otherwise an active event may enter any stage directly. Preordered
// events match only the 1 day stage.
func MatchStage(status models.EventStatus, date models.DayMonth, t Targets, strict bool) Stage {
	const (
		active = models.EventStatusActive
		r7     = models.EventStatusReminded7d
		r3     = models.EventStatusReminded3d
		pre    = models.EventStatusPreordered
	)
	if status == active && occursOn(date, t.Day7) {
		return Stage7Days
	}
	if occursOn(date, t.Day3) {
		if statusIn(status, r7) || (!strict && status == active) {
			return Stage3Days
		}
	}
	if occursOn(date, t.Day1) {
		if statusIn(status, r7, r3, pre) || (!strict && status == active) {
			return Stage1Day
		}
	}
	return StageNone
}
