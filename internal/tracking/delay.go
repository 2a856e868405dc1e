package tracking

import (
	"time"

	"campusbus/internal/domain"
)

const (
	ReasonVehicleStopped = "vehicle stopped"
	ReasonLateArrival    = "late arrival"
	ReasonBehindSchedule = "behind schedule"
	ReasonScheduleMissed = "schedule missed"
	ReasonOnTime         = "on time"
	ReasonAheadSchedule  = "ahead of schedule"
)

// DelayInput gathers what the classifier looks at
type DelayInput struct {
	Waypoints []domain.Waypoint
	ETAs      []domain.EtaEntry
	// Sample is the last position report, nil when none was received
	Sample *domain.PositionSample
	// Arrivals maps waypoint index to the recorded arrival time
	Arrivals map[int]time.Time
	// Scheduled resolves the schedule of waypoint i in minutes since
	// midnight. Nil falls back to the waypoint's own scheduled time.
	Scheduled func(i int) (int, bool)
	Now       time.Time
	// ServiceDay is the day schedules are counted from. Zero means the day
	// of the earliest arrival, or of Now when nothing was reached yet.
	ServiceDay time.Time
}

// ClassifyDelay reports at most one delay cause per call and looks no
// further than the first waypoint without a recorded arrival.
func ClassifyDelay(in DelayInput, opts Options) domain.DelayVerdict {
	if len(in.Waypoints) == 0 {
		return onTime(nil)
	}
	opts = opts.withDefaults()

	scheduled := in.Scheduled
	if scheduled == nil {
		scheduled = func(i int) (int, bool) {
			return in.Waypoints[i].ScheduledMinutes()
		}
	}

	next := firstUnvisited(len(in.Waypoints), in.Arrivals)

	if in.Sample != nil && in.Sample.SpeedKmh == 0 && !in.Sample.Timestamp.IsZero() {
		elapsed := in.Now.Sub(in.Sample.Timestamp)
		if elapsed > opts.StoppedAfter {
			return delayed(ReasonVehicleStopped, int(elapsed/time.Minute), next)
		}
	}

	day := in.ServiceDay
	if day.IsZero() {
		day = ServiceDayOf(domain.TripState{Arrivals: in.Arrivals}, in.Now, opts.Location)
	} else {
		day = ServiceDayStart(day, opts.Location)
	}
	nowMinutes := MinutesIntoServiceDay(day, in.Now)

	for i := range in.Waypoints {
		if arrivedAt, ok := in.Arrivals[i]; ok {
			sched, hasSched := scheduled(i)
			if !hasSched {
				continue
			}
			actual := MinutesIntoServiceDay(day, arrivedAt)
			if actual > sched {
				return delayed(ReasonLateArrival, actual-sched, &i)
			}
			continue
		}

		sched, hasSched := scheduled(i)
		if !hasSched {
			break
		}
		eta, hasETA := findETA(in.ETAs, i)
		var etaMinutes int
		if hasETA {
			etaMinutes = MinutesIntoServiceDay(day, eta.EstimatedArrival)
			if etaMinutes > sched {
				return delayed(ReasonBehindSchedule, etaMinutes-sched, &i)
			}
		}
		if nowMinutes > sched {
			return delayed(ReasonScheduleMissed, nowMinutes-sched, &i)
		}
		if hasETA && sched-etaMinutes >= opts.EarlyThresholdMinutes {
			// negative magnitude: minutes ahead of schedule
			v := onTime(&i)
			v.Status = domain.StatusEarly
			v.Reason = ReasonAheadSchedule
			v.DelayMinutes = etaMinutes - sched
			return v
		}
		return onTime(&i)
	}

	return onTime(next)
}

func firstUnvisited(n int, arrivals map[int]time.Time) *int {
	for i := 0; i < n; i++ {
		if _, ok := arrivals[i]; !ok {
			idx := i
			return &idx
		}
	}
	return nil
}

func delayed(reason string, minutes int, waypoint *int) domain.DelayVerdict {
	return domain.DelayVerdict{
		IsDelayed:        true,
		Status:           domain.StatusDelayed,
		DelayMinutes:     minutes,
		Reason:           reason,
		AffectedWaypoint: copyIndex(waypoint),
	}
}

func onTime(waypoint *int) domain.DelayVerdict {
	return domain.DelayVerdict{
		Status:           domain.StatusOnTime,
		Reason:           ReasonOnTime,
		AffectedWaypoint: copyIndex(waypoint),
	}
}

func copyIndex(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
