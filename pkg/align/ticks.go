package align

import "time"

// TickLabels returns one axis caption per label. A label gets an "HH:MM"
// caption (UTC) when its minute of the day is a multiple of every, and an
// empty caption otherwise. A non-positive interval captions every label.
func TickLabels(labels []time.Time, every time.Duration) []string {
	ticks := make([]string, len(labels))
	step := int(every / time.Minute)

	for i, label := range labels {
		l := label.UTC()
		if step > 0 && (l.Hour()*60+l.Minute())%step != 0 {
			continue
		}
		ticks[i] = l.Format("15:04")
	}
	return ticks
}
