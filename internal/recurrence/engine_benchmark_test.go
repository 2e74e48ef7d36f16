package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineUpcoming(b *testing.B) {
	engine := NewEngine(nil)
	rule := Rule{
		Location:  time.FixedZone("IST", 5*60*60+30*60),
		TimeOfDay: TimeOfDay{Hour: 19},
		Weekdays: []time.Weekday{
			time.Monday,
			time.Tuesday,
			time.Wednesday,
			time.Thursday,
			time.Friday,
		},
	}
	from := Date{Year: 2024, Month: time.May, Day: 6}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		occurrences, err := engine.Upcoming(rule, from, 90)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(occurrences) == 0 {
			b.Fatal("expected occurrences to be generated")
		}
	}
}
