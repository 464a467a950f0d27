package scheduler_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vnykmshr/poolserve/pkg/scheduling/scheduler"
	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
)

// Example schedules a periodic stats report.
func Example() {
	s, err := scheduler.NewWithConfig(scheduler.Config{TickInterval: 5 * time.Millisecond})
	if err != nil {
		log.Fatal(err)
	}

	reported := make(chan struct{}, 1)
	err = s.ScheduleRepeating("stats", 10*time.Millisecond, workerpool.TaskFunc(func(ctx context.Context) error {
		select {
		case reported <- struct{}{}:
		default:
		}
		return nil
	}))
	if err != nil {
		log.Fatal(err)
	}

	if err := s.Start(); err != nil {
		log.Fatal(err)
	}
	<-reported
	<-s.Stop()

	fmt.Println("stats reported")

	// Output: stats reported
}

// ExampleParseCron shows the accepted expression forms.
func ExampleParseCron() {
	from := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, expr := range []string{"0 12 * * *", "*/10 * * * * *", "@every 5m"} {
		schedule, err := scheduler.ParseCron(expr)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(schedule.Next(from).Format(time.TimeOnly))
	}

	// Output:
	// 12:00:00
	// 10:00:10
	// 10:05:00
}
