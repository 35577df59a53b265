package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/opsdeck/logger"
)

// Trigger is a schedule placed on the clock
type Trigger struct {
	ScheduleID int64
	JobID      string
	Type       Type
	Interval   time.Duration // interval triggers
	Next       time.Time

	daily cron.Schedule
	loc   *time.Location
}

// NewDailyTrigger creates a trigger firing at value every day in loc.
func NewDailyTrigger(scheduleID int64, value string, now time.Time, loc *time.Location) (*Trigger, error) {
	spec, err := DailySpec(value)
	if err != nil {
		return nil, err
	}
	return &Trigger{
		ScheduleID: scheduleID,
		JobID:      uuid.NewString(),
		Type:       TypeDaily,
		Next:       spec.Next(now.In(loc)),
		daily:      spec,
		loc:        loc,
	}, nil
}

// NewIntervalTrigger creates a trigger firing every interval starting at next.
func NewIntervalTrigger(scheduleID int64, interval time.Duration, next time.Time) *Trigger {
	return &Trigger{
		ScheduleID: scheduleID,
		JobID:      uuid.NewString(),
		Type:       TypeInterval,
		Interval:   interval,
		Next:       next,
	}
}

// advance moves Next past now
func (t *Trigger) advance(now time.Time) {
	switch t.Type {
	case TypeDaily:
		t.Next = t.daily.Next(now.In(t.loc))
	case TypeInterval:
		for !t.Next.After(now) {
			t.Next = t.Next.Add(t.Interval)
		}
	}
}

// FireFunc is called with a copy of every trigger that comes due
type FireFunc func(ctx context.Context, t Trigger)

// Clock owns every live trigger and fires the due ones on each tick
type Clock struct {
	// Now is the time source used by the ticker loop
	Now func() time.Time

	interval time.Duration
	fire     FireFunc
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	triggers map[int64]*Trigger

	ctx     context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	firesWG sync.WaitGroup
}

// NewClock creates a stopped clock. Fired triggers are dispatched to fire
// on their own goroutine.
func NewClock(interval time.Duration, fire FireFunc, log *zap.SugaredLogger) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Clock{
		Now:      time.Now,
		interval: interval,
		fire:     fire,
		logger:   logger.AddPulseSymbol(log.With(logger.FieldComponent, "clock")),
		triggers: make(map[int64]*Trigger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register places t on the clock, replacing any trigger of the same schedule.
func (c *Clock) Register(t *Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers[t.ScheduleID] = t
}

// Unregister removes the trigger of a schedule, reporting whether one existed.
func (c *Clock) Unregister(scheduleID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.triggers[scheduleID]
	delete(c.triggers, scheduleID)
	return ok
}

// Lookup returns a copy of the trigger of a schedule
func (c *Clock) Lookup(scheduleID int64) (Trigger, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.triggers[scheduleID]
	if !ok {
		return Trigger{}, false
	}
	return *t, true
}

// Triggers returns copies of every live trigger ordered by next fire time
func (c *Clock) Triggers() []Trigger {
	c.mu.Lock()
	out := make([]Trigger, 0, len(c.triggers))
	for _, t := range c.triggers {
		out = append(out, *t)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Tick fires every trigger due at now and advances it. It returns the
// number of triggers fired.
func (c *Clock) Tick(now time.Time) int {
	c.mu.Lock()
	var due []Trigger
	for _, t := range c.triggers {
		if t.Next.After(now) {
			continue
		}
		due = append(due, *t)
		t.advance(now)
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ScheduleID < due[j].ScheduleID })
	for _, t := range due {
		c.logger.Infow("Schedule fired",
			logger.FieldScheduleID, t.ScheduleID,
			logger.FieldJobID, t.JobID)

		c.firesWG.Add(1)
		go func(t Trigger) {
			defer c.firesWG.Done()
			c.fire(c.ctx, t)
		}(t)
	}
	return len(due)
}

// Start runs the ticker loop until Stop
func (c *Clock) Start() {
	c.loopWG.Add(1)
	go c.run()
	c.logger.Infow("Scheduler clock started", logger.FieldInterval, c.interval)
}

// Stop halts the ticker and waits for dispatched fires to return
func (c *Clock) Stop() {
	c.cancel()
	c.loopWG.Wait()
	c.firesWG.Wait()
	c.logger.Infow("Scheduler clock stopped")
}

func (c *Clock) run() {
	defer c.loopWG.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Tick(c.Now())
		}
	}
}
