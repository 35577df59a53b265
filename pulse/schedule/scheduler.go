package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/runner"
)

// Starter launches an execution
type Starter interface {
	Start(ctx context.Context, req runner.Request) (int64, error)
}

// Config controls the clock
type Config struct {
	TickInterval time.Duration
	Location     *time.Location // daily slots are read in this zone
}

// ConfigFromAM extracts scheduler settings from the loaded configuration
func ConfigFromAM(cfg *am.Config) (Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Config{}, err
	}
	return Config{TickInterval: cfg.TickInterval(), Location: loc}, nil
}

// Dependencies are the collaborators a Scheduler needs
type Dependencies struct {
	Store    *Store
	Scripts  catalog.ScriptLookup
	Profiles catalog.ProfileLookup
	Starter  Starter
	Logger   *zap.SugaredLogger
}

// Scheduler owns schedule definitions and fires them into the runner
type Scheduler struct {
	store    *Store
	scripts  catalog.ScriptLookup
	profiles catalog.ProfileLookup
	starter  Starter
	clock    *Clock
	loc      *time.Location
	logger   *zap.SugaredLogger
	openLog  *zap.SugaredLogger
	now      func() time.Time
}

// New creates a scheduler with a stopped clock
func New(cfg Config, deps Dependencies) *Scheduler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		store:    deps.Store,
		scripts:  deps.Scripts,
		profiles: deps.Profiles,
		starter:  deps.Starter,
		loc:      loc,
		logger:   logger.AddPulseSymbol(log.With(logger.FieldComponent, "scheduler")),
		openLog:  logger.AddPulseOpenSymbol(log.With(logger.FieldComponent, "scheduler")),
		now:      time.Now,
	}
	s.clock = NewClock(cfg.TickInterval, s.fire, log)
	return s
}

// SetClock replaces the time source of the scheduler and its clock
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
	s.clock.Now = now
}

// Clock exposes the trigger clock
func (s *Scheduler) Clock() *Clock {
	return s.clock
}

// Start restores enabled schedules and starts the clock
func (s *Scheduler) Start(ctx context.Context) (int, error) {
	n, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.clock.Start()
	return n, nil
}

// Stop halts the clock
func (s *Scheduler) Stop() {
	s.clock.Stop()
}

// Create validates and stores a new enabled schedule and places it on the clock.
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*Details, error) {
	if _, err := s.scripts.Get(ctx, req.ScriptID); err != nil {
		return nil, lookupError(err, "Script not found")
	}
	if _, err := s.profiles.Get(ctx, req.ProfileID); err != nil {
		return nil, lookupError(err, "AWS profile not found")
	}
	if !req.Type.Valid() {
		return nil, errors.NewInvalidRequestError(msgInvalidType)
	}
	if err := ValidateValue(req.Type, req.Value); err != nil {
		return nil, err
	}

	now := s.now()
	next, err := InitialNextRun(req.Type, req.Value, now, s.loc)
	if err != nil {
		return nil, err
	}

	sc := &Schedule{
		ScriptID:   req.ScriptID,
		ProfileID:  req.ProfileID,
		Type:       req.Type,
		Value:      req.Value,
		Enabled:    true,
		Parameters: req.Parameters,
		NextRun:    &next,
		CreatedAt:  now,
	}
	if req.UserID != 0 {
		uid := req.UserID
		sc.UserID = &uid
	}
	if err := s.store.Insert(ctx, sc); err != nil {
		return nil, err
	}

	if err := s.register(ctx, sc, now); err != nil {
		return nil, err
	}
	s.logger.Infow("Schedule created",
		logger.FieldScheduleID, sc.ID,
		logger.FieldScriptID, sc.ScriptID,
		"type", sc.Type,
		"value", sc.Value)

	return s.store.GetWithDetails(ctx, sc.ID)
}

// Update changes a schedule. A changed type or value resets the interval
// phase to now; other changes keep it. Disabling removes the trigger but
// keeps the row.
func (s *Scheduler) Update(ctx context.Context, id int64, req UpdateRequest) (*Details, error) {
	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.empty() {
		return nil, errors.NewInvalidRequestError(msgNoFields)
	}

	recurrenceChanged := false
	if req.Type != nil {
		if !req.Type.Valid() {
			return nil, errors.NewInvalidRequestError(msgInvalidType)
		}
		recurrenceChanged = recurrenceChanged || *req.Type != sc.Type
		sc.Type = *req.Type
	}
	if req.Value != nil {
		recurrenceChanged = recurrenceChanged || *req.Value != sc.Value
		sc.Value = *req.Value
	}
	if req.Type != nil || req.Value != nil {
		if err := ValidateValue(sc.Type, sc.Value); err != nil {
			return nil, err
		}
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}
	if req.ProfileID != nil {
		if _, err := s.profiles.Get(ctx, *req.ProfileID); err != nil {
			return nil, lookupError(err, "AWS profile not found")
		}
		sc.ProfileID = *req.ProfileID
	}
	if req.Parameters != nil {
		sc.Parameters = req.Parameters
	}

	now := s.now()
	if recurrenceChanged {
		s.logger.Infow("Schedule recurrence changed, resetting phase",
			logger.FieldScheduleID, id,
			"type", sc.Type,
			"value", sc.Value)
		sc.Anchor = &now
	}
	if req.Type != nil || req.Value != nil {
		next, err := InitialNextRun(sc.Type, sc.Value, now, s.loc)
		if err != nil {
			return nil, err
		}
		sc.NextRun = &next
	}

	if err := s.store.Save(ctx, sc); err != nil {
		return nil, err
	}

	if !sc.Enabled {
		s.clock.Unregister(id)
		s.logger.Infow("Schedule disabled", logger.FieldScheduleID, id)
	} else if err := s.register(ctx, sc, now); err != nil {
		return nil, err
	}

	return s.store.GetWithDetails(ctx, id)
}

// Delete removes the trigger and then the row
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	s.clock.Unregister(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("Schedule deleted", logger.FieldScheduleID, id)
	return nil
}

// RunNow starts an execution of the schedule's script immediately. The
// execution is not flagged as scheduled and does not move the schedule.
func (s *Scheduler) RunNow(ctx context.Context, id int64) (int64, error) {
	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.starter.Start(ctx, s.request(sc, false))
}

// Get returns one schedule with names
func (s *Scheduler) Get(ctx context.Context, id int64) (*Details, error) {
	return s.store.GetWithDetails(ctx, id)
}

// List returns schedules with names, newest first
func (s *Scheduler) List(ctx context.Context, includeDisabled bool) ([]*Details, error) {
	return s.store.List(ctx, includeDisabled)
}

// Load places every enabled schedule on the clock. A schedule that cannot
// be registered is logged and skipped.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	schedules, err := s.store.ListEnabled(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	restored := 0
	for _, sc := range schedules {
		if err := s.register(ctx, sc, now); err != nil {
			s.logger.Errorw("Failed to restore schedule",
				logger.FieldScheduleID, sc.ID,
				logger.FieldError, err)
			continue
		}
		restored++
	}

	s.openLog.Infow("Schedules restored",
		logger.FieldCount, restored,
		"total", len(schedules))
	return restored, nil
}

// Sync reconciles the clock with rows written by another process. An
// enabled row whose job_id differs from the live trigger was registered
// elsewhere and is registered again here; triggers without an enabled row
// are removed.
func (s *Scheduler) Sync(ctx context.Context) (registered, removed int, err error) {
	schedules, err := s.store.ListEnabled(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := s.now()
	enabled := make(map[int64]bool, len(schedules))
	for _, sc := range schedules {
		enabled[sc.ID] = true
		if t, ok := s.clock.Lookup(sc.ID); ok && t.JobID == sc.JobID {
			continue
		}
		if err := s.register(ctx, sc, now); err != nil {
			s.logger.Errorw("Failed to sync schedule",
				logger.FieldScheduleID, sc.ID,
				logger.FieldError, err)
			continue
		}
		registered++
	}

	for _, t := range s.clock.Triggers() {
		if !enabled[t.ScheduleID] && s.clock.Unregister(t.ScheduleID) {
			removed++
		}
	}

	if registered > 0 || removed > 0 {
		s.logger.Infow("Schedules synced", "registered", registered, "removed", removed)
	}
	return registered, removed, nil
}

// OnScheduledRunSuccess stamps last_run and copies the live trigger's next
// fire time into next_run.
func (s *Scheduler) OnScheduledRunSuccess(ctx context.Context, scheduleID int64) error {
	var next *time.Time
	if t, ok := s.clock.Lookup(scheduleID); ok {
		next = &t.Next
	}
	if err := s.store.RecordRun(ctx, scheduleID, s.now(), next); err != nil {
		return err
	}
	s.logger.Infow("Schedule run recorded",
		logger.FieldScheduleID, scheduleID,
		logger.FieldNextRun, next)
	return nil
}

// register builds the trigger for sc, replaces any live one and persists
// job_id, next_run and a derived anchor.
func (s *Scheduler) register(ctx context.Context, sc *Schedule, now time.Time) error {
	var (
		trigger *Trigger
		anchor  *time.Time
	)

	switch sc.Type {
	case TypeDaily:
		t, err := NewDailyTrigger(sc.ID, sc.Value, now, s.loc)
		if err != nil {
			return err
		}
		trigger = t
	case TypeInterval:
		interval := sc.Interval()
		if interval <= 0 {
			return errors.NewInvalidRequestError(msgInvalidInterval)
		}
		plan := NextInterval(now, interval, sc.Anchor, sc.NextRun)
		if plan.AnchorDerived {
			anchor = &plan.Anchor
			sc.Anchor = anchor
		}
		trigger = NewIntervalTrigger(sc.ID, interval, plan.Next)
	default:
		return errors.NewInvalidRequestError(msgInvalidType)
	}

	s.clock.Register(trigger)
	if err := s.store.SetTrigger(ctx, sc.ID, trigger.JobID, trigger.Next, anchor); err != nil {
		return err
	}
	sc.JobID = trigger.JobID
	sc.NextRun = &trigger.Next

	s.logger.Infow("Schedule registered",
		logger.FieldScheduleID, sc.ID,
		logger.FieldJobID, trigger.JobID,
		logger.FieldNextRun, trigger.Next)
	return nil
}

// fire is the clock callback. The row is re-read so edits to profile or
// parameters apply to the next run.
func (s *Scheduler) fire(ctx context.Context, t Trigger) {
	sc, err := s.store.Get(ctx, t.ScheduleID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			s.clock.Unregister(t.ScheduleID)
		}
		s.logger.Warnw("Skipping fire of unavailable schedule",
			logger.FieldScheduleID, t.ScheduleID,
			logger.FieldError, err)
		return
	}
	if !sc.Enabled {
		s.clock.Unregister(t.ScheduleID)
		return
	}

	id, err := s.starter.Start(ctx, s.request(sc, true))
	if err != nil {
		s.logger.Errorw("Scheduled run failed to start",
			logger.FieldScheduleID, sc.ID,
			logger.FieldError, err)
		return
	}
	s.logger.Infow("Scheduled run started",
		logger.FieldScheduleID, sc.ID,
		logger.FieldExecutionID, id)
}

func (s *Scheduler) request(sc *Schedule, scheduled bool) runner.Request {
	req := runner.Request{
		ScriptID:   sc.ScriptID,
		ProfileID:  sc.ProfileID,
		Parameters: sc.Parameters,
	}
	if sc.UserID != nil {
		req.UserID = *sc.UserID
	}
	if scheduled {
		id := sc.ID
		req.ScheduleID = &id
	}
	return req
}

// lookupError keeps not-found classification with a caller-facing message
func lookupError(err error, msg string) error {
	if errors.IsNotFoundError(err) {
		return errors.NewNotFoundError(msg)
	}
	return err
}
