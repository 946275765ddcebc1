package core

import (
	"context"
	"errors"
	"time"

	. "gopkg.in/check.v1"
)

type SuiteScheduler struct{}

var _ = Suite(&SuiteScheduler{})

// farFuture is a valid 5-field expression that will not fire during a test
// run; manual triggers drive the executions instead.
const farFuture = "0 0 1 1 *"

func (s *SuiteScheduler) TestAddJob(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Schedule = "*/5 * * * *"

	sc := newTestScheduler()
	err := sc.AddJob(job)
	c.Assert(err, IsNil)

	e := sc.cron.Entries()
	c.Assert(e, HasLen, 1)
	c.Assert(e[0].Job.(*jobWrapper).j, DeepEquals, job)
	c.Assert(e[0].Name, Equals, "job-1")
}

func (s *SuiteScheduler) TestAddJobEmptySchedule(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"

	sc := newTestScheduler()
	err := sc.AddJob(job)
	c.Assert(errors.Is(err, ErrEmptySchedule), Equals, true)
}

func (s *SuiteScheduler) TestAddJobRejectsDescriptors(c *C) {
	sc := newTestScheduler()

	for _, expr := range []string{"@hourly", "@every 1s", "0 0 * * * *"} {
		job := &TestJob{}
		job.JobID = "job-1"
		job.Schedule = expr
		c.Assert(sc.AddJob(job), NotNil, Commentf("expression %q", expr))
	}
	c.Assert(sc.cron.Entries(), HasLen, 0)
}

func (s *SuiteScheduler) TestAddJobExistingIDUpdates(c *C) {
	first := &TestJob{}
	first.JobID = "job-1"
	first.Name = "first"
	first.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(first), IsNil)
	_ = sc.Start()
	defer func() { _ = sc.Stop() }()

	second := &TestJob{}
	second.JobID = "job-1"
	second.Name = "second"
	second.Schedule = "*/10 * * * *"

	c.Assert(sc.AddJob(second), IsNil)
	c.Assert(sc.cron.Entries(), HasLen, 1)
	c.Assert(sc.GetJob("job-1"), Equals, Job(second))
	c.Assert(sc.Jobs, HasLen, 1)
}

func (s *SuiteScheduler) TestStartStop(c *C) {
	sc := newTestScheduler()
	c.Assert(sc.IsRunning(), Equals, false)

	_ = sc.Start()
	c.Assert(sc.IsRunning(), Equals, true)

	_ = sc.Stop()
	c.Assert(sc.IsRunning(), Equals, false)
}

func (s *SuiteScheduler) TestRunJobManual(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Name = "manual"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)

	jobCompleted := make(chan bool, 1)
	sc.SetOnJobComplete(func(_ string, success bool) {
		select {
		case jobCompleted <- success:
		default:
		}
	})

	_ = sc.Start()
	defer func() { _ = sc.Stop() }()

	c.Assert(sc.RunJobManual(context.Background(), job), IsNil)

	select {
	case success := <-jobCompleted:
		c.Assert(success, Equals, true)
	case <-time.After(2 * time.Second):
		c.Fatal("Timeout waiting for job to complete")
	}
	c.Assert(job.Called, Equals, 1)
}

func (s *SuiteScheduler) TestRunJobManualStopped(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)

	err := sc.RunJobManual(context.Background(), job)
	c.Assert(errors.Is(err, ErrSchedulerStopped), Equals, true)
}

func (s *SuiteScheduler) TestRunJobManualCanceledContext(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)
	_ = sc.Start()
	defer func() { _ = sc.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sc.RunJobManual(ctx, job)
	c.Assert(errors.Is(err, context.Canceled), Equals, true)
}

func (s *SuiteScheduler) TestRunJobManualMaxInstances(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Name = "busy"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)
	_ = sc.Start()
	defer func() { _ = sc.Stop() }()

	for i := 0; i < MaxInstancesPerJob; i++ {
		c.Assert(sc.RunJobManual(context.Background(), job), IsNil)
	}

	err := sc.RunJobManual(context.Background(), job)
	c.Assert(errors.Is(err, ErrMaxInstances), Equals, true)
}

func (s *SuiteScheduler) TestRunningInstances(c *C) {
	sc := newTestScheduler()
	c.Assert(sc.RunningInstances("absent"), Equals, 0)
}

func (s *SuiteScheduler) TestRemoveJob(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)
	c.Assert(sc.EntryNames(), DeepEquals, []string{"job-1"})

	c.Assert(sc.RemoveJob(job), IsNil)
	c.Assert(sc.Jobs, HasLen, 0)
	c.Assert(sc.EntryNames(), HasLen, 0)

	removed := sc.GetRemovedJobs()
	c.Assert(removed, HasLen, 1)
	c.Assert(removed[0], Equals, Job(job))
}

func (s *SuiteScheduler) TestUpdateJobNotFound(c *C) {
	job := &TestJob{}
	job.JobID = "ghost"
	job.Schedule = farFuture

	sc := newTestScheduler()
	err := sc.UpdateJob("ghost", farFuture, job)
	c.Assert(errors.Is(err, ErrJobNotFound), Equals, true)
}

func (s *SuiteScheduler) TestDisableEnable(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)
	_ = sc.Start()
	defer func() { _ = sc.Stop() }()

	c.Assert(sc.DisableJob("job-1"), IsNil)
	c.Assert(sc.GetJob("job-1"), IsNil)
	c.Assert(sc.GetAnyJob("job-1"), Equals, Job(job))
	c.Assert(sc.GetDisabledJobs(), HasLen, 1)
	c.Assert(sc.GetActiveJobs(), HasLen, 0)

	// Disabling twice is a no-op.
	c.Assert(sc.DisableJob("job-1"), IsNil)

	c.Assert(sc.EnableJob("job-1"), IsNil)
	c.Assert(sc.GetJob("job-1"), Equals, Job(job))
	c.Assert(sc.GetDisabledJobs(), HasLen, 0)

	c.Assert(errors.Is(sc.EnableJob("job-1"), ErrJobNotFound), Equals, true)
	c.Assert(errors.Is(sc.DisableJob("ghost"), ErrJobNotFound), Equals, true)
}

func (s *SuiteScheduler) TestMergeMiddlewaresSame(c *C) {
	mA, mB, mC := &TestMiddleware{}, &TestMiddleware{}, &TestMiddleware{}

	job := &TestJob{}
	job.JobID = "job-1"
	job.Schedule = farFuture
	job.Use(mB, mC)

	sc := newTestScheduler()
	sc.Use(mA)
	_ = sc.AddJob(job)

	m := job.Middlewares()
	c.Assert(m, HasLen, 1)
	c.Assert(m[0], Equals, Middleware(mB))
}

func (s *SuiteScheduler) TestLastRunRecorded(c *C) {
	job := &TestJob{}
	job.JobID = "job-1"
	job.Name = "recorded"
	job.Schedule = farFuture

	sc := newTestScheduler()
	c.Assert(sc.AddJob(job), IsNil)

	jobCompleted := make(chan struct{}, 1)
	sc.SetOnJobComplete(func(_ string, _ bool) {
		select {
		case jobCompleted <- struct{}{}:
		default:
		}
	})

	_ = sc.Start()
	c.Assert(sc.RunJobManual(context.Background(), job), IsNil)

	select {
	case <-jobCompleted:
	case <-time.After(2 * time.Second):
		c.Fatal("Timeout waiting for job to complete")
	}

	_ = sc.Stop()

	lr := job.GetLastRun()
	c.Assert(lr, NotNil)
	c.Assert(lr.Duration > 0, Equals, true)
	c.Assert(lr.TriggerType, Equals, TriggerManual)
}

func (s *SuiteScheduler) TestSetClock(c *C) {
	sc := newTestScheduler()
	fakeClock := NewFakeClock(time.Now())

	sc.SetClock(fakeClock)
	c.Assert(sc.clock, Equals, Clock(fakeClock))
}

func (s *SuiteScheduler) TestSetOnJobComplete(c *C) {
	sc := newTestScheduler()
	called := false

	sc.SetOnJobComplete(func(_ string, _ bool) {
		called = true
	})

	c.Assert(sc.onJobComplete, NotNil)
	sc.onJobComplete("test", true)
	c.Assert(called, Equals, true)
}

func (s *SuiteScheduler) TestSetMaxConcurrentJobs(c *C) {
	sc := newTestScheduler()
	sc.SetMaxConcurrentJobs(5)
	c.Assert(sc.concurrencySem.getCap(), Equals, 5)

	// Values below one clamp to one.
	sc.SetMaxConcurrentJobs(0)
	c.Assert(sc.concurrencySem.getCap(), Equals, 1)
}

func (s *SuiteScheduler) TestEntryByNameMissing(c *C) {
	sc := newTestScheduler()
	e := sc.EntryByName("ghost")
	c.Assert(e.Valid(), Equals, false)
}
