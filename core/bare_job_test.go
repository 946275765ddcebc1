package core

import . "gopkg.in/check.v1"

type SuiteBareJob struct{}

var _ = Suite(&SuiteBareJob{})

func (s *SuiteBareJob) TestGetters(c *C) {
	job := &BareJob{
		JobID:    "11111111-2222-3333-4444-555555555555",
		Name:     "foo",
		Schedule: "*/5 * * * *",
	}

	c.Assert(job.GetJobID(), Equals, "11111111-2222-3333-4444-555555555555")
	c.Assert(job.GetName(), Equals, "foo")
	c.Assert(job.GetSchedule(), Equals, "*/5 * * * *")
	c.Assert(job.GetTarget(), Equals, "")
}

func (s *SuiteBareJob) TestNotifyStartStop(c *C) {
	job := &BareJob{}

	job.NotifyStart()
	c.Assert(job.Running(), Equals, int32(1))

	job.NotifyStop()
	c.Assert(job.Running(), Equals, int32(0))
}

func (s *SuiteBareJob) TestCronJobID(c *C) {
	job := &BareJob{}
	c.Assert(job.GetCronJobID(), Equals, uint64(0))

	job.SetCronJobID(42)
	c.Assert(job.GetCronJobID(), Equals, uint64(42))
}

func (s *SuiteBareJob) TestHistoryTruncation(c *C) {
	job := &BareJob{HistoryLimit: 2}
	e1, e2, e3 := &Execution{}, &Execution{}, &Execution{}
	job.SetLastRun(e1)
	job.SetLastRun(e2)
	job.SetLastRun(e3)
	c.Assert(len(job.history), Equals, 2)
	c.Assert(job.history[0], Equals, e2)
	c.Assert(job.history[1], Equals, e3)
}

func (s *SuiteBareJob) TestHistoryUnlimited(c *C) {
	job := &BareJob{}
	job.SetLastRun(&Execution{})
	job.SetLastRun(&Execution{})
	c.Assert(len(job.history), Equals, 2)
}

func (s *SuiteBareJob) TestGetHistory(c *C) {
	job := &BareJob{}
	e1 := &Execution{}
	e2 := &Execution{}
	job.SetLastRun(e1)
	job.SetLastRun(e2)

	hist := job.GetHistory()
	c.Assert(len(hist), Equals, 2)
	c.Assert(hist[0], Equals, e1)
	c.Assert(hist[1], Equals, e2)

	c.Assert(job.GetLastRun(), Equals, e2)
}

func (s *SuiteBareJob) TestHashChangesWithFields(c *C) {
	job := &BareJob{JobID: "id-1", Name: "foo", Schedule: "0 9 * * *"}
	h1, err := job.Hash()
	c.Assert(err, IsNil)
	c.Assert(h1, Not(Equals), "")

	same := &BareJob{JobID: "id-1", Name: "foo", Schedule: "0 9 * * *"}
	h2, err := same.Hash()
	c.Assert(err, IsNil)
	c.Assert(h2, Equals, h1)

	job.Schedule = "0 10 * * *"
	h3, err := job.Hash()
	c.Assert(err, IsNil)
	c.Assert(h3, Not(Equals), h1)
}

func (s *SuiteBareJob) TestHashIgnoresHistoryLimit(c *C) {
	a := &BareJob{JobID: "id-1", Name: "foo", Schedule: "0 9 * * *", HistoryLimit: 10}
	b := &BareJob{JobID: "id-1", Name: "foo", Schedule: "0 9 * * *", HistoryLimit: 50}

	ha, err := a.Hash()
	c.Assert(err, IsNil)
	hb, err := b.Hash()
	c.Assert(err, IsNil)
	c.Assert(ha, Equals, hb)
}
