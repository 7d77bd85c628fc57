package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	JobQueueHealth     = "queue_health"
	JobPruneDeadLetter = "prune_dead_letters"
)

var ErrUnknownJob = errors.New("unknown job")

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// JobInfo describes a scheduled maintenance task
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type job struct {
	name    string
	spec    string
	entryID cron.EntryID
	run     func()
}

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	a.addJob(JobQueueHealth, "@every 30s", a.SchedQueueHealthTask)
	a.addJob(JobPruneDeadLetter, "@daily", a.SchedPruneDeadLetters)

	a.sched.Start()
}

func (a *Application) addJob(name, spec string, run func()) {
	id, err := a.sched.AddFunc(spec, func() {
		go run()
	})
	if err != nil {
		zap.S().Errorf("init job %s error %s", name, err.Error())
		return
	}
	a.jobs = append(a.jobs, job{name: name, spec: spec, entryID: id, run: run})
}

// Jobs lists the scheduled tasks with their next and previous run times
func (a *Application) Jobs() []JobInfo {
	infos := make([]JobInfo, 0, len(a.jobs))
	for _, j := range a.jobs {
		entry := a.sched.Entry(j.entryID)
		infos = append(infos, JobInfo{Name: j.name, Spec: j.spec, Next: entry.Next, Prev: entry.Prev})
	}
	return infos
}

// RunJobNow runs the named task synchronously
func (a *Application) RunJobNow(name string) error {
	for _, j := range a.jobs {
		if j.name == name {
			j.run()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// SchedQueueHealthTask pings the broker, a failed ping triggers a reconnect
func (a *Application) SchedQueueHealthTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.queue.HealthCheck(ctx); err != nil {
		zap.L().Warn("queue health check failed",
			zap.String("namespace", "queue"),
			zap.Error(err))
	}
}

// SchedPruneDeadLetters removes dead letters past the retention window
func (a *Application) SchedPruneDeadLetters() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	days := a.appConfig.Notify.DeadLetterDays
	if days <= 0 {
		days = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := a.store.DeadLetters.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		zap.L().Error("prune dead letters failed", zap.String("namespace", "notify"), zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("pruned dead letters", zap.String("namespace", "notify"), zap.Int64("rows", n))
	}
}
