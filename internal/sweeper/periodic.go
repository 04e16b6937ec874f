package sweeper

import (
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

type Config struct {
	EscrowInterval      time.Duration
	ReservationInterval time.Duration
	ReservationTTL      time.Duration
}

// Register adds both sweep workers to workers.
func Register(workers *river.Workers, escrow EscrowReleaser, ledger ReservationExpirer, cfg Config, log *slog.Logger) {
	river.AddWorker(workers, NewEscrowAutoReleaseWorker(escrow, log))
	river.AddWorker(workers, NewReservationExpiryWorker(ledger, cfg.ReservationTTL, log))
}

// PeriodicJobs schedules both sweeps. Unique-by-period insertion keeps a
// sweep single-flight across API replicas.
func PeriodicJobs(cfg Config) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.EscrowInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return EscrowAutoReleaseArgs{}, &river.InsertOpts{
					MaxAttempts: 5,
					UniqueOpts:  river.UniqueOpts{ByPeriod: cfg.EscrowInterval},
				}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.ReservationInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReservationExpiryArgs{}, &river.InsertOpts{
					MaxAttempts: 5,
					UniqueOpts:  river.UniqueOpts{ByPeriod: cfg.ReservationInterval},
				}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
