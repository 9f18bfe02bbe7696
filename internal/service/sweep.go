package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/origin"
	"memberpass/internal/repository"
)

// SweepConfig bounds one lifecycle sweep.
type SweepConfig struct {
	RenewalWindow    time.Duration // re-check credentials expiring within this window
	RecheckEvery     time.Duration // periodic re-check interval regardless of expiry
	Validity         time.Duration // extension applied on confirmed standing
	FailureThreshold int           // consecutive transient failures before suspension
	BatchSize        int
	OriginTimeout    time.Duration
}

func (c *SweepConfig) applyDefaults() {
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = 72 * time.Hour
	}
	if c.RecheckEvery <= 0 {
		c.RecheckEvery = 24 * time.Hour
	}
	if c.Validity <= 0 {
		c.Validity = 30 * 24 * time.Hour
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.OriginTimeout <= 0 {
		c.OriginTimeout = 15 * time.Second
	}
}

// Sweeper drives credential lifecycle transitions by re-checking standing
// with the origin platform. Each per-credential transition is its own atomic
// update, so an interrupted sweep leaves a consistent store and the next run
// picks up the remainder: selection is by current state, not by visitation.
type Sweeper struct {
	creds    repository.CredentialRepository
	issuers  repository.IssuerRepository
	members  repository.MemberRepository
	sweeps   repository.SweepRunRepository
	verifier origin.Verifier
	cfg      SweepConfig
	log      *zap.Logger

	mu sync.Mutex // single-flight guard
}

// NewSweeper constructs the lifecycle sweeper.
func NewSweeper(
	creds repository.CredentialRepository,
	issuers repository.IssuerRepository,
	members repository.MemberRepository,
	sweeps repository.SweepRunRepository,
	verifier origin.Verifier,
	cfg SweepConfig,
	log *zap.Logger,
) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{
		creds:    creds,
		issuers:  issuers,
		members:  members,
		sweeps:   sweeps,
		verifier: verifier,
		cfg:      cfg,
		log:      log,
	}
}

// RunSweep performs one sweep at the given instant. A call overlapping a
// running sweep is a no-op returning errs.ErrSweepInProgress. Errors on
// individual credentials never abort the batch; they are counted on the run
// record and processing continues. Cancelling ctx stops between candidates.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time) (*model.SweepRun, error) {
	if !s.mu.TryLock() {
		return nil, errs.ErrSweepInProgress
	}
	defer s.mu.Unlock()

	runID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	run := &model.SweepRun{ID: runID, StartedAt: now}
	if err := s.sweeps.Start(ctx, runID, now); err != nil {
		return nil, err
	}

	candidates, err := s.creds.FindDueForSweep(ctx, repository.SweepFilter{
		Now:           now,
		RenewalWindow: s.cfg.RenewalWindow,
		RecheckEvery:  s.cfg.RecheckEvery,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sweep started",
		zap.String("run_id", runID.String()),
		zap.Int("candidates", len(candidates)))

	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		s.sweepOne(ctx, now, &candidates[i], run)
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err := s.sweeps.Finish(ctx, run); err != nil {
		return nil, err
	}

	s.log.Info("sweep finished",
		zap.String("run_id", runID.String()),
		zap.Int("processed", run.Processed),
		zap.Int("extended", run.Extended),
		zap.Int("revoked", run.Revoked),
		zap.Int("suspended", run.Suspended),
		zap.Int("errored", run.Errored))

	return run, nil
}

// sweepOne re-checks one credential and applies at most one transition.
func (s *Sweeper) sweepOne(ctx context.Context, now time.Time, cred *model.Credential, run *model.SweepRun) {
	run.Processed++

	iss, err := s.issuers.GetByID(ctx, cred.IssuerID)
	if err != nil {
		s.countError(run, cred, "load issuer", err)
		return
	}
	member, err := s.members.GetByID(ctx, cred.MemberID)
	if err != nil {
		s.countError(run, cred, "load member", err)
		return
	}

	octx, cancel := context.WithTimeout(ctx, s.cfg.OriginTimeout)
	standing, err := s.verifier.CheckStanding(octx, iss, member)
	cancel()

	switch {
	case err == nil && standing.State == origin.StandingConfirmed:
		if err := s.creds.ExtendValidity(ctx, cred.ID, now.Add(s.cfg.Validity), now); err != nil {
			s.countError(run, cred, "extend validity", err)
			return
		}
		run.Extended++

	case err == nil && standing.State == origin.StandingLapsed:
		if err := s.creds.SetStatus(ctx, cred.ID, model.StatusRevoked, "membership lapsed: "+standing.Snapshot); err != nil {
			s.countError(run, cred, "revoke", err)
			return
		}
		run.Revoked++
		s.log.Info("credential revoked, standing lapsed",
			zap.String("credential_id", cred.ID.String()),
			zap.String("snapshot", standing.Snapshot))

	case errors.Is(err, errs.ErrOriginUnavailable):
		failures, ierr := s.creds.IncrementFailures(ctx, cred.ID)
		if ierr != nil {
			s.countError(run, cred, "count failure", ierr)
			return
		}
		if failures >= s.cfg.FailureThreshold && cred.Status == model.StatusActive {
			if serr := s.creds.SetStatus(ctx, cred.ID, model.StatusSuspended, "origin unreachable"); serr != nil {
				s.countError(run, cred, "suspend", serr)
				return
			}
			run.Suspended++
			s.log.Warn("credential suspended after repeated transient failures",
				zap.String("credential_id", cred.ID.String()),
				zap.Int("failures", failures))
		}

	default:
		// Permanent origin rejection or an unexpected failure: count it and
		// leave the credential for the next sweep.
		s.countError(run, cred, "check standing", err)
	}
}

func (s *Sweeper) countError(run *model.SweepRun, cred *model.Credential, op string, err error) {
	run.Errored++
	s.log.Error("sweep: "+op,
		zap.String("credential_id", cred.ID.String()),
		zap.Error(err))
}
