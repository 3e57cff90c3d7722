package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predictpool/internal/config"
	"predictpool/internal/merkle"
	"predictpool/internal/models"
	"predictpool/internal/notify"
	"predictpool/internal/repository"
	"predictpool/internal/retry"
)

// SettlementRelayService drives relayer jobs: it posts pending Merkle roots
// on-chain with bounded retries and never re-posts a finalized job. A failed
// job stays failed until an operator retries it explicitly.
type SettlementRelayService struct {
	Repo   repository.Repository
	Poster SettlementPoster
	Flags  *SystemSettingsService
	Config config.SettlementConfig
	Logger *zap.Logger

	PlatformAddress string
	TokenDecimals   int32
}

// relayPayload is what a job carries so processing needs no market re-read.
type relayPayload struct {
	MerkleRoot      string `json:"merkle_root"`
	CreatorAddress  string `json:"creator_address"`
	CreatorFee      string `json:"creator_fee"`
	PlatformAddress string `json:"platform_address"`
	PlatformFee     string `json:"platform_fee"`
}

// Enqueue creates (or returns) the relayer job for a settled prediction
// whose root has not been posted yet.
func (s *SettlementRelayService) Enqueue(ctx context.Context, predictionID uint64) (*models.RelayerJob, error) {
	record, err := s.Repo.GetSettlementRecordByPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.MerkleRoot == "" {
		return nil, NewDomainError(CodeNotFound, "prediction has no on-chain settlement to post")
	}
	if existing, err := s.Repo.GetRelayerJobByPrediction(ctx, predictionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}
	if record.Status == models.SettlementStatusOnchainPosted || record.PostedTx != "" {
		return nil, NewDomainError(CodeSettlementBlocked, "settlement root already posted")
	}

	prediction, err := s.Repo.GetPredictionByID(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, NewDomainError(CodeNotFound, "prediction not found")
	}

	payload, _ := json.Marshal(relayPayload{
		MerkleRoot:      record.MerkleRoot,
		CreatorAddress:  prediction.CreatorAddress,
		CreatorFee:      record.CreatorFee.String(),
		PlatformAddress: s.PlatformAddress,
		PlatformFee:     record.PlatformFee.String(),
	})
	job := &models.RelayerJob{
		PredictionID: predictionID,
		MerkleRoot:   record.MerkleRoot,
		Status:       models.RelayerJobQueued,
		Payload:      datatypes.JSON(payload),
	}
	if err := s.Repo.UpsertRelayerJob(ctx, job); err != nil {
		return nil, err
	}
	stored, err := s.Repo.GetRelayerJobByPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}
	return job, nil
}

// Retry re-queues a failed job. Finalized jobs are immutable.
func (s *SettlementRelayService) Retry(ctx context.Context, jobID uint64) (*models.RelayerJob, error) {
	job, err := s.Repo.GetRelayerJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, NewDomainError(CodeNotFound, "relayer job not found")
	}
	if job.Status != models.RelayerJobFailed {
		return nil, NewDomainError(CodeSettlementBlocked, "only failed jobs can be retried")
	}
	job.Status = models.RelayerJobQueued
	if err := s.Repo.SaveRelayerJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Run scans for queued jobs on a fixed interval until ctx ends.
func (s *SettlementRelayService) Run(ctx context.Context) {
	interval := s.Config.RelayScanInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				s.logWarn("relay scan failed", zap.Error(err))
			}
		}
	}
}

func (s *SettlementRelayService) runOnce(ctx context.Context) error {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureSettlementRelay, true) {
		return nil
	}
	if err := s.requeueStaleRunning(ctx); err != nil {
		s.logWarn("stale job requeue failed", zap.Error(err))
	}
	queued := models.RelayerJobQueued
	jobs, err := s.Repo.ListRelayerJobs(ctx, repository.ListRelayerJobsParams{Limit: 10, Status: &queued})
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := s.Process(ctx, &jobs[i]); err != nil {
			s.logWarn("relayer job failed",
				zap.Uint64("job_id", jobs[i].ID),
				zap.Uint64("prediction_id", jobs[i].PredictionID),
				zap.Error(err))
		}
	}
	return nil
}

// requeueStaleRunning puts jobs back in the queue when a crash left them
// marked running. Finalization writes the tx hash in the same save, so a
// running job past the threshold was never posted.
func (s *SettlementRelayService) requeueStaleRunning(ctx context.Context) error {
	threshold := s.Config.StaleRunningAfter
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	running := models.RelayerJobRunning
	jobs, err := s.Repo.ListRelayerJobs(ctx, repository.ListRelayerJobsParams{Limit: 10, Status: &running})
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-threshold)
	for i := range jobs {
		if jobs[i].UpdatedAt.After(cutoff) {
			continue
		}
		jobs[i].Status = models.RelayerJobQueued
		if err := s.Repo.SaveRelayerJob(ctx, &jobs[i]); err != nil {
			return err
		}
		s.logWarn("stale running job requeued",
			zap.Uint64("job_id", jobs[i].ID),
			zap.Uint64("prediction_id", jobs[i].PredictionID))
	}
	return nil
}

// Process posts one job's root. The job moves queued -> running -> finalized
// or failed; a finalized job is never touched again.
func (s *SettlementRelayService) Process(ctx context.Context, job *models.RelayerJob) error {
	if job.Status == models.RelayerJobFinalized {
		return nil
	}

	var payload relayPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return s.fail(ctx, job, err)
	}
	root, err := merkle.RootFromHex(job.MerkleRoot)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	creatorFee, err := parseFeeMinor(payload.CreatorFee, s.TokenDecimals)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	platformFee, err := parseFeeMinor(payload.PlatformFee, s.TokenDecimals)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	job.Status = models.RelayerJobRunning
	if err := s.Repo.SaveRelayerJob(ctx, job); err != nil {
		return err
	}

	policy := retry.Policy{MaxAttempts: s.Config.MaxRelayAttempts}
	var txHash string
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		var postErr error
		txHash, postErr = s.Poster.PostSettlement(ctx, job.PredictionID, root,
			payload.CreatorAddress, creatorFee, payload.PlatformAddress, platformFee)
		return postErr
	})
	job.Attempts += attempts
	if err != nil {
		return s.fail(ctx, job, err)
	}

	now := time.Now().UTC()
	job.Status = models.RelayerJobFinalized
	job.TxHash = txHash
	job.LastError = ""
	job.FinalizedAt = &now
	if err := s.Repo.SaveRelayerJob(ctx, job); err != nil {
		return err
	}

	record, err := s.Repo.GetSettlementRecordByPrediction(ctx, job.PredictionID)
	if err != nil {
		return err
	}
	if record != nil {
		record.Status = models.SettlementStatusOnchainPosted
		record.PostedTx = txHash
		if err := s.Repo.UpsertSettlementRecord(ctx, record); err != nil {
			return err
		}
	}

	if s.Logger != nil {
		s.Logger.Info("settlement root posted",
			zap.Uint64("prediction_id", job.PredictionID),
			zap.String("tx_hash", txHash),
			zap.Int("attempts", job.Attempts))
	}
	notify.EventBestEffort(ctx, "settlement_posted", 0, map[string]any{
		"prediction_id": job.PredictionID,
		"tx_hash":       txHash,
	})
	return nil
}

func (s *SettlementRelayService) fail(ctx context.Context, job *models.RelayerJob, cause error) error {
	job.Status = models.RelayerJobFailed
	job.LastError = cause.Error()
	if err := s.Repo.SaveRelayerJob(ctx, job); err != nil {
		return err
	}
	return cause
}

func (s *SettlementRelayService) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
