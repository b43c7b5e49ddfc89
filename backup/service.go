package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-hmrc/core"
)

// Service queues draft submissions locally and syncs them to HMRC in
// priority order. Drafts survive API outages; sync is retried in small
// batches until the attempt budget is spent.
type Service struct {
	cfg     core.BackupConfig
	store   core.BackupStore
	sender  core.SubmissionSender
	bus     core.EventBus
	logger  core.Logger
	metrics core.MetricsRecorder
	nowFn   func() time.Time
	idFn    func() string
	sleepFn func(ctx context.Context, d time.Duration) error

	// availableFn gates sync work on upstream availability, typically
	// wired to the degradation service's view of hmrc-api.
	availableFn  func(ctx context.Context) bool
	syncOnCreate bool

	mu         sync.Mutex
	lastSyncAt time.Time
}

type Option func(*Service)

func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(recorder core.MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func WithEventBus(bus core.EventBus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithIDGenerator(id func() string) Option {
	return func(s *Service) {
		if id != nil {
			s.idFn = id
		}
	}
}

// WithSleep overrides the inter-batch wait, used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		if sleep != nil {
			s.sleepFn = sleep
		}
	}
}

// WithAvailability gates sync passes on an upstream availability check.
func WithAvailability(available func(ctx context.Context) bool) Option {
	return func(s *Service) {
		if available != nil {
			s.availableFn = available
		}
	}
}

// WithSyncOnCreate makes Create attempt an immediate sync of the new
// draft when the upstream is available.
func WithSyncOnCreate() Option {
	return func(s *Service) {
		s.syncOnCreate = true
	}
}

func New(cfg core.BackupConfig, store core.BackupStore, sender core.SubmissionSender, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("backup: store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("backup: submission sender is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.MaxSyncAttempts <= 0 {
		cfg.MaxSyncAttempts = 5
	}

	_, logger := glog.Resolve("hmrc-backup", nil, nil)
	service := &Service{
		cfg:         cfg,
		store:       store,
		sender:      sender,
		logger:      logger,
		metrics:     core.NopMetricsRecorder{},
		nowFn:       func() time.Time { return time.Now().UTC() },
		idFn:        uuid.NewString,
		sleepFn:     waitWithContext,
		availableFn: func(context.Context) bool { return true },
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateInput is a draft submission to back up locally.
type CreateInput struct {
	UserID         string
	SubmissionType core.SubmissionType
	TaxYear        string
	Data           map[string]any
	Priority       core.BackupPriority
	Metadata       core.BackupMetadata
}

// Create stores a draft with a content checksum and queues it as pending.
func (s *Service) Create(ctx context.Context, input CreateInput) (core.BackupSubmission, error) {
	if s == nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: service is not configured")
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return core.BackupSubmission{}, fmt.Errorf("backup: user id is required")
	}
	if err := input.SubmissionType.Validate(); err != nil {
		return core.BackupSubmission{}, err
	}
	if strings.TrimSpace(input.TaxYear) == "" {
		return core.BackupSubmission{}, fmt.Errorf("backup: tax year is required")
	}
	if len(input.Data) == 0 {
		return core.BackupSubmission{}, fmt.Errorf("backup: submission data is required")
	}
	priority := input.Priority
	if priority == "" {
		priority = core.BackupPriorityMedium
	}
	checksum, err := Checksum(input.Data)
	if err != nil {
		return core.BackupSubmission{}, err
	}

	now := s.nowFn().UTC()
	submission := core.BackupSubmission{
		ID:             s.idFn(),
		UserID:         input.UserID,
		SubmissionType: input.SubmissionType,
		TaxYear:        strings.TrimSpace(input.TaxYear),
		Data:           copyData(input.Data),
		Status:         core.BackupStatusPending,
		Checksum:       checksum,
		Priority:       priority,
		Metadata:       input.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if submission.Metadata.Source == "" {
		submission.Metadata.Source = core.BackupSourceManual
	}

	created, err := s.store.Create(ctx, submission)
	if err != nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: create submission: %w", err)
	}

	s.publish(ctx, core.EventBackupCreated, created, nil)
	s.metrics.IncCounter(ctx, "hmrc.backup_create.total", 1, map[string]string{
		"priority": string(created.Priority),
		"type":     string(created.SubmissionType),
	})

	if s.syncOnCreate && s.availableFn(ctx) {
		s.syncOne(ctx, created)
		if refreshed, err := s.store.Get(ctx, created.ID); err == nil {
			created = refreshed
		}
	}
	return created, nil
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Attempted int
	Synced    int
	Failed    int
	Conflicts int
	Exhausted int
}

// SyncPending pushes queued drafts upstream in priority order, batch by
// batch with a delay between batches. Drafts that spent their attempt
// budget stay failed and are skipped.
func (s *Service) SyncPending(ctx context.Context, userID string) (SyncResult, error) {
	if s == nil {
		return SyncResult{}, fmt.Errorf("backup: service is not configured")
	}
	if !s.availableFn(ctx) {
		s.logInfo(ctx, "backup sync skipped, upstream unavailable", map[string]any{
			"user_id": strings.TrimSpace(userID),
		})
		return SyncResult{}, nil
	}
	startedAt := s.nowFn()
	s.mu.Lock()
	s.lastSyncAt = startedAt.UTC()
	s.mu.Unlock()

	pending, err := s.store.List(ctx, core.BackupFilter{
		UserID:   strings.TrimSpace(userID),
		Statuses: []core.BackupStatus{core.BackupStatusPending, core.BackupStatusFailed},
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("backup: list pending submissions: %w", err)
	}

	eligible := make([]core.BackupSubmission, 0, len(pending))
	result := SyncResult{}
	for _, submission := range pending {
		if submission.SyncAttempts >= s.cfg.MaxSyncAttempts {
			result.Exhausted++
			continue
		}
		eligible = append(eligible, submission)
	}
	sortForSync(eligible)

	for start := 0; start < len(eligible); start += s.cfg.BatchSize {
		if start > 0 {
			if s.cfg.BatchDelay > 0 {
				if err := s.sleepFn(ctx, s.cfg.BatchDelay); err != nil {
					return result, err
				}
			}
			// The upstream can drop mid-run. Leave the rest pending
			// for the next pass instead of burning their attempts.
			if !s.availableFn(ctx) {
				s.logInfo(ctx, "backup sync stopped, upstream unavailable", map[string]any{
					"user_id":   strings.TrimSpace(userID),
					"remaining": len(eligible) - start,
				})
				break
			}
		}
		end := start + s.cfg.BatchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		for _, submission := range eligible[start:end] {
			result.Attempted++
			switch outcome := s.syncOne(ctx, submission); outcome {
			case syncOutcomeSynced:
				result.Synced++
			case syncOutcomeConflict:
				result.Conflicts++
			default:
				result.Failed++
			}
		}
	}

	s.metrics.ObserveHistogram(ctx, "hmrc.backup_sync.duration_ms",
		float64(time.Since(startedAt).Milliseconds()), map[string]string{"status": "success"})
	s.logInfo(ctx, "backup sync pass finished", map[string]any{
		"attempted": result.Attempted,
		"synced":    result.Synced,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
		"exhausted": result.Exhausted,
	})
	return result, nil
}

type syncOutcome int

const (
	syncOutcomeFailed syncOutcome = iota
	syncOutcomeSynced
	syncOutcomeConflict
)

func (s *Service) syncOne(ctx context.Context, submission core.BackupSubmission) syncOutcome {
	now := s.nowFn().UTC()

	// Corrupted drafts never reach the network.
	if checksum, err := Checksum(submission.Data); err != nil || checksum != submission.Checksum {
		submission.ErrorMessage = core.ErrBackupChecksumMismatch.Error()
		if err := submission.TransitionTo(core.BackupStatusFailed, now); err == nil {
			if _, saveErr := s.store.Update(ctx, submission); saveErr != nil {
				s.logError(ctx, "backup checksum failure save failed", map[string]any{
					"submission_id": submission.ID,
					"error":         saveErr.Error(),
				})
			}
		}
		s.logError(ctx, "backup checksum mismatch", map[string]any{
			"submission_id": submission.ID,
		})
		return syncOutcomeFailed
	}

	if err := submission.TransitionTo(core.BackupStatusSyncing, now); err != nil {
		s.logError(ctx, "backup sync transition rejected", map[string]any{
			"submission_id": submission.ID,
			"error":         err.Error(),
		})
		return syncOutcomeFailed
	}
	submission.SyncAttempts++
	attemptAt := now
	submission.LastSyncAttempt = &attemptAt
	if updated, err := s.store.Update(ctx, submission); err == nil {
		submission = updated
	}

	reference, sendErr := s.sender.Send(ctx, submission)
	now = s.nowFn().UTC()

	if sendErr == nil {
		submission.HMRCReference = strings.TrimSpace(reference)
		submission.ErrorMessage = ""
		if err := submission.TransitionTo(core.BackupStatusSynced, now); err == nil {
			if _, err := s.store.Update(ctx, submission); err != nil {
				s.logError(ctx, "backup sync state save failed", map[string]any{
					"submission_id": submission.ID,
					"error":         err.Error(),
				})
			}
		}
		s.publish(ctx, core.EventBackupSynced, submission, map[string]any{"reference": submission.HMRCReference})
		return syncOutcomeSynced
	}

	submission.ErrorMessage = sendErr.Error()
	if isConflictError(sendErr) {
		if err := submission.TransitionTo(core.BackupStatusConflict, now); err == nil {
			if _, err := s.store.Update(ctx, submission); err != nil {
				s.logError(ctx, "backup conflict state save failed", map[string]any{
					"submission_id": submission.ID,
					"error":         err.Error(),
				})
			}
		}
		s.publish(ctx, core.EventBackupConflict, submission, map[string]any{"error": sendErr.Error()})
		return syncOutcomeConflict
	}

	if err := submission.TransitionTo(core.BackupStatusFailed, now); err == nil {
		if _, err := s.store.Update(ctx, submission); err != nil {
			s.logError(ctx, "backup failure state save failed", map[string]any{
				"submission_id": submission.ID,
				"error":         err.Error(),
			})
		}
	}
	s.logError(ctx, "backup sync attempt failed", map[string]any{
		"submission_id": submission.ID,
		"attempts":      submission.SyncAttempts,
		"error":         sendErr.Error(),
	})
	return syncOutcomeFailed
}

// ResolveConflict settles a conflicted draft. keep_local requeues the
// local copy, keep_remote accepts the upstream copy as final, merge
// replaces the draft data and requeues it.
func (s *Service) ResolveConflict(ctx context.Context, id string, resolution core.ConflictResolution, mergedData map[string]any) (core.BackupSubmission, error) {
	if s == nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: service is not configured")
	}
	if err := resolution.Validate(); err != nil {
		return core.BackupSubmission{}, err
	}
	submission, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: load submission: %w", err)
	}
	if submission.Status != core.BackupStatusConflict {
		return core.BackupSubmission{}, fmt.Errorf("backup: submission %s is not in conflict", submission.ID)
	}

	now := s.nowFn().UTC()
	switch resolution {
	case core.ConflictKeepLocal:
		if err := submission.TransitionTo(core.BackupStatusPending, now); err != nil {
			return core.BackupSubmission{}, err
		}
		submission.SyncAttempts = 0
		submission.ErrorMessage = ""
	case core.ConflictKeepRemote:
		if err := submission.TransitionTo(core.BackupStatusSynced, now); err != nil {
			return core.BackupSubmission{}, err
		}
		submission.ErrorMessage = ""
	case core.ConflictMerge:
		if len(mergedData) == 0 {
			return core.BackupSubmission{}, fmt.Errorf("backup: merged data is required for merge resolution")
		}
		checksum, sumErr := Checksum(mergedData)
		if sumErr != nil {
			return core.BackupSubmission{}, sumErr
		}
		if err := submission.TransitionTo(core.BackupStatusPending, now); err != nil {
			return core.BackupSubmission{}, err
		}
		submission.Data = copyData(mergedData)
		submission.Checksum = checksum
		submission.SyncAttempts = 0
		submission.ErrorMessage = ""
	}

	updated, err := s.store.Update(ctx, submission)
	if err != nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: save resolution: %w", err)
	}
	s.logInfo(ctx, "backup conflict resolved", map[string]any{
		"submission_id": updated.ID,
		"resolution":    string(resolution),
	})
	return updated, nil
}

// Verify recomputes the draft checksum against the stored one.
func (s *Service) Verify(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("backup: service is not configured")
	}
	submission, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("backup: load submission: %w", err)
	}
	checksum, err := Checksum(submission.Data)
	if err != nil {
		return err
	}
	if checksum != submission.Checksum {
		return fmt.Errorf("%w: submission %s", core.ErrBackupChecksumMismatch, submission.ID)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (core.BackupSubmission, error) {
	if s == nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: service is not configured")
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

func (s *Service) List(ctx context.Context, filter core.BackupFilter) ([]core.BackupSubmission, error) {
	if s == nil {
		return nil, fmt.Errorf("backup: service is not configured")
	}
	return s.store.List(ctx, filter)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("backup: service is not configured")
	}
	return s.store.Delete(ctx, strings.TrimSpace(id))
}

func (s *Service) Stats(ctx context.Context, userID string) (core.BackupStats, error) {
	if s == nil {
		return core.BackupStats{}, fmt.Errorf("backup: service is not configured")
	}
	return s.store.Stats(ctx, strings.TrimSpace(userID))
}

// ForceSyncAll requeues failed drafts with a fresh attempt budget and
// runs a sync pass.
func (s *Service) ForceSyncAll(ctx context.Context, userID string) (SyncResult, error) {
	if s == nil {
		return SyncResult{}, fmt.Errorf("backup: service is not configured")
	}
	failed, err := s.store.List(ctx, core.BackupFilter{
		UserID:   strings.TrimSpace(userID),
		Statuses: []core.BackupStatus{core.BackupStatusFailed},
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("backup: list failed submissions: %w", err)
	}
	now := s.nowFn().UTC()
	for _, submission := range failed {
		if err := submission.TransitionTo(core.BackupStatusPending, now); err != nil {
			continue
		}
		submission.SyncAttempts = 0
		submission.ErrorMessage = ""
		if _, err := s.store.Update(ctx, submission); err != nil {
			s.logError(ctx, "backup requeue failed", map[string]any{
				"submission_id": submission.ID,
				"error":         err.Error(),
			})
		}
	}
	return s.SyncPending(ctx, userID)
}

// ClearSynced removes all synced drafts for a user.
func (s *Service) ClearSynced(ctx context.Context, userID string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("backup: service is not configured")
	}
	synced, err := s.store.List(ctx, core.BackupFilter{
		UserID:   strings.TrimSpace(userID),
		Statuses: []core.BackupStatus{core.BackupStatusSynced},
	})
	if err != nil {
		return 0, fmt.Errorf("backup: list synced submissions: %w", err)
	}
	removed := 0
	for _, submission := range synced {
		if err := s.store.Delete(ctx, submission.ID); err != nil {
			s.logError(ctx, "backup delete failed", map[string]any{
				"submission_id": submission.ID,
				"error":         err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}

// LastSync reports when the last sync pass started and when the next
// periodic pass is due. Zero times mean no pass has run yet.
func (s *Service) LastSync() (last, next time.Time) {
	if s == nil {
		return time.Time{}, time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSyncAt.IsZero() {
		return time.Time{}, time.Time{}
	}
	return s.lastSyncAt, s.lastSyncAt.Add(s.cfg.SyncInterval)
}

// CleanupSynced deletes synced drafts older than the retention window.
func (s *Service) CleanupSynced(ctx context.Context) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("backup: service is not configured")
	}
	retention := s.cfg.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	cutoff := s.nowFn().UTC().AddDate(0, 0, -retention)
	removed, err := s.store.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("backup: cleanup synced submissions: %w", err)
	}
	if removed > 0 {
		s.logInfo(ctx, "backup retention cleanup", map[string]any{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
	}
	return removed, nil
}

// Export serializes a user's drafts to JSON for portability.
func (s *Service) Export(ctx context.Context, userID string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("backup: service is not configured")
	}
	submissions, err := s.store.List(ctx, core.BackupFilter{UserID: strings.TrimSpace(userID)})
	if err != nil {
		return nil, fmt.Errorf("backup: list submissions: %w", err)
	}
	return json.MarshalIndent(submissions, "", "  ")
}

// ImportResult reports what an import actually did.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Import restores exported drafts, skipping IDs that already exist and
// drafts whose checksum no longer matches their data.
func (s *Service) Import(ctx context.Context, payload []byte) (ImportResult, error) {
	if s == nil {
		return ImportResult{}, fmt.Errorf("backup: service is not configured")
	}
	var submissions []core.BackupSubmission
	if err := json.Unmarshal(payload, &submissions); err != nil {
		return ImportResult{}, fmt.Errorf("backup: decode import payload: %w", err)
	}

	result := ImportResult{}
	for _, submission := range submissions {
		if strings.TrimSpace(submission.ID) == "" || strings.TrimSpace(submission.UserID) == "" {
			result.Skipped++
			continue
		}
		if _, err := s.store.Get(ctx, submission.ID); err == nil {
			result.Skipped++
			continue
		}
		checksum, err := Checksum(submission.Data)
		if err != nil || checksum != submission.Checksum {
			result.Skipped++
			continue
		}
		if _, err := s.store.Create(ctx, submission); err != nil {
			result.Skipped++
			continue
		}
		result.Imported++
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, name string, submission core.BackupSubmission, extra map[string]any) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"submission_id": submission.ID,
		"status":        string(submission.Status),
		"priority":      string(submission.Priority),
		"tax_year":      submission.TaxYear,
	}
	for key, value := range extra {
		payload[key] = value
	}
	event := core.Event{
		ID:         s.idFn(),
		Name:       name,
		UserID:     submission.UserID,
		Source:     "backup-service",
		OccurredAt: s.nowFn().UTC(),
		Payload:    payload,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logError(ctx, "backup event publish failed", map[string]any{
			"event": name,
			"error": err.Error(),
		})
	}
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, false, message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, true, message, fields)
}

func (s *Service) log(ctx context.Context, isError bool, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := make([]any, 0, len(fields)*2)
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	if isError {
		logger.Error(message, args...)
		return
	}
	logger.Info(message, args...)
}

// Checksum is the sha256 hex digest of the canonical JSON encoding of
// the draft data. Map keys are sorted by the encoder, so equal content
// yields equal digests.
func Checksum(data map[string]any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("backup: encode data for checksum: %w", err)
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:]), nil
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

func sortForSync(submissions []core.BackupSubmission) {
	sort.SliceStable(submissions, func(i, j int) bool {
		left, right := submissions[i], submissions[j]
		if rankDiff := core.PriorityRank(left.Priority) - core.PriorityRank(right.Priority); rankDiff != 0 {
			return rankDiff < 0
		}
		return left.CreatedAt.Before(right.CreatedAt)
	})
}

func copyData(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
