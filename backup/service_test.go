package backup

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-hmrc/core"
)

type scriptedSender struct {
	results []senderResult
	sent    []core.BackupSubmission
}

type senderResult struct {
	reference string
	err       error
}

func (s *scriptedSender) Send(_ context.Context, submission core.BackupSubmission) (string, error) {
	s.sent = append(s.sent, submission)
	if len(s.results) == 0 {
		return "HMRC-REF-DEFAULT", nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.reference, next.err
}

type recordingBus struct {
	events []core.Event
}

func (b *recordingBus) Publish(_ context.Context, event core.Event) error {
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(string, core.EventHandler) func() {
	return func() {}
}

func (b *recordingBus) names() []string {
	out := make([]string, 0, len(b.events))
	for _, event := range b.events {
		out = append(out, event.Name)
	}
	return out
}

func newTestService(t *testing.T, store core.BackupStore, sender core.SubmissionSender, options ...Option) *Service {
	t.Helper()
	base := []Option{
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	service, err := New(core.DefaultConfig().Backup, store, sender, append(base, options...)...)
	if err != nil {
		t.Fatalf("new backup service: %v", err)
	}
	return service
}

func createDraft(t *testing.T, service *Service, userID string, priority core.BackupPriority) core.BackupSubmission {
	t.Helper()
	created, err := service.Create(context.Background(), CreateInput{
		UserID:         userID,
		SubmissionType: core.SubmissionTypePersonal,
		TaxYear:        "2024-25",
		Data:           map[string]any{"income": 42000.0, "user": userID},
		Priority:       priority,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return created
}

func TestService_CreateComputesChecksumAndPublishes(t *testing.T) {
	bus := &recordingBus{}
	service := newTestService(t, NewMemoryStore(), &scriptedSender{}, WithEventBus(bus))

	created := createDraft(t, service, "usr_1", "")

	if created.Status != core.BackupStatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}
	if created.Priority != core.BackupPriorityMedium {
		t.Fatalf("expected medium default priority, got %s", created.Priority)
	}
	if len(created.Checksum) != 64 {
		t.Fatalf("expected sha256 hex checksum, got %q", created.Checksum)
	}
	if created.Metadata.Source != core.BackupSourceManual {
		t.Fatalf("expected manual source default, got %s", created.Metadata.Source)
	}
	if len(bus.events) != 1 || bus.events[0].Name != core.EventBackupCreated {
		t.Fatalf("expected backup created event, got %v", bus.names())
	}
}

func TestService_CreateValidation(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), &scriptedSender{})

	cases := []CreateInput{
		{SubmissionType: core.SubmissionTypePersonal, TaxYear: "2024-25", Data: map[string]any{"a": 1}},
		{UserID: "usr_1", SubmissionType: "vat", TaxYear: "2024-25", Data: map[string]any{"a": 1}},
		{UserID: "usr_1", SubmissionType: core.SubmissionTypePersonal, Data: map[string]any{"a": 1}},
		{UserID: "usr_1", SubmissionType: core.SubmissionTypePersonal, TaxYear: "2024-25"},
	}
	for i, input := range cases {
		if _, err := service.Create(context.Background(), input); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestService_SyncPendingMarksSyncedAndRecordsReference(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{{reference: "HMRC-REF-1"}}}
	bus := &recordingBus{}
	service := newTestService(t, store, sender, WithEventBus(bus))

	created := createDraft(t, service, "usr_1", core.BackupPriorityHigh)

	result, err := service.SyncPending(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Synced != 1 || result.Attempted != 1 {
		t.Fatalf("expected one synced submission, got %+v", result)
	}

	stored, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Status != core.BackupStatusSynced {
		t.Fatalf("expected synced, got %s", stored.Status)
	}
	if stored.HMRCReference != "HMRC-REF-1" {
		t.Fatalf("expected receipt reference, got %q", stored.HMRCReference)
	}
	if stored.SyncAttempts != 1 {
		t.Fatalf("expected one attempt, got %d", stored.SyncAttempts)
	}
	if stored.LastSyncAttempt == nil {
		t.Fatalf("expected last sync attempt timestamp")
	}

	names := bus.names()
	if len(names) != 2 || names[1] != core.EventBackupSynced {
		t.Fatalf("expected synced event, got %v", names)
	}
}

func TestService_SyncPendingOrdersByPriority(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{}
	service := newTestService(t, store, sender)

	createDraft(t, service, "usr_low", core.BackupPriorityLow)
	createDraft(t, service, "usr_high", core.BackupPriorityHigh)
	createDraft(t, service, "usr_med", core.BackupPriorityMedium)

	if _, err := service.SyncPending(context.Background(), ""); err != nil {
		t.Fatalf("sync pending: %v", err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("expected three sends, got %d", len(sender.sent))
	}
	order := []string{sender.sent[0].UserID, sender.sent[1].UserID, sender.sent[2].UserID}
	want := []string{"usr_high", "usr_med", "usr_low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected sync order %v, got %v", want, order)
		}
	}
}

func TestService_SyncPendingWaitsBetweenBatches(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{}
	waits := []time.Duration{}
	service := newTestService(t, store, sender, WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))

	for i := 0; i < 7; i++ {
		createDraft(t, service, fmt.Sprintf("usr_%d", i), core.BackupPriorityMedium)
	}

	if _, err := service.SyncPending(context.Background(), ""); err != nil {
		t.Fatalf("sync pending: %v", err)
	}

	// Seven drafts at batch size three means two inter-batch waits.
	if len(waits) != 2 {
		t.Fatalf("expected two batch delays, got %d", len(waits))
	}
	for _, wait := range waits {
		if wait != 2*time.Second {
			t.Fatalf("expected 2s batch delay, got %s", wait)
		}
	}
}

func TestService_SyncPendingMarksFailuresAndSkipsExhausted(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{{err: fmt.Errorf("upstream timeout")}}}
	service := newTestService(t, store, sender)

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)

	result, err := service.SyncPending(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", result)
	}

	stored, _ := store.Get(context.Background(), created.ID)
	if stored.Status != core.BackupStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "upstream timeout") {
		t.Fatalf("expected error message recorded, got %q", stored.ErrorMessage)
	}

	stored.SyncAttempts = 5
	if _, err := store.Update(context.Background(), stored); err != nil {
		t.Fatalf("update attempts: %v", err)
	}
	result, err = service.SyncPending(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.Attempted != 0 || result.Exhausted != 1 {
		t.Fatalf("expected exhausted draft to be skipped, got %+v", result)
	}
}

func TestService_SyncPendingDetectsConflicts(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{{err: fmt.Errorf("hmrc: submission endpoint error (409): submission already exists")}}}
	bus := &recordingBus{}
	service := newTestService(t, store, sender, WithEventBus(bus))

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)

	result, err := service.SyncPending(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Conflicts != 1 {
		t.Fatalf("expected one conflict, got %+v", result)
	}

	stored, _ := store.Get(context.Background(), created.ID)
	if stored.Status != core.BackupStatusConflict {
		t.Fatalf("expected conflict status, got %s", stored.Status)
	}
	names := bus.names()
	if names[len(names)-1] != core.EventBackupConflict {
		t.Fatalf("expected conflict event, got %v", names)
	}
}

func TestService_ResolveConflict(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{{err: fmt.Errorf("duplicate submission")}}}
	service := newTestService(t, store, sender)

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if _, err := service.SyncPending(context.Background(), "usr_1"); err != nil {
		t.Fatalf("sync pending: %v", err)
	}

	resolved, err := service.ResolveConflict(context.Background(), created.ID, core.ConflictKeepLocal, nil)
	if err != nil {
		t.Fatalf("resolve keep_local: %v", err)
	}
	if resolved.Status != core.BackupStatusPending {
		t.Fatalf("expected pending after keep_local, got %s", resolved.Status)
	}
	if resolved.SyncAttempts != 0 {
		t.Fatalf("expected attempts reset, got %d", resolved.SyncAttempts)
	}
}

func TestService_ResolveConflictMergeReplacesDataAndChecksum(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{{err: fmt.Errorf("duplicate submission")}}}
	service := newTestService(t, store, sender)

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if _, err := service.SyncPending(context.Background(), "usr_1"); err != nil {
		t.Fatalf("sync pending: %v", err)
	}

	merged := map[string]any{"income": 43000.0}
	resolved, err := service.ResolveConflict(context.Background(), created.ID, core.ConflictMerge, merged)
	if err != nil {
		t.Fatalf("resolve merge: %v", err)
	}
	if resolved.Status != core.BackupStatusPending {
		t.Fatalf("expected pending after merge, got %s", resolved.Status)
	}
	wantChecksum, _ := Checksum(merged)
	if resolved.Checksum != wantChecksum {
		t.Fatalf("expected recomputed checksum")
	}
	if resolved.Checksum == created.Checksum {
		t.Fatalf("checksum should change with the data")
	}
}

func TestService_ResolveConflictRejectsNonConflicted(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, &scriptedSender{})

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if _, err := service.ResolveConflict(context.Background(), created.ID, core.ConflictKeepLocal, nil); err == nil {
		t.Fatalf("expected rejection for non-conflicted submission")
	}
	if _, err := service.ResolveConflict(context.Background(), created.ID, "split", nil); err == nil {
		t.Fatalf("expected invalid resolution error")
	}
}

func TestService_VerifyDetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, &scriptedSender{})

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if err := service.Verify(context.Background(), created.ID); err != nil {
		t.Fatalf("verify clean draft: %v", err)
	}

	created.Data["income"] = 1.0
	if _, err := store.Update(context.Background(), created); err != nil {
		t.Fatalf("tamper draft: %v", err)
	}
	if err := service.Verify(context.Background(), created.ID); err == nil {
		t.Fatalf("expected checksum mismatch")
	}
}

func TestService_StatsAndCleanup(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, store, &scriptedSender{}, WithNow(func() time.Time { return now }))

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if _, err := service.SyncPending(context.Background(), "usr_1"); err != nil {
		t.Fatalf("sync pending: %v", err)
	}

	stats, err := service.Stats(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[core.BackupStatusSynced] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	now = now.AddDate(0, 0, 45)
	removed, err := service.CleanupSynced(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed draft, got %d", removed)
	}
	if _, err := store.Get(context.Background(), created.ID); err == nil {
		t.Fatalf("expected draft to be deleted")
	}
}

func TestService_ExportImportRoundTrip(t *testing.T) {
	source := NewMemoryStore()
	service := newTestService(t, source, &scriptedSender{})
	created := createDraft(t, service, "usr_1", core.BackupPriorityHigh)

	payload, err := service.Export(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	target := NewMemoryStore()
	targetService := newTestService(t, target, &scriptedSender{})
	result, err := targetService.Import(context.Background(), payload)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 || result.Skipped != 0 {
		t.Fatalf("unexpected import result %+v", result)
	}
	restored, err := target.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if restored.Checksum != created.Checksum {
		t.Fatalf("restored checksum mismatch")
	}

	// Importing again dedupes by id.
	result, err = targetService.Import(context.Background(), payload)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if result.Imported != 0 || result.Skipped != 1 {
		t.Fatalf("expected dedupe on second import, got %+v", result)
	}
}

func TestChecksum_StableAcrossKeyOrder(t *testing.T) {
	left, err := Checksum(map[string]any{"a": 1.0, "b": "two"})
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	right, err := Checksum(map[string]any{"b": "two", "a": 1.0})
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if left != right {
		t.Fatalf("checksum should not depend on key order")
	}
}

func TestService_SyncPendingSkipsWhenUnavailable(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{}
	service := newTestService(t, store, sender,
		WithAvailability(func(context.Context) bool { return false }),
	)

	createDraft(t, service, "usr_1", core.BackupPriorityMedium)

	result, err := service.SyncPending(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Attempted != 0 {
		t.Fatalf("expected no attempts while unavailable, got %+v", result)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no submissions should reach the sender")
	}
}

func TestService_SyncPendingStopsWhenUpstreamDropsMidRun(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{}
	checks := 0
	service := newTestService(t, store, sender,
		WithAvailability(func(context.Context) bool {
			checks++
			// Up for the initial check, down before the second batch.
			return checks == 1
		}),
	)

	for i := 0; i < 7; i++ {
		createDraft(t, service, fmt.Sprintf("usr_%d", i), core.BackupPriorityMedium)
	}

	result, err := service.SyncPending(context.Background(), "")
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}

	// Only the first batch of three runs before the outage is noticed.
	if len(sender.sent) != 3 {
		t.Fatalf("expected the sync to stop after one batch, got %d sends", len(sender.sent))
	}
	if result.Attempted != 3 {
		t.Fatalf("expected 3 attempts, got %+v", result)
	}

	remaining, err := store.List(context.Background(), core.BackupFilter{
		Statuses: []core.BackupStatus{core.BackupStatusPending},
	})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(remaining) != 4 {
		t.Fatalf("unsent drafts should stay pending for the next pass, got %d", len(remaining))
	}
}

func TestService_SyncSkipsCorruptedDrafts(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{}
	service := newTestService(t, store, sender)

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	created.Data["income"] = 0.0
	if _, err := store.Update(context.Background(), created); err != nil {
		t.Fatalf("tamper draft: %v", err)
	}

	result, err := service.SyncPending(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected checksum failure, got %+v", result)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("corrupted draft must not reach the network")
	}
	stored, _ := store.Get(context.Background(), created.ID)
	if stored.Status != core.BackupStatusFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}
}

func TestService_ForceSyncAllRequeuesFailedDrafts(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{
		{err: fmt.Errorf("upstream timeout")},
		{reference: "HMRC-REF-2"},
	}}
	service := newTestService(t, store, sender)

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if _, err := service.SyncPending(context.Background(), "usr_1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	stored, _ := store.Get(context.Background(), created.ID)
	stored.SyncAttempts = 5
	if _, err := store.Update(context.Background(), stored); err != nil {
		t.Fatalf("exhaust attempts: %v", err)
	}

	result, err := service.ForceSyncAll(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("force sync: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected requeued draft to sync, got %+v", result)
	}
	stored, _ = store.Get(context.Background(), created.ID)
	if stored.Status != core.BackupStatusSynced {
		t.Fatalf("expected synced, got %s", stored.Status)
	}
}

func TestService_ClearSynced(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, &scriptedSender{})

	created := createDraft(t, service, "usr_1", core.BackupPriorityMedium)
	if _, err := service.SyncPending(context.Background(), "usr_1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	removed, err := service.ClearSynced(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("clear synced: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed, got %d", removed)
	}
	if _, err := store.Get(context.Background(), created.ID); err == nil {
		t.Fatalf("expected draft to be removed")
	}
}

func TestService_CreateWithSyncOnCreate(t *testing.T) {
	store := NewMemoryStore()
	sender := &scriptedSender{results: []senderResult{{reference: "HMRC-REF-NOW"}}}
	service := newTestService(t, store, sender, WithSyncOnCreate())

	created := createDraft(t, service, "usr_1", core.BackupPriorityHigh)
	if created.Status != core.BackupStatusSynced {
		t.Fatalf("expected immediate sync, got %s", created.Status)
	}
	if created.HMRCReference != "HMRC-REF-NOW" {
		t.Fatalf("expected receipt reference, got %q", created.HMRCReference)
	}
}

func TestService_LastSyncTracksPasses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, NewMemoryStore(), &scriptedSender{},
		WithNow(func() time.Time { return now }),
	)

	if last, _ := service.LastSync(); !last.IsZero() {
		t.Fatalf("expected zero last sync before any pass")
	}
	if _, err := service.SyncPending(context.Background(), ""); err != nil {
		t.Fatalf("sync: %v", err)
	}
	last, next := service.LastSync()
	if !last.Equal(now) {
		t.Fatalf("expected last sync %v, got %v", now, last)
	}
	if !next.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expected next sync 5m later, got %v", next)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(core.BackupConfig{}, nil, &scriptedSender{}); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := New(core.BackupConfig{}, NewMemoryStore(), nil); err == nil {
		t.Fatalf("expected missing sender error")
	}
}
