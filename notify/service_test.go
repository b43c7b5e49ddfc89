package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-hmrc/core"
)

type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *recordingListener) listen(_ context.Context, event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, event := range l.events {
		out = append(out, event.Name)
	}
	return out
}

type scriptedExecutor struct {
	errs  []error
	calls []core.RecoveryAction
}

func (e *scriptedExecutor) Execute(_ context.Context, action core.RecoveryAction, _ string) error {
	e.calls = append(e.calls, action)
	if len(e.errs) == 0 {
		return nil
	}
	err := e.errs[0]
	e.errs = e.errs[1:]
	return err
}

func newTestService(t *testing.T, executor RecoveryExecutor) (*Service, *recordingListener, *[]time.Duration) {
	t.Helper()
	waits := &[]time.Duration{}
	service := New(
		WithRecoveryExecutor(executor),
		WithNow(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		}),
		WithLaunch(func(run func()) { run() }),
	)
	listener := &recordingListener{}
	service.Subscribe(listener.listen)
	return service, listener, waits
}

func TestService_ShowErrorBuildsNotificationFromCatalog(t *testing.T) {
	service, listener, _ := newTestService(t, &scriptedExecutor{})

	notification, err := service.ShowError(context.Background(), "usr_1",
		fmt.Errorf("hmrc: submission endpoint error (400): VALIDATION_FAILED"),
		core.CodeValidationFailed, 400)
	if err != nil {
		t.Fatalf("show error: %v", err)
	}

	if notification.Code != core.CodeValidationFailed {
		t.Fatalf("unexpected code %q", notification.Code)
	}
	if notification.Title != "Submission rejected" {
		t.Fatalf("unexpected title %q", notification.Title)
	}
	if notification.Severity != core.SeverityError {
		t.Fatalf("unexpected severity %q", notification.Severity)
	}
	if len(notification.Actions) != 1 || notification.Actions[0].Kind != string(core.RecoveryValidateRequest) {
		t.Fatalf("unexpected actions %+v", notification.Actions)
	}

	names := listener.names()
	if len(names) != 2 || names[0] != EventErrorOccurred || names[1] != EventNotificationCreated {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestService_ShowErrorRunsAutomaticRecovery(t *testing.T) {
	executor := &scriptedExecutor{}
	service, listener, waits := newTestService(t, executor)

	notification, err := service.ShowError(context.Background(), "usr_1",
		fmt.Errorf("hmrc: token endpoint error (401): invalid_grant"),
		core.CodeTokenExpired, 401)
	if err != nil {
		t.Fatalf("show error: %v", err)
	}

	if len(executor.calls) != 2 ||
		executor.calls[0] != core.RecoveryRefreshToken ||
		executor.calls[1] != core.RecoveryRetry {
		t.Fatalf("unexpected executor calls %v", executor.calls)
	}

	want := []string{
		EventErrorOccurred,
		EventNotificationCreated,
		EventRecoveryStarted,
		EventRecoveryProgress,
		EventRecoveryProgress,
		EventRecoveryCompleted,
		EventErrorResolved,
		EventErrorDismissed,
	}
	names := listener.names()
	if len(names) != len(want) {
		t.Fatalf("unexpected event count %d: %v", len(names), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, names[i], want[i])
		}
	}

	// The auto-dismiss delay after resolution is the only wait.
	if len(*waits) != 1 || (*waits)[0] != 3*time.Second {
		t.Fatalf("unexpected waits %v", *waits)
	}

	stored := service.Notifications("usr_1", true)
	if len(stored) != 1 {
		t.Fatalf("expected one notification, got %d", len(stored))
	}
	if !stored[0].Resolved || !stored[0].Dismissed {
		t.Fatalf("notification not resolved and dismissed: %+v", stored[0])
	}
	_ = notification
}

func TestService_RecoveryFailureEscalates(t *testing.T) {
	executor := &scriptedExecutor{errs: []error{fmt.Errorf("refresh rejected")}}
	service, listener, _ := newTestService(t, executor)

	if _, err := service.ShowError(context.Background(), "usr_1",
		fmt.Errorf("hmrc: token endpoint error (401): invalid_grant"),
		core.CodeInvalidToken, 401); err != nil {
		t.Fatalf("show error: %v", err)
	}

	names := listener.names()
	sawFailed := false
	for _, name := range names {
		if name == EventRecoveryFailed {
			sawFailed = true
		}
		if name == EventRecoveryCompleted {
			t.Fatalf("recovery should not complete: %v", names)
		}
	}
	if !sawFailed {
		t.Fatalf("expected recovery_failed event, got %v", names)
	}

	notifications := service.Notifications("usr_1", true)
	if len(notifications) != 2 {
		t.Fatalf("expected escalated notification, got %d", len(notifications))
	}
	var escalated *Notification
	for i := range notifications {
		if notifications[i].Title == "Automatic recovery failed" {
			escalated = &notifications[i]
		}
	}
	if escalated == nil {
		t.Fatalf("escalated notification missing: %+v", notifications)
	}
	if len(escalated.Actions) != 2 || escalated.Actions[1].Kind != string(core.RecoveryContactSupport) {
		t.Fatalf("unexpected escalation actions %+v", escalated.Actions)
	}
}

func TestService_RateLimitWorkflowWaitsBeforeRetry(t *testing.T) {
	executor := &scriptedExecutor{}
	service, _, waits := newTestService(t, executor)

	if _, err := service.ShowError(context.Background(), "usr_1",
		fmt.Errorf("hmrc: token endpoint error (429)"),
		core.CodeRateLimitExceeded, 429); err != nil {
		t.Fatalf("show error: %v", err)
	}

	// 60s workflow wait, then the auto-dismiss delay.
	if len(*waits) != 2 || (*waits)[0] != 60*time.Second || (*waits)[1] != 3*time.Second {
		t.Fatalf("unexpected waits %v", *waits)
	}
	if len(executor.calls) != 1 || executor.calls[0] != core.RecoveryWaitAndRetry {
		t.Fatalf("unexpected executor calls %v", executor.calls)
	}
}

func TestService_ShowErrorFallsBackToClassification(t *testing.T) {
	service, _, _ := newTestService(t, &scriptedExecutor{})

	notification, err := service.ShowError(context.Background(), "usr_1",
		fmt.Errorf("hmrc: token endpoint error (400): invalid_grant: expired"), "", 400)
	if err != nil {
		t.Fatalf("show error: %v", err)
	}
	if notification.Code != strings.ToUpper(string(core.OAuthErrorInvalidGrant)) {
		t.Fatalf("unexpected code %q", notification.Code)
	}
	if notification.Message == "" {
		t.Fatalf("expected a user message")
	}
}

func TestService_ShowErrorRequiresUserID(t *testing.T) {
	service, _, _ := newTestService(t, &scriptedExecutor{})
	if _, err := service.ShowError(context.Background(), "  ", fmt.Errorf("boom"), "", 0); err == nil {
		t.Fatalf("expected user id validation error")
	}
}

func TestService_DismissFiltersListing(t *testing.T) {
	service, listener, _ := newTestService(t, &scriptedExecutor{})
	ctx := context.Background()

	first, err := service.ShowWarning(ctx, "usr_1", "Session stale", "Renew your HMRC session.", nil)
	if err != nil {
		t.Fatalf("show warning: %v", err)
	}
	if _, err := service.ShowWarning(ctx, "usr_1", "Submitted", "Your return needs review.", nil); err != nil {
		t.Fatalf("show warning: %v", err)
	}
	if _, err := service.ShowWarning(ctx, "usr_2", "Session stale", "Renew your HMRC session.", nil); err != nil {
		t.Fatalf("show warning other user: %v", err)
	}

	if err := service.Dismiss(ctx, first.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	visible := service.Notifications("usr_1", false)
	if len(visible) != 1 || visible[0].Title != "Submitted" {
		t.Fatalf("unexpected visible notifications %+v", visible)
	}
	all := service.Notifications("usr_1", true)
	if len(all) != 2 {
		t.Fatalf("expected 2 notifications including dismissed, got %d", len(all))
	}

	names := listener.names()
	if names[len(names)-1] != EventErrorDismissed {
		t.Fatalf("expected dismissed event last, got %v", names)
	}
}

func TestService_InfoAndSuccessAutoDismiss(t *testing.T) {
	service, listener, waits := newTestService(t, &scriptedExecutor{})
	ctx := context.Background()

	if _, err := service.ShowInfo(ctx, "usr_1", "Connected", "HMRC connection established."); err != nil {
		t.Fatalf("show info: %v", err)
	}
	if _, err := service.ShowSuccess(ctx, "usr_1", "Submitted", "Your return was submitted."); err != nil {
		t.Fatalf("show success: %v", err)
	}

	if len(*waits) != 2 {
		t.Fatalf("each transient banner should wait once before clearing, got %v", *waits)
	}
	for _, wait := range *waits {
		if wait != 3*time.Second {
			t.Fatalf("expected the 3s default display window, got %s", wait)
		}
	}

	stored := service.Notifications("usr_1", true)
	if len(stored) != 2 {
		t.Fatalf("expected both notifications retained, got %d", len(stored))
	}
	for _, notification := range stored {
		if !notification.Dismissed {
			t.Fatalf("banner %q should have cleared itself", notification.Title)
		}
	}
	if len(service.Notifications("usr_1", false)) != 0 {
		t.Fatalf("no transient banners should stay visible")
	}

	dismissed := 0
	for _, name := range listener.names() {
		if name == EventErrorDismissed {
			dismissed++
		}
	}
	if dismissed != 2 {
		t.Fatalf("expected a dismissed event per banner, got %v", listener.names())
	}
}

func TestService_AutoDismissWindowIsConfigurable(t *testing.T) {
	waits := []time.Duration{}
	service := New(
		WithAutoDismiss(10*time.Second),
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
		WithLaunch(func(run func()) { run() }),
	)

	if _, err := service.ShowSuccess(context.Background(), "usr_1", "Saved", "Draft saved."); err != nil {
		t.Fatalf("show success: %v", err)
	}
	if len(waits) != 1 || waits[0] != 10*time.Second {
		t.Fatalf("expected one 10s display window, got %v", waits)
	}
}

func TestService_HandleActionRefreshToken(t *testing.T) {
	executor := &scriptedExecutor{}
	service, _, _ := newTestService(t, executor)
	ctx := context.Background()

	notification, err := service.ShowWarning(ctx, "usr_1", "Session stale", "Renew your HMRC session.",
		[]Action{{ID: "refresh_token", Label: "Renew session", Kind: string(core.RecoveryRefreshToken)}})
	if err != nil {
		t.Fatalf("show warning: %v", err)
	}

	if err := service.HandleAction(ctx, notification.ID, "refresh_token"); err != nil {
		t.Fatalf("handle action: %v", err)
	}
	if len(executor.calls) != 1 || executor.calls[0] != core.RecoveryRefreshToken {
		t.Fatalf("unexpected executor calls %v", executor.calls)
	}
	stored := service.Notifications("usr_1", true)
	if len(stored) != 1 || !stored[0].Resolved {
		t.Fatalf("notification not resolved: %+v", stored)
	}
}

func TestService_HandleActionRejectsUnknown(t *testing.T) {
	service, _, _ := newTestService(t, &scriptedExecutor{})
	notification, err := service.ShowInfo(context.Background(), "usr_1", "Hello", "World")
	if err != nil {
		t.Fatalf("show info: %v", err)
	}
	if err := service.HandleAction(context.Background(), notification.ID, "nope"); err == nil {
		t.Fatalf("expected unknown action error")
	}
	if err := service.HandleAction(context.Background(), "missing", "retry"); err == nil {
		t.Fatalf("expected missing notification error")
	}
}

func TestService_UnsubscribeStopsDelivery(t *testing.T) {
	service, _, _ := newTestService(t, &scriptedExecutor{})
	extra := &recordingListener{}
	unsubscribe := service.Subscribe(extra.listen)

	if _, err := service.ShowWarning(context.Background(), "usr_1", "One", "first", nil); err != nil {
		t.Fatalf("show warning: %v", err)
	}
	unsubscribe()
	unsubscribe() // idempotent
	if _, err := service.ShowWarning(context.Background(), "usr_1", "Two", "second", nil); err != nil {
		t.Fatalf("show warning: %v", err)
	}

	if len(extra.names()) != 1 {
		t.Fatalf("expected one delivered event, got %v", extra.names())
	}
}

func TestService_RunRecoveryRequiresWorkflow(t *testing.T) {
	service, _, _ := newTestService(t, &scriptedExecutor{})
	notification, err := service.ShowError(context.Background(), "usr_1",
		fmt.Errorf("boom"), core.CodeValidationFailed, 400)
	if err != nil {
		t.Fatalf("show error: %v", err)
	}
	if _, err := service.RunRecovery(context.Background(), notification.ID); err == nil {
		t.Fatalf("expected missing workflow error")
	}
}
