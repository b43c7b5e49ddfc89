package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-hmrc/core"
)

// Notification lifecycle event names delivered to listeners.
const (
	EventErrorOccurred       = "error_occurred"
	EventErrorResolved       = "error_resolved"
	EventErrorDismissed      = "error_dismissed"
	EventRecoveryStarted     = "recovery_started"
	EventRecoveryProgress    = "recovery_progress"
	EventRecoveryCompleted   = "recovery_completed"
	EventRecoveryFailed      = "recovery_failed"
	EventNotificationCreated = "notification_created"
)

type NotificationType string

const (
	TypeError   NotificationType = "error"
	TypeSuccess NotificationType = "success"
	TypeWarning NotificationType = "warning"
	TypeInfo    NotificationType = "info"
)

// Action is a user-facing affordance attached to a notification.
type Action struct {
	ID    string
	Label string
	Kind  string
}

// Notification is one user-facing message with optional actions.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Code      string
	Title     string
	Message   string
	Guidance  string
	Severity  core.ErrorSeverity
	Actions   []Action
	Dismissed bool
	Resolved  bool
	CreatedAt time.Time
}

// Event is delivered to subscribed listeners on every lifecycle change.
type Event struct {
	Name         string
	Notification Notification
	Step         int
	TotalSteps   int
	Error        string
	At           time.Time
}

type Listener func(ctx context.Context, event Event)

// RecoveryExecutor performs one recovery action for a user. The notify
// service drives it step by step through registered workflows.
type RecoveryExecutor interface {
	Execute(ctx context.Context, action core.RecoveryAction, userID string) error
}

// RecoveryExecutorFunc adapts a function to RecoveryExecutor.
type RecoveryExecutorFunc func(ctx context.Context, action core.RecoveryAction, userID string) error

func (f RecoveryExecutorFunc) Execute(ctx context.Context, action core.RecoveryAction, userID string) error {
	return f(ctx, action, userID)
}

type nopExecutor struct{}

func (nopExecutor) Execute(context.Context, core.RecoveryAction, string) error { return nil }

// Service builds user notifications from classified provider failures and
// drives automatic recovery workflows.
type Service struct {
	logger   core.Logger
	metrics  core.MetricsRecorder
	executor RecoveryExecutor
	nowFn    func() time.Time
	idFn     func() string
	sleepFn  func(ctx context.Context, d time.Duration) error
	launchFn func(run func())

	autoDismiss time.Duration

	mu            sync.Mutex
	notifications map[string]*Notification
	listeners     map[string]Listener
	nextListener  int
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

func WithRecoveryExecutor(executor RecoveryExecutor) Option {
	return func(s *Service) {
		if executor != nil {
			s.executor = executor
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithAutoDismiss sets how long transient notifications stay visible
// before they clear themselves.
func WithAutoDismiss(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.autoDismiss = d
		}
	}
}

// WithSleep overrides recovery step waits, used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		if sleep != nil {
			s.sleepFn = sleep
		}
	}
}

// WithLaunch overrides how background work is started. The default runs
// it on a new goroutine; tests run it inline.
func WithLaunch(launch func(run func())) Option {
	return func(s *Service) {
		if launch != nil {
			s.launchFn = launch
		}
	}
}

func New(options ...Option) *Service {
	_, logger := glog.Resolve("hmrc-notify", nil, nil)
	service := &Service{
		logger:        logger,
		metrics:       core.NopMetricsRecorder{},
		executor:      nopExecutor{},
		nowFn:         func() time.Time { return time.Now().UTC() },
		idFn:          uuid.NewString,
		sleepFn:       waitWithContext,
		launchFn:      func(run func()) { go run() },
		autoDismiss:   3 * time.Second,
		notifications: map[string]*Notification{},
		listeners:     map[string]Listener{},
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service
}

// Subscribe registers a listener for notification lifecycle events. The
// returned function unsubscribes it and is idempotent.
func (s *Service) Subscribe(listener Listener) func() {
	if s == nil || listener == nil {
		return func() {}
	}
	s.mu.Lock()
	id := fmt.Sprintf("listener-%d", s.nextListener)
	s.nextListener++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// ShowError classifies a provider failure, stores a notification with
// the catalog's guidance and actions, and starts the registered recovery
// workflow when its steps are automatic.
func (s *Service) ShowError(ctx context.Context, userID string, cause error, code string, statusCode int) (Notification, error) {
	if s == nil {
		return Notification{}, fmt.Errorf("notify: service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Notification{}, fmt.Errorf("notify: user id is required")
	}

	classified := core.ClassifyOAuthError(cause, "", statusCode)
	entry := core.LookupCatalogEntry(code)
	if strings.TrimSpace(code) == "" {
		entry = catalogFromClassification(classified)
	}

	notification := Notification{
		ID:        s.idFn(),
		UserID:    userID,
		Type:      TypeError,
		Code:      entry.Code,
		Title:     entry.Title,
		Message:   pickMessage(entry, classified),
		Guidance:  entry.Guidance,
		Severity:  entry.Severity,
		Actions:   actionsFor(entry.Action),
		CreatedAt: s.nowFn().UTC(),
	}
	s.save(notification)

	s.emit(ctx, Event{Name: EventErrorOccurred, Notification: notification})
	s.emit(ctx, Event{Name: EventNotificationCreated, Notification: notification})
	s.metrics.IncCounter(ctx, "hmrc.notification.total", 1, map[string]string{
		"type":     string(TypeError),
		"severity": string(notification.Severity),
		"code":     notification.Code,
	})

	if workflow, ok := core.LookupRecoveryWorkflow(notification.Code); ok && allAutomatic(workflow) {
		notificationID := notification.ID
		s.launchFn(func() {
			if _, err := s.RunRecovery(context.WithoutCancel(ctx), notificationID); err != nil {
				s.logError(ctx, "automatic recovery failed", map[string]any{
					"notification_id": notificationID,
					"error":           err.Error(),
				})
			}
		})
	}
	return notification, nil
}

func (s *Service) ShowSuccess(ctx context.Context, userID, title, message string) (Notification, error) {
	return s.show(ctx, userID, TypeSuccess, core.SeverityInfo, title, message, nil)
}

func (s *Service) ShowWarning(ctx context.Context, userID, title, message string, actions []Action) (Notification, error) {
	return s.show(ctx, userID, TypeWarning, core.SeverityWarning, title, message, actions)
}

func (s *Service) ShowInfo(ctx context.Context, userID, title, message string) (Notification, error) {
	return s.show(ctx, userID, TypeInfo, core.SeverityInfo, title, message, nil)
}

func (s *Service) show(ctx context.Context, userID string, kind NotificationType, severity core.ErrorSeverity, title, message string, actions []Action) (Notification, error) {
	if s == nil {
		return Notification{}, fmt.Errorf("notify: service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Notification{}, fmt.Errorf("notify: user id is required")
	}
	notification := Notification{
		ID:        s.idFn(),
		UserID:    userID,
		Type:      kind,
		Title:     strings.TrimSpace(title),
		Message:   strings.TrimSpace(message),
		Severity:  severity,
		Actions:   append([]Action(nil), actions...),
		CreatedAt: s.nowFn().UTC(),
	}
	s.save(notification)
	s.emit(ctx, Event{Name: EventNotificationCreated, Notification: notification})
	s.metrics.IncCounter(ctx, "hmrc.notification.total", 1, map[string]string{
		"type":     string(kind),
		"severity": string(severity),
	})
	// Info and success banners clear themselves; warnings and errors
	// stay until the user acts on them.
	if kind == TypeInfo || kind == TypeSuccess {
		s.scheduleAutoDismiss(ctx, notification.ID)
	}
	return notification, nil
}

// Dismiss hides a notification.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("notify: service is not configured")
	}
	notification, err := s.update(id, func(n *Notification) { n.Dismissed = true })
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Name: EventErrorDismissed, Notification: notification})
	return nil
}

// Resolve marks an error notification resolved and auto-dismisses it
// after a short delay.
func (s *Service) Resolve(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("notify: service is not configured")
	}
	notification, err := s.update(id, func(n *Notification) { n.Resolved = true })
	if err != nil {
		return err
	}
	s.emit(ctx, Event{Name: EventErrorResolved, Notification: notification})
	s.scheduleAutoDismiss(ctx, notification.ID)
	return nil
}

func (s *Service) scheduleAutoDismiss(ctx context.Context, notificationID string) {
	s.launchFn(func() {
		if err := s.sleepFn(context.WithoutCancel(ctx), s.autoDismiss); err != nil {
			return
		}
		if err := s.Dismiss(context.WithoutCancel(ctx), notificationID); err != nil {
			s.logError(ctx, "auto dismiss failed", map[string]any{
				"notification_id": notificationID,
				"error":           err.Error(),
			})
		}
	})
}

// HandleAction reacts to a user tapping a notification action. Recovery
// actions run through the executor; informational actions only dismiss.
func (s *Service) HandleAction(ctx context.Context, notificationID, actionID string) error {
	if s == nil {
		return fmt.Errorf("notify: service is not configured")
	}
	notification, err := s.get(notificationID)
	if err != nil {
		return err
	}
	var action *Action
	for i := range notification.Actions {
		if notification.Actions[i].ID == strings.TrimSpace(actionID) {
			action = &notification.Actions[i]
			break
		}
	}
	if action == nil {
		return fmt.Errorf("notify: unknown action %q on notification %s", actionID, notificationID)
	}

	switch action.Kind {
	case string(core.RecoveryRetry), string(core.RecoveryRetryWithBackoff), string(core.RecoveryWaitAndRetry):
		if _, err := s.RunRecovery(ctx, notificationID); err != nil {
			return err
		}
		return nil
	case string(core.RecoveryRefreshToken):
		if err := s.executor.Execute(ctx, core.RecoveryRefreshToken, notification.UserID); err != nil {
			return err
		}
		return s.Resolve(ctx, notificationID)
	case string(core.RecoveryReauthorize):
		if err := s.executor.Execute(ctx, core.RecoveryReauthorize, notification.UserID); err != nil {
			return err
		}
		return s.Dismiss(ctx, notificationID)
	default:
		return s.Dismiss(ctx, notificationID)
	}
}

// RecoveryResult summarizes one workflow run.
type RecoveryResult struct {
	Code      string
	Steps     int
	Completed bool
}

// RunRecovery executes the workflow registered for the notification's
// code: sequential steps with progress events and context-aware waits.
// Failure emits recovery_failed and escalates with a fresh notification.
func (s *Service) RunRecovery(ctx context.Context, notificationID string) (RecoveryResult, error) {
	if s == nil {
		return RecoveryResult{}, fmt.Errorf("notify: service is not configured")
	}
	notification, err := s.get(notificationID)
	if err != nil {
		return RecoveryResult{}, err
	}
	workflow, ok := core.LookupRecoveryWorkflow(notification.Code)
	if !ok {
		return RecoveryResult{}, fmt.Errorf("notify: no recovery workflow for code %q", notification.Code)
	}

	total := len(workflow.Steps)
	s.emit(ctx, Event{Name: EventRecoveryStarted, Notification: notification, TotalSteps: total})

	for i, step := range workflow.Steps {
		s.emit(ctx, Event{
			Name:         EventRecoveryProgress,
			Notification: notification,
			Step:         i + 1,
			TotalSteps:   total,
		})
		if step.Wait > 0 {
			if err := s.sleepFn(ctx, step.Wait); err != nil {
				s.failRecovery(ctx, notification, i+1, total, err)
				return RecoveryResult{Code: workflow.Code, Steps: i}, err
			}
		}
		if err := s.executor.Execute(ctx, step.Action, notification.UserID); err != nil {
			s.failRecovery(ctx, notification, i+1, total, err)
			return RecoveryResult{Code: workflow.Code, Steps: i}, err
		}
	}

	s.emit(ctx, Event{Name: EventRecoveryCompleted, Notification: notification, Step: total, TotalSteps: total})
	if err := s.Resolve(ctx, notification.ID); err != nil {
		s.logError(ctx, "resolve after recovery failed", map[string]any{
			"notification_id": notification.ID,
			"error":           err.Error(),
		})
	}
	return RecoveryResult{Code: workflow.Code, Steps: total, Completed: true}, nil
}

func (s *Service) failRecovery(ctx context.Context, notification Notification, step, total int, cause error) {
	s.emit(ctx, Event{
		Name:         EventRecoveryFailed,
		Notification: notification,
		Step:         step,
		TotalSteps:   total,
		Error:        cause.Error(),
	})
	escalated := Notification{
		ID:       s.idFn(),
		UserID:   notification.UserID,
		Type:     TypeError,
		Code:     notification.Code,
		Title:    "Automatic recovery failed",
		Message:  "We could not recover from an HMRC error automatically.",
		Guidance: "Try again, or contact support if the problem persists.",
		Severity: core.SeverityError,
		Actions: []Action{
			{ID: "retry", Label: "Try again", Kind: string(core.RecoveryRetry)},
			{ID: "contact_support", Label: "Contact support", Kind: string(core.RecoveryContactSupport)},
		},
		CreatedAt: s.nowFn().UTC(),
	}
	s.save(escalated)
	s.emit(ctx, Event{Name: EventNotificationCreated, Notification: escalated})
}

// Notifications lists a user's notifications, newest first, without
// dismissed entries unless includeDismissed is set.
func (s *Service) Notifications(userID string, includeDismissed bool) []Notification {
	if s == nil {
		return nil
	}
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Notification{}
	for _, notification := range s.notifications {
		if userID != "" && notification.UserID != userID {
			continue
		}
		if notification.Dismissed && !includeDismissed {
			continue
		}
		out = append(out, *notification)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Service) save(notification Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := notification
	s.notifications[notification.ID] = &stored
}

func (s *Service) get(id string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notification, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return Notification{}, fmt.Errorf("notify: notification %s not found", strings.TrimSpace(id))
	}
	return *notification, nil
}

func (s *Service) update(id string, apply func(*Notification)) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notification, ok := s.notifications[strings.TrimSpace(id)]
	if !ok {
		return Notification{}, fmt.Errorf("notify: notification %s not found", strings.TrimSpace(id))
	}
	apply(notification)
	return *notification, nil
}

func (s *Service) emit(ctx context.Context, event Event) {
	event.At = s.nowFn().UTC()
	s.mu.Lock()
	ids := make([]string, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(ctx, event)
	}
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	logger.Error(message, args...)
}

func pickMessage(entry core.CatalogEntry, classified core.ClassifiedError) string {
	if strings.TrimSpace(entry.Message) != "" {
		return entry.Message
	}
	return classified.UserMessage
}

func catalogFromClassification(classified core.ClassifiedError) core.CatalogEntry {
	return core.CatalogEntry{
		Code:      strings.ToUpper(string(classified.Type)),
		Title:     "HMRC error",
		Message:   classified.UserMessage,
		Category:  classified.Category,
		Action:    classified.Action,
		Severity:  classified.Severity,
		Retryable: classified.Retryable,
	}
}

func actionsFor(action core.RecoveryAction) []Action {
	switch action {
	case core.RecoveryRetry:
		return []Action{{ID: "retry", Label: "Try again", Kind: string(core.RecoveryRetry)}}
	case core.RecoveryRetryWithBackoff, core.RecoveryWaitAndRetry:
		return []Action{{ID: "auto_retry", Label: "Retrying automatically", Kind: string(action)}}
	case core.RecoveryRefreshToken:
		return []Action{{ID: "refresh_token", Label: "Renew session", Kind: string(core.RecoveryRefreshToken)}}
	case core.RecoveryReauthorize:
		return []Action{{ID: "reauthorize", Label: "Reconnect HMRC", Kind: string(core.RecoveryReauthorize)}}
	case core.RecoveryValidateRequest:
		return []Action{{ID: "review", Label: "Review submission", Kind: string(core.RecoveryValidateRequest)}}
	case core.RecoveryCheckConfiguration:
		return []Action{{ID: "open_documentation", Label: "Open setup guide", Kind: string(core.RecoveryCheckConfiguration)}}
	case core.RecoveryContactSupport:
		return []Action{{ID: "contact_support", Label: "Contact support", Kind: string(core.RecoveryContactSupport)}}
	default:
		return nil
	}
}

func allAutomatic(workflow core.RecoveryWorkflow) bool {
	if len(workflow.Steps) == 0 {
		return false
	}
	for _, step := range workflow.Steps {
		if !step.Automatic {
			return false
		}
	}
	return true
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
