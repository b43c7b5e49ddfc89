package hmrc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/goliatone/go-hmrc/core"
)

type passthroughCaller struct {
	token string
	calls int
}

func (c *passthroughCaller) ExecuteWithRetry(ctx context.Context, _ string, call core.AuthedCall) error {
	c.calls++
	return call(ctx, c.token)
}

func TestSubmissionSender_SendPostsDraftAndReturnsReference(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status: http.StatusCreated,
		body:   `{"reference": "HMRC-REF-123"}`,
	}}}
	caller := &passthroughCaller{token: "access-1"}
	sender, err := NewSubmissionSender(SubmissionSenderConfig{
		BaseURL:    "https://test-api.service.hmrc.gov.uk",
		HTTPClient: doer,
	}, caller)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	reference, err := sender.Send(context.Background(), core.BackupSubmission{
		ID:             "bkp_1",
		UserID:         "usr_1",
		SubmissionType: core.SubmissionTypePersonal,
		TaxYear:        "2024-25",
		Data:           map[string]any{"income": 42000.0},
		Checksum:       "abc123",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reference != "HMRC-REF-123" {
		t.Fatalf("expected receipt reference, got %q", reference)
	}
	if caller.calls != 1 {
		t.Fatalf("expected one authed call, got %d", caller.calls)
	}

	request := doer.requests[len(doer.requests)-1]
	if request.Header.Get("Authorization") != "Bearer access-1" {
		t.Fatalf("expected bearer auth header, got %q", request.Header.Get("Authorization"))
	}
	if !strings.HasSuffix(request.URL.Path, "/self-assessment/individual/submissions") {
		t.Fatalf("unexpected submission path %s", request.URL.Path)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(doer.bodies[len(doer.bodies)-1]), &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent["tax_year"] != "2024-25" {
		t.Fatalf("expected tax year in body, got %v", sent["tax_year"])
	}
	if sent["checksum"] != "abc123" {
		t.Fatalf("expected checksum in body, got %v", sent["checksum"])
	}
}

func TestSubmissionSender_SendSurfacesUpstreamErrors(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status: http.StatusConflict,
		body:   `{"code": "DUPLICATE_SUBMISSION", "message": "submission already exists"}`,
	}}}
	sender, err := NewSubmissionSender(SubmissionSenderConfig{
		BaseURL:    "https://test-api.service.hmrc.gov.uk",
		HTTPClient: doer,
	}, &passthroughCaller{token: "access-1"})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	_, sendErr := sender.Send(context.Background(), core.BackupSubmission{
		UserID:         "usr_1",
		SubmissionType: core.SubmissionTypePersonal,
	})
	if sendErr == nil {
		t.Fatalf("expected upstream error")
	}
	if !strings.Contains(sendErr.Error(), "already exists") {
		t.Fatalf("expected conflict message, got %v", sendErr)
	}
	if !strings.Contains(sendErr.Error(), "409") {
		t.Fatalf("expected status in error, got %v", sendErr)
	}
}

func TestSubmissionSender_SendRequiresUserID(t *testing.T) {
	sender, err := NewSubmissionSender(SubmissionSenderConfig{
		BaseURL:    "https://test-api.service.hmrc.gov.uk",
		HTTPClient: &scriptedDoer{},
	}, &passthroughCaller{})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if _, err := sender.Send(context.Background(), core.BackupSubmission{}); err == nil {
		t.Fatalf("expected missing user id error")
	}
}

func TestSubmissionSender_PropagatesAuthFailures(t *testing.T) {
	sender, err := NewSubmissionSender(SubmissionSenderConfig{
		BaseURL:    "https://test-api.service.hmrc.gov.uk",
		HTTPClient: &scriptedDoer{},
	}, failingCaller{})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	_, sendErr := sender.Send(context.Background(), core.BackupSubmission{UserID: "usr_1"})
	if sendErr == nil || !strings.Contains(sendErr.Error(), "no valid token") {
		t.Fatalf("expected auth failure, got %v", sendErr)
	}
}

type failingCaller struct{}

func (failingCaller) ExecuteWithRetry(context.Context, string, core.AuthedCall) error {
	return fmt.Errorf("no valid token")
}
