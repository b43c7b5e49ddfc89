package hmrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-hmrc/core"
)

// AuthedCaller runs an API call with a valid access token, retrying
// once after an auth failure. *core.AuthService satisfies it.
type AuthedCaller interface {
	ExecuteWithRetry(ctx context.Context, userID string, call core.AuthedCall) error
}

// SubmissionSenderConfig configures the submission sender.
type SubmissionSenderConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     core.HTTPDoer
	FraudHeaders   FraudHeaderSource
}

// SubmissionSender posts backed-up self assessment submissions to the
// HMRC API on behalf of a user. It implements core.SubmissionSender.
type SubmissionSender struct {
	cfg        SubmissionSenderConfig
	auth       AuthedCaller
	httpClient core.HTTPDoer
}

func NewSubmissionSender(cfg SubmissionSenderConfig, auth AuthedCaller) (*SubmissionSender, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("hmrc: submission base url is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("hmrc: authed caller is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTokenRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &SubmissionSender{
		cfg:        cfg,
		auth:       auth,
		httpClient: httpClient,
	}, nil
}

// Send submits the draft and returns the HMRC receipt reference.
func (s *SubmissionSender) Send(ctx context.Context, submission core.BackupSubmission) (string, error) {
	if s == nil {
		return "", fmt.Errorf("hmrc: submission sender is not configured")
	}
	if strings.TrimSpace(submission.UserID) == "" {
		return "", fmt.Errorf("hmrc: submission user id is required")
	}

	body := map[string]any{
		"submission_type": string(submission.SubmissionType),
		"tax_year":        submission.TaxYear,
		"data":            submission.Data,
		"checksum":        submission.Checksum,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("hmrc: encode submission: %w", err)
	}

	endpoint := s.cfg.BaseURL + submissionPath(submission.SubmissionType)

	var reference string
	callErr := s.auth.ExecuteWithRetry(ctx, submission.UserID, func(callCtx context.Context, accessToken string) error {
		ref, sendErr := s.post(callCtx, endpoint, accessToken, encoded)
		if sendErr != nil {
			return sendErr
		}
		reference = ref
		return nil
	})
	if callErr != nil {
		return "", callErr
	}
	return reference, nil
}

func (s *SubmissionSender) post(ctx context.Context, endpoint, accessToken string, body []byte) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/vnd.hmrc.1.0+json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if s.cfg.FraudHeaders != nil {
		headers, headerErr := s.cfg.FraudHeaders.FraudHeaders(ctx)
		if headerErr != nil {
			return "", fmt.Errorf("hmrc: resolve fraud prevention headers: %w", headerErr)
		}
		if validateErr := ValidateFraudHeaders(headers); validateErr != nil {
			return "", validateErr
		}
		for key, value := range headers {
			if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
				continue
			}
			httpReq.Header.Set(key, value)
		}
	}

	response, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("hmrc: submission request failed: %w", err)
	}
	defer response.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes))
	if readErr != nil {
		return "", fmt.Errorf("hmrc: read submission response: %w", readErr)
	}

	if !statusOK(response.StatusCode) {
		return "", fmt.Errorf(
			"hmrc: submission endpoint error (%d): %s",
			response.StatusCode,
			describeSubmissionError(raw),
		)
	}

	var decoded struct {
		Reference     string `json:"reference"`
		TransactionID string `json:"transactionReference"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if ref := strings.TrimSpace(decoded.Reference); ref != "" {
			return ref, nil
		}
		if ref := strings.TrimSpace(decoded.TransactionID); ref != "" {
			return ref, nil
		}
	}
	return "", fmt.Errorf("hmrc: submission response missing reference")
}

func submissionPath(kind core.SubmissionType) string {
	switch kind {
	case core.SubmissionTypePersonal:
		return "/self-assessment/individual/submissions"
	case core.SubmissionTypeCompany:
		return "/self-assessment/company/submissions"
	default:
		return "/self-assessment/submissions"
	}
}

func describeSubmissionError(raw []byte) string {
	var decoded struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		code := strings.TrimSpace(decoded.Code)
		message := strings.TrimSpace(decoded.Message)
		switch {
		case code != "" && message != "":
			return code + ": " + message
		case code != "":
			return code
		case message != "":
			return message
		}
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "unknown error"
	}
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}

var _ core.SubmissionSender = (*SubmissionSender)(nil)
