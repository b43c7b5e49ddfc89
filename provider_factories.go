package hmrc

import (
	"github.com/goliatone/go-hmrc/core"
	hmrcprovider "github.com/goliatone/go-hmrc/providers/hmrc"
)

func HMRCProvider(cfg hmrcprovider.Config) (core.OAuthClient, error) {
	return hmrcprovider.New(cfg)
}

func HMRCProviderFromConfig(cfg core.Config, options ...func(*hmrcprovider.Config)) (core.OAuthClient, error) {
	return hmrcprovider.FromConfig(cfg, options...)
}

func HMRCSubmissionSender(cfg hmrcprovider.SubmissionSenderConfig, auth hmrcprovider.AuthedCaller) (core.SubmissionSender, error) {
	return hmrcprovider.NewSubmissionSender(cfg, auth)
}
