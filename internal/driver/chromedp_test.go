// File: internal/driver/chromedp_test.go
package driver

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

func TestExecOptionsIncludeProxyAndExtraArgs(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless: true,
		Args:     []string{"no-zygote", "--lang=uk-UA"},
	}
	egress := schemas.EgressDescriptor{Host: "ua.gate.example.com", Port: 40001}

	opts := execOptions(cfg, egress)

	// Relative to the bare set: headless, proxy and the two extra args.
	base := execOptions(config.BrowserConfig{}, schemas.EgressDescriptor{})
	assert.Len(t, opts, len(base)+4)
}

func TestExecOptionsOmitsProxyWithoutEgress(t *testing.T) {
	with := execOptions(config.BrowserConfig{}, schemas.EgressDescriptor{Host: "h", Port: 1})
	without := execOptions(config.BrowserConfig{}, schemas.EgressDescriptor{})
	assert.Equal(t, len(without)+1, len(with))
}

func TestExecOptionsBaseIsDerivedFromChromedpDefaults(t *testing.T) {
	opts := execOptions(config.BrowserConfig{}, schemas.EgressDescriptor{})
	assert.Greater(t, len(opts), len(chromedp.DefaultExecAllocatorOptions))
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "failed_submit", sanitizeLabel("failed_submit"))
	assert.Equal(t, "failed_otp_wait_2", sanitizeLabel("failed otp/wait:2"))
}
