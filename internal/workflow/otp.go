// File: internal/workflow/otp.go
// Description: OTP sources. The default is an operator prompt on the
// terminal; a channel-backed source serves programmatic integrations and
// tests. Both honor context cancellation, which carries the OTP window
// deadline set by the engine.

package workflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

// PromptOTPSource reads the code from an interactive operator. Entering the
// skip token abandons the resource (it burns, the OTP was already sent).
type PromptOTPSource struct {
	In        io.Reader
	Out       io.Writer
	SkipToken string
	Logger    *zap.Logger
}

var _ schemas.OTPSource = (*PromptOTPSource)(nil)

// NewPromptOTPSource builds a prompt source over the given streams.
func NewPromptOTPSource(in io.Reader, out io.Writer, skipToken string, logger *zap.Logger) *PromptOTPSource {
	return &PromptOTPSource{In: in, Out: out, SkipToken: skipToken, Logger: logger.Named("otp")}
}

// Code implements schemas.OTPSource. The blocking read runs in its own
// goroutine so the context deadline can interrupt the wait; a late line from
// an abandoned prompt is discarded.
func (p *PromptOTPSource) Code(ctx context.Context, resourceNumber string) (string, error) {
	// resourceNumber arrives already formatted with its leading "+".
	fmt.Fprintf(p.Out, "\nEnter the SMS code sent to %s (or %q to abandon this number): ", resourceNumber, p.SkipToken)

	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(p.In)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.Out)
		if ctx.Err() == context.DeadlineExceeded {
			return "", schemas.ErrOTPTimeout
		}
		return "", ctx.Err()
	case err := <-errs:
		return "", fmt.Errorf("failed to read code: %w", err)
	case line := <-lines:
		if line == "" || strings.EqualFold(line, p.SkipToken) {
			p.Logger.Info("Operator skipped the code entry.", zap.String("resource", resourceNumber))
			return "", schemas.ErrOTPSkipped
		}
		return line, nil
	}
}

// ChannelOTPSource delivers codes pushed by an external integration, keyed
// by resource number.
type ChannelOTPSource struct {
	codes chan delivery
}

type delivery struct {
	number string
	code   string
}

var _ schemas.OTPSource = (*ChannelOTPSource)(nil)

// NewChannelOTPSource builds an empty channel source.
func NewChannelOTPSource() *ChannelOTPSource {
	return &ChannelOTPSource{codes: make(chan delivery, 16)}
}

// Deliver hands a received code to a waiting attempt.
func (c *ChannelOTPSource) Deliver(resourceNumber, code string) {
	c.codes <- delivery{number: resourceNumber, code: code}
}

// Code implements schemas.OTPSource. Codes for other numbers are dropped;
// each attempt waits on its own resource.
func (c *ChannelOTPSource) Code(ctx context.Context, resourceNumber string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return "", schemas.ErrOTPTimeout
			}
			return "", ctx.Err()
		case d := <-c.codes:
			if d.number == resourceNumber {
				return d.code, nil
			}
		}
	}
}
