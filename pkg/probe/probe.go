package probe

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

type Outcome string

const (
	OutcomeHealthy     Outcome = "healthy"
	OutcomeUnhealthy   Outcome = "unhealthy"
	OutcomeUnreachable Outcome = "unreachable"
)

const (
	MessageConnectionRefused = "connection refused"
	MessageTimedOut          = "request timed out"
)

// maxDrain bounds how much of a response body is read before closing
const maxDrain = 64 * 1024

type Result struct {
	Outcome    Outcome
	StatusCode int
	Message    string
	Latency    time.Duration
}

type Options struct {
	InsecureSkipVerify bool
}

// Prober issues single HTTP GET health checks. It never retries.
type Prober struct {
	client *http.Client
}

func NewProber(options Options) *Prober {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	if options.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Prober{
		client: &http.Client{Transport: transport},
	}
}

// Probe checks url and compares the response status with expectedStatus.
// Connection failures and timeouts are Unreachable; a response with another
// status is Unhealthy.
func (p *Prober) Probe(ctx context.Context, target string, timeout time.Duration, expectedStatus int) Result {
	start := time.Now()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Outcome: OutcomeUnreachable, Message: fmt.Sprintf("invalid url: %v", err)}
	}
	req.Header.Set("User-Agent", "iiswatch-probe")

	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Outcome: OutcomeUnreachable, Message: describe(err), Latency: latency}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	if resp.StatusCode != expectedStatus {
		return Result{
			Outcome:    OutcomeUnhealthy,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d, expected %d", resp.StatusCode, expectedStatus),
			Latency:    latency,
		}
	}
	return Result{Outcome: OutcomeHealthy, StatusCode: resp.StatusCode, Latency: latency}
}

func describe(err error) string {
	if stderrors.Is(err, syscall.ECONNREFUSED) || isRefusedText(err.Error()) {
		return MessageConnectionRefused
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return MessageTimedOut
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return MessageTimedOut
	}
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return fmt.Sprintf("dns lookup failed: %s", dnsErr.Name)
	}
	if stderrors.Is(err, context.Canceled) {
		return "probe cancelled"
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// Windows reports WSAECONNREFUSED, which does not match syscall.ECONNREFUSED
func isRefusedText(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused")
}
