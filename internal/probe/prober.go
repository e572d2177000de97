// Package probe polls service readiness checks until success, timeout, or
// cancellation.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"stackup/internal/runtime"
	"stackup/internal/spec"
)

// ReadinessTimeout reports a service that never became ready within its
// attempt budget or deadline. LastErr carries the final check failure;
// intermediate failures are swallowed.
type ReadinessTimeout struct {
	Service  string
	Attempts int
	LastErr  error
}

func (e *ReadinessTimeout) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("service %q not ready after %d attempts", e.Service, e.Attempts)
	}
	return fmt.Sprintf("service %q not ready after %d attempts: %v", e.Service, e.Attempts, e.LastErr)
}

func (e *ReadinessTimeout) Unwrap() error { return e.LastErr }

// Prober runs readiness checks against live containers.
type Prober struct {
	Runtime runtime.ContainerRuntime

	// Dial is the TCP check dialer; defaults to a plain net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
	// HTTP is the HTTP check client; defaults to http.DefaultClient.
	HTTP *http.Client
}

// NewProber creates a Prober against the given runtime.
func NewProber(rt runtime.ContainerRuntime) *Prober {
	dialer := &net.Dialer{}
	return &Prober{Runtime: rt, Dial: dialer.DialContext, HTTP: http.DefaultClient}
}

// Probe blocks until the service's readiness check succeeds or the policy is
// exhausted. Cancellation of ctx unblocks immediately and surfaces the
// context error, never a *ReadinessTimeout.
func (p *Prober) Probe(ctx context.Context, container string, svc spec.ServiceSpec) error {
	policy := svc.Readiness
	if policy.Kind == spec.CheckNone {
		return nil
	}

	probeCtx := ctx
	var cancel context.CancelFunc
	if policy.Deadline > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, policy.Deadline)
		defer cancel()
	}

	interval := policy.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	attempts := 0
	for policy.Attempts <= 0 || attempts < policy.Attempts {
		if probeCtx.Err() != nil {
			return expire(ctx, svc.Name, attempts, lastErr)
		}

		attempts++
		err := p.check(probeCtx, container, svc)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-probeCtx.Done():
			return expire(ctx, svc.Name, attempts, lastErr)
		case <-time.After(interval):
		}
	}

	return &ReadinessTimeout{Service: svc.Name, Attempts: attempts, LastErr: lastErr}
}

// expire distinguishes caller cancellation from deadline expiry.
func expire(parent context.Context, service string, attempts int, lastErr error) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return &ReadinessTimeout{Service: service, Attempts: attempts, LastErr: lastErr}
}

func (p *Prober) check(ctx context.Context, container string, svc spec.ServiceSpec) error {
	policy := svc.Readiness
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch policy.Kind {
	case spec.CheckTCP:
		return p.checkTCP(checkCtx, container, policy)
	case spec.CheckHTTP:
		return p.checkHTTP(checkCtx, container, policy)
	case spec.CheckExec:
		return p.checkExec(checkCtx, container, policy)
	default:
		return nil
	}
}

func (p *Prober) checkTCP(ctx context.Context, container string, policy spec.ReadinessPolicy) error {
	addr, err := p.address(ctx, container, policy.Port)
	if err != nil {
		return err
	}
	dial := p.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect %s: %w", addr, err)
	}
	return conn.Close()
}

func (p *Prober) checkHTTP(ctx context.Context, container string, policy spec.ReadinessPolicy) error {
	addr, err := p.address(ctx, container, policy.Port)
	if err != nil {
		return err
	}
	path := policy.Path
	if path == "" {
		path = "/"
	}
	url := "http://" + addr + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("http check %s: %w", url, err)
	}
	httpClient := p.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http check %s: %w", url, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("http check %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (p *Prober) checkExec(ctx context.Context, container string, policy spec.ReadinessPolicy) error {
	result, err := p.Runtime.ContainerExec(ctx, container, policy.Command)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("check command exited %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

// address resolves the container's IP on the stack network and joins the
// check port.
func (p *Prober) address(ctx context.Context, container string, port uint16) (string, error) {
	info, err := p.Runtime.ContainerInspect(ctx, container)
	if err != nil {
		return "", err
	}
	if !info.Exists || !info.Running {
		return "", fmt.Errorf("container %q is not running", container)
	}
	if info.Address == "" {
		return "", fmt.Errorf("container %q has no network address yet", container)
	}
	return net.JoinHostPort(info.Address, strconv.Itoa(int(port))), nil
}
