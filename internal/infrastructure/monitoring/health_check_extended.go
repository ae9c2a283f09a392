package monitoring

import (
	"context"
	"errors"
	"time"
)

var (
	errSignalingDown  = errors.New("signaling not connected")
	errSessionRemoved = errors.New("session removed by relay")
)

// AddSignalingCheck reports unhealthy while the relay connection is down.
func (h *HealthChecker) AddSignalingCheck(connected func() bool, interval, timeout time.Duration) {
	h.AddCheck("signaling", func(ctx context.Context) (bool, error) {
		if !connected() {
			return false, errSignalingDown
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionCheck reports unhealthy once the relay has removed the session.
func (h *HealthChecker) AddSessionCheck(removed func() bool, interval, timeout time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		if removed() {
			return false, errSessionRemoved
		}
		return true, nil
	}, interval, timeout)
}

// IsReady checks if the process can take control requests.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}
