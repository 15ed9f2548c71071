package httputil

import (
	"testing"
	"time"
)

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(DefaultUnaryTimeout)
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
}

func TestNewHTTPClient_CustomTimeout(t *testing.T) {
	c := NewHTTPClient(2 * time.Second)
	if c.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", c.Timeout)
	}
}

func TestNewKeepAliveTransport_Defaults(t *testing.T) {
	tr := NewKeepAliveTransport(0, 0, 0)
	if tr.MaxConnsPerHost != DefaultMaxConnsPerHost {
		t.Errorf("MaxConnsPerHost = %d, want %d", tr.MaxConnsPerHost, DefaultMaxConnsPerHost)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
	if tr.IdleConnTimeout != DefaultIdleConnTimeout {
		t.Errorf("IdleConnTimeout = %v, want %v", tr.IdleConnTimeout, DefaultIdleConnTimeout)
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 = false, want true")
	}
}

func TestNewKeepAliveTransport_Overrides(t *testing.T) {
	tr := NewKeepAliveTransport(20, 8, time.Minute)
	if tr.MaxConnsPerHost != 20 {
		t.Errorf("MaxConnsPerHost = %d, want 20", tr.MaxConnsPerHost)
	}
	if tr.MaxIdleConnsPerHost != 8 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 8", tr.MaxIdleConnsPerHost)
	}
	if tr.IdleConnTimeout != time.Minute {
		t.Errorf("IdleConnTimeout = %v, want 1m", tr.IdleConnTimeout)
	}
}
