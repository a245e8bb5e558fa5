package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Mode != ModePoll || c.Store != StoreMemory {
		t.Errorf("Unexpected mode/store %s/%s", c.Mode, c.Store)
	}
	if c.Poll.Interval != 100*time.Millisecond || c.Poll.MaxRetries != 3 || c.Poll.ShutdownTimeout != 10*time.Second {
		t.Errorf("Unexpected poll defaults %+v", c.Poll)
	}
	if c.Subscriber.Subject != "transfers.>" || c.Subscriber.BatchSize != 100 || c.Subscriber.AutoCreate || c.Subscriber.MaxDeliver != 10 {
		t.Errorf("Unexpected subscriber defaults %+v", c.Subscriber)
	}
	if c.Loopback.Capacity != 100 || c.Loopback.Delay != 50*time.Millisecond {
		t.Errorf("Unexpected loopback defaults %+v", c.Loopback)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STEPQ_MODE", "broker")
	t.Setenv("STEPQ_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("STEPQ_POLL_INTERVAL", "250ms")
	t.Setenv("STEPQ_SUB_AUTO_CREATE", "true")
	t.Setenv("STEPQ_SUB_MAX_DELIVER", "5")
	t.Setenv("STEPQ_PUB_SUBJECT_PREFIX", "negotiations")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Mode != ModeBroker || c.Store != StoreRedis || c.RedisAddr != "redis:6379" {
		t.Errorf("Unexpected config %+v", c)
	}
	if c.Poll.Interval != 250*time.Millisecond {
		t.Errorf("Expected 250ms interval, got %v", c.Poll.Interval)
	}
	if !c.Subscriber.AutoCreate || c.Subscriber.MaxDeliver != 5 {
		t.Errorf("Unexpected subscriber %+v", c.Subscriber)
	}
	if c.Publisher.SubjectPrefix != "negotiations" {
		t.Errorf("Unexpected prefix %s", c.Publisher.SubjectPrefix)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STEPQ_POLL_INTERVAL", "soon"},
		{"STEPQ_POLL_INTERVAL", "-1s"},
		{"STEPQ_SUB_BATCH_SIZE", "0"},
		{"STEPQ_POLL_MAX_RETRIES", "-1"},
		{"STEPQ_SUB_AUTO_CREATE", "maybe"},
		{"STEPQ_MODE", "push"},
		{"STEPQ_STORE", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}
