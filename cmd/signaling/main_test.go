package main

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_HOST", "")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	quietEnv(t)
	err := run(context.Background(), []string{"-rtc-min-port", "70000"})
	if !errors.Is(err, errConfig) {
		t.Fatalf("err=%v, want errConfig", err)
	}
}

func TestRunReturnsListenError(t *testing.T) {
	quietEnv(t)
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := strconv.Itoa(l.Addr().(*net.TCPAddr).Port)

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), []string{"-port", port}) }()
	select {
	case err := <-done:
		if err == nil || errors.Is(err, errConfig) {
			t.Fatalf("err=%v, want a listen error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the listener failed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	quietEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-port", "0"}) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
