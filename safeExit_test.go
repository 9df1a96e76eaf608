package main

import (
	"os"
	"reflect"
	"syscall"
	"testing"
	"time"
)

func TestSafeExitShutdownRunsCleanupsOnce(t *testing.T) {
	s := NewSafeExit()
	var order []int
	s.Register(func() { order = append(order, 1) })
	s.Register(func() { order = append(order, 2) })

	if !s.Shutdown(syscall.SIGTERM) {
		t.Fatal("first Shutdown reported already stopped")
	}
	if s.Shutdown(syscall.SIGINT) {
		t.Error("second Shutdown ran again")
	}
	if !reflect.DeepEqual(order, []int{1, 2}) {
		t.Errorf("cleanups ran as %v, want [1 2]", order)
	}
	if s.Context().Err() == nil {
		t.Error("context not cancelled")
	}
	if s.Signal() != syscall.SIGTERM {
		t.Errorf("Signal() = %v, want the first signal", s.Signal())
	}
}

func TestSafeExitListenCancelsOnFirstSignal(t *testing.T) {
	s := NewSafeExit()
	ran := make(chan struct{})
	s.Register(func() { close(ran) })

	sigs := make(chan os.Signal, 1)
	go s.Listen(sigs)
	sigs <- syscall.SIGINT

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after a signal")
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run")
	}
	close(sigs)
}

func TestExitCode(t *testing.T) {
	if got := exitCode(syscall.SIGINT); got != 130 {
		t.Errorf("exitCode(SIGINT) = %d, want 130", got)
	}
	if got := exitCode(syscall.SIGTERM); got != 143 {
		t.Errorf("exitCode(SIGTERM) = %d, want 143", got)
	}
}
