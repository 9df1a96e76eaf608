package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

var exitSignals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

func InitSafeExit() {
	SafeExitInst = NewSafeExit()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, exitSignals...)
	go SafeExitInst.Listen(sigs)
}

// SafeExit turns the first termination signal into a cancelled context and
// an ordered run of registered cleanups. The process then winds down through
// main, so an interrupted task still reports its error and exit status. A
// second signal exits at once.
type SafeExit struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	funcs  []func()
	signal os.Signal
}

func NewSafeExit() *SafeExit {
	ctx, cancel := context.WithCancel(context.Background())
	return &SafeExit{ctx: ctx, cancel: cancel}
}

// Context is cancelled on the first termination signal.
func (s *SafeExit) Context() context.Context {
	return s.ctx
}

// Register adds a cleanup run on shutdown.
func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Signal is the signal that started the shutdown, if any.
func (s *SafeExit) Signal() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.signal
}

// Shutdown cancels Context and runs the cleanups once; later calls return
// false without doing anything.
func (s *SafeExit) Shutdown(sig os.Signal) bool {
	s.mu.Lock()
	if s.signal != nil {
		s.mu.Unlock()
		return false
	}
	s.signal = sig
	funcs := s.funcs
	s.mu.Unlock()

	s.cancel()
	for _, f := range funcs {
		f()
	}
	return true
}

// Listen shuts down on the first signal from sigs and force-exits on the
// next one.
func (s *SafeExit) Listen(sigs <-chan os.Signal) {
	started := false
	for sig := range sigs {
		if !started {
			started = true
			fmt.Fprintf(os.Stderr, "received signal %s, shutting down\n", sig)
			go s.Shutdown(sig)
			continue
		}
		fmt.Fprintf(os.Stderr, "received signal %s again, exiting now\n", sig)
		os.Exit(exitCode(sig))
	}
}

// exitCode follows the shell convention of 128 plus the signal number.
func exitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}
