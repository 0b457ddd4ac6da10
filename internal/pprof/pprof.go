// Package pprof profiles a running server: CPU and heap profiles written to
// files on exit, and the net/http/pprof endpoints mounted on the gateway.
package pprof

import (
	"errors"
	"fmt"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// Config names the profile files. Empty paths are skipped.
type Config struct {
	CPUProfile       string
	HeapProfile      string
	GoroutineProfile string
}

// Enabled reports whether any file profile is configured.
func (c Config) Enabled() bool {
	return c.CPUProfile != "" || c.HeapProfile != "" || c.GoroutineProfile != ""
}

// Profiler writes the configured profiles.
type Profiler struct {
	config  Config
	cpuFile *os.File

	mu      sync.Mutex
	stopped bool
}

// Start begins CPU profiling if configured. Stop writes the remaining profiles.
func Start(config Config) (*Profiler, error) {
	p := &Profiler{config: config}
	if config.CPUProfile == "" {
		return p, nil
	}

	f, err := create(config.CPUProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	p.cpuFile = f
	return p, nil
}

// Stop stops CPU profiling and writes the heap and goroutine profiles. Only the
// first call has an effect.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		p.cpuFile = nil
	}
	if p.config.HeapProfile != "" {
		errs = append(errs, writeProfile("heap", p.config.HeapProfile))
	}
	if p.config.GoroutineProfile != "" {
		errs = append(errs, writeProfile("goroutine", p.config.GoroutineProfile))
	}
	return errors.Join(errs...)
}

// Register mounts the net/http/pprof endpoints under /debug/pprof.
func Register(router *httprouter.Router) {
	router.Handler(http.MethodGet, "/debug/pprof/", http.HandlerFunc(netpprof.Index))
	router.Handler(http.MethodGet, "/debug/pprof/cmdline", http.HandlerFunc(netpprof.Cmdline))
	router.Handler(http.MethodGet, "/debug/pprof/profile", http.HandlerFunc(netpprof.Profile))
	router.Handler(http.MethodGet, "/debug/pprof/symbol", http.HandlerFunc(netpprof.Symbol))
	router.Handler(http.MethodGet, "/debug/pprof/trace", http.HandlerFunc(netpprof.Trace))
	for _, name := range []string{"goroutine", "heap", "block", "mutex", "threadcreate", "allocs"} {
		router.Handler(http.MethodGet, "/debug/pprof/"+name, netpprof.Handler(name))
	}
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// writeProfile writes a named profile to a file
func writeProfile(name, path string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer f.Close()
	if err := p.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
