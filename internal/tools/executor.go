package tools

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Registry maps capability names to tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry over the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Executor runs a selected set of tools concurrently under a shared phase
// deadline, with an individual timeout per tool. A tool that fails or times
// out contributes a typed failure; the batch as a whole never errors.
type Executor struct {
	registry     *Registry
	toolTimeout  time.Duration
	phaseTimeout time.Duration
}

// NewExecutor creates an executor. Zero timeouts default to 10s per tool
// and 15s for the whole phase.
func NewExecutor(registry *Registry, toolTimeout, phaseTimeout time.Duration) *Executor {
	if toolTimeout <= 0 {
		toolTimeout = 10 * time.Second
	}
	if phaseTimeout <= 0 {
		phaseTimeout = 15 * time.Second
	}
	return &Executor{registry: registry, toolTimeout: toolTimeout, phaseTimeout: phaseTimeout}
}

// Execute invokes every named capability concurrently and returns one Result
// per capability, in the order requested. Unknown capabilities yield a
// "bad_input" failure. Results are deterministic in order even though
// execution is concurrent.
func (e *Executor) Execute(ctx context.Context, capabilities []string, args Args) []*Result {
	ctx, cancel := context.WithTimeout(ctx, e.phaseTimeout)
	defer cancel()

	results := make([]*Result, len(capabilities))
	var wg sync.WaitGroup
	for i, name := range capabilities {
		tool, ok := e.registry.Get(name)
		if !ok {
			results[i] = failure(name, "bad_input", errors.New("unknown capability"))
			continue
		}

		wg.Add(1)
		go func(i int, tool Tool) {
			defer wg.Done()
			results[i] = e.invokeOne(ctx, tool, args)
		}(i, tool)
	}
	wg.Wait()
	return results
}

func (e *Executor) invokeOne(ctx context.Context, tool Tool, args Args) *Result {
	ctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: tool %s panicked: %v", tool.Name(), r)
				done <- failure(tool.Name(), "unavailable", errors.New("tool panicked"))
			}
		}()
		done <- tool.Invoke(ctx, args)
	}()

	select {
	case result := <-done:
		if result == nil {
			return failure(tool.Name(), "unavailable", errors.New("tool returned no result"))
		}
		return result
	case <-ctx.Done():
		// The tool goroutine keeps running until it observes ctx itself;
		// its late result lands in the buffered channel and is dropped.
		return failure(tool.Name(), "timeout", ctx.Err())
	}
}

// Attempted lists the capability of every result.
func Attempted(results []*Result) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		if r != nil {
			names = append(names, r.Capability)
		}
	}
	return names
}

// Succeeded lists the capabilities whose invocation produced a usable result.
func Succeeded(results []*Result) []string {
	var names []string
	for _, r := range results {
		if r.OK() {
			names = append(names, r.Capability)
		}
	}
	return names
}

// MergedSources concatenates the sources of successful results, preserving
// result order and dropping duplicate source IDs.
func MergedSources(results []*Result) []Source {
	var out []Source
	seen := make(map[string]bool)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		for _, s := range r.Sources {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}
