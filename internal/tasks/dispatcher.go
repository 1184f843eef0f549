package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// Dispatcher runs registered tasks on their own goroutines. Callers
// never block on task completion; outcomes are observed through logs
// and whatever state the handler itself persists. Wait exists so tests
// can observe dispatched work deterministically.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given registry
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  30 * time.Second,
	}
}

// Dispatch fires a task asynchronously. Unknown task names are logged
// and dropped; a panicking handler is contained and logged.
func (d *Dispatcher) Dispatch(name string, args map[string]interface{}) {
	handler, found := d.registry.Get(name)
	if !found {
		log.Printf("Task handler not found for: %s, dropping", name)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Task %s panicked: %v", name, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		result, err := handler(ctx, args)
		if err != nil {
			log.Printf("Task %s failed after %s: %v", name, time.Since(start), err)
			return
		}
		log.Printf("Task %s completed in %s: %v", name, time.Since(start), result)
	}()
}

// Wait blocks until every task dispatched so far has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
