package server

import (
	"context"
	"errors"
	"io"

	"github.com/strata-io/strata/internal/objectstore"
)

// ObjectStoreChecker reports whether the checkpoint archive bucket is
// reachable. A missing key is fine; a missing bucket or denied access is not.
type ObjectStoreChecker struct {
	store objectstore.Store
	probe string
}

// NewObjectStoreChecker creates a checker that probes key, which is not
// expected to exist.
func NewObjectStoreChecker(store objectstore.Store, probe string) *ObjectStoreChecker {
	if probe == "" {
		probe = "strata-health-check-nonexistent-key"
	}
	return &ObjectStoreChecker{store: store, probe: probe}
}

func (c *ObjectStoreChecker) Name() string {
	return "object_store"
}

func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}

	rc, err := c.store.Get(ctx, c.probe)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil
		}
		return err
	}
	io.Copy(io.Discard, rc)
	rc.Close()
	return nil
}

// WorkerChecker reports a background worker as not ready once it has
// exited. A nil isRunning means the worker is not configured.
type WorkerChecker struct {
	name      string
	isRunning func() bool
	required  bool
}

// NewWorkerChecker creates a checker for a worker. When required is false a
// stopped worker is reported healthy, which covers workers that are disabled
// by configuration.
func NewWorkerChecker(name string, isRunning func() bool, required bool) *WorkerChecker {
	return &WorkerChecker{name: name, isRunning: isRunning, required: required}
}

func (c *WorkerChecker) Name() string {
	return c.name
}

func (c *WorkerChecker) CheckReady(ctx context.Context) error {
	if c.isRunning == nil || !c.required {
		return nil
	}
	if !c.isRunning() {
		return errors.New(c.name + " is not running")
	}
	return nil
}

// FuncChecker wraps a function as a ReadinessChecker.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
