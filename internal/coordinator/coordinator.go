// Package coordinator orchestrates full-state refreshes of one mount and
// maintains the snapshot that hosts consume. It owns availability tracking,
// optimistic writes with read-back verification, and the idle-disconnect
// timer. One Coordinator per physical device.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbeylen/motionmount/internal/mount"
)

// Device is the mount client surface the coordinator drives. Implemented
// by ble.Client; tests substitute a scripted fake.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool
	Rediscover()

	ReadPermissions(ctx context.Context) (mount.Permissions, error)
	ReadAutoMove(ctx context.Context) (mount.AutoMoveType, error)
	ReadDistance(ctx context.Context) (int, error)
	ReadRotation(ctx context.Context) (int, error)
	ReadFreezePresetIndex(ctx context.Context) (int, error)
	ReadPreset(ctx context.Context, index int) (mount.Preset, error)
	ReadPresets(ctx context.Context) ([mount.NumPresets]mount.Preset, error)
	ReadVersions(ctx context.Context) (mount.Versions, error)

	RequestDistance(ctx context.Context, distance int) error
	RequestRotation(ctx context.Context, rotation int) error
	SetAutoMove(ctx context.Context, automove mount.AutoMoveType) error
	SetFreezePreset(ctx context.Context, index int) error
	SetPreset(ctx context.Context, preset mount.Preset) error
	SelectPreset(ctx context.Context, index int) error
	StartCalibration(ctx context.Context) error

	OnConnectionChange(fn func(connected bool)) func()
	OnDistance(fn func(int)) func()
	OnRotation(fn func(int)) func()
}

// Options configures refresh and reconnect behavior.
type Options struct {
	RefreshInterval time.Duration // periodic full refresh (default 5m)
	IdleTimeout     time.Duration // disconnect after inactivity, 0 disables
	AutoReconnect   bool          // refresh when the device reappears in a scan

	RetryDelay     time.Duration // wait before the single connection-loss retry
	DebounceWindow time.Duration // suppress seen-triggered refreshes after a disconnect
	FirstRefresh   time.Duration // bound on the initial refresh in Run
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		RefreshInterval: 5 * time.Minute,
		IdleTimeout:     3 * time.Minute,
		RetryDelay:      500 * time.Millisecond,
		DebounceWindow:  30 * time.Second,
		FirstRefresh:    60 * time.Second,
	}
}

// Coordinator keeps the mount snapshot current and consistent. All state
// transitions go through apply so observers always see whole snapshots.
type Coordinator struct {
	device Device
	opts   Options

	snapshot atomic.Pointer[mount.Snapshot]

	// notifyMu serializes subscriber delivery so callbacks never run
	// concurrently and always observe snapshots in commit order. It is
	// acquired before mu; subscriber callbacks must not invoke coordinator
	// write operations.
	notifyMu sync.Mutex

	mu             sync.Mutex
	subscribers    map[int]func(mount.Snapshot)
	nextID         int
	lastDisconnect time.Time
	idleTimer      *time.Timer
	failures       int // consecutive unreachable refreshes, drives Run's backoff
	closed         bool

	unsubscribe []func()
}

// New creates a coordinator for the given device. Option zero values are
// replaced with defaults.
func New(device Device, opts Options) *Coordinator {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 30 * time.Second
	}
	if opts.FirstRefresh <= 0 {
		opts.FirstRefresh = 60 * time.Second
	}

	c := &Coordinator{
		device:      device,
		opts:        opts,
		subscribers: make(map[int]func(mount.Snapshot)),
	}
	initial := mount.Snapshot{Versions: mount.UnknownVersions()}
	c.snapshot.Store(&initial)

	c.unsubscribe = append(c.unsubscribe,
		device.OnConnectionChange(c.onConnectionChange),
		device.OnDistance(c.onDistance),
		device.OnRotation(c.onRotation),
	)
	return c
}

// Snapshot returns the current state. The returned value is a copy; the
// caller may hold it indefinitely.
func (c *Coordinator) Snapshot() mount.Snapshot {
	return *c.snapshot.Load()
}

// Subscribe registers fn to receive every snapshot change and returns an
// unsubscribe function. fn is called synchronously with a copy.
func (c *Coordinator) Subscribe(fn func(mount.Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// apply swaps in the snapshot produced by mutate and notifies subscribers.
// mutate receives a private copy and must return the new state. Delivery
// holds notifyMu across the whole commit-and-notify sequence: concurrent
// writers (refresh loop, notification callbacks, caller writes) are
// delivered one at a time and in the order their snapshots were stored,
// so stateful subscribers like the Redis bridge need no locking of their
// own.
func (c *Coordinator) apply(mutate func(s *mount.Snapshot)) mount.Snapshot {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	next := *c.snapshot.Load()
	mutate(&next)
	c.snapshot.Store(&next)
	fns := make([]func(mount.Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	return next
}

// -------------------------------------------------------------------------
// Refresh

// Refresh reads the complete device state and swaps in a new snapshot.
// Authentication failures abort immediately. A connection loss is retried
// once after a short delay; a second loss clears availability and asks the
// transport to rediscover the device.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.touch()

	err := c.refreshOnce(ctx)
	if err == nil {
		c.resetFailures()
		return nil
	}

	var authErr *mount.AuthError
	if errors.As(err, &authErr) {
		c.apply(func(s *mount.Snapshot) { s.Connected = false })
		return err
	}

	var unreachable *mount.UnreachableError
	if errors.As(err, &unreachable) {
		slog.Debug("[coordinator] refresh lost connection, retrying once", "error", err)
		if serr := sleep(ctx, c.opts.RetryDelay); serr != nil {
			return serr
		}
		if err = c.refreshOnce(ctx); err == nil {
			c.resetFailures()
			return nil
		}
		if errors.As(err, &unreachable) {
			c.mu.Lock()
			c.failures++
			c.mu.Unlock()
			c.apply(func(s *mount.Snapshot) {
				s.Available = false
				s.Connected = false
			})
			c.device.Rediscover()
			return err
		}
	}
	if errors.As(err, &authErr) {
		c.apply(func(s *mount.Snapshot) { s.Connected = false })
		return err
	}

	c.apply(func(s *mount.Snapshot) { s.Available = false })
	return fmt.Errorf("coordinator: refresh: %w", err)
}

func (c *Coordinator) refreshOnce(ctx context.Context) error {
	permissions, err := c.device.ReadPermissions(ctx)
	if err != nil {
		return err
	}
	if permissions.AuthStatus != nil && permissions.AuthStatus.Type == mount.AuthWrong {
		return &mount.AuthError{
			Cooldown: permissions.AuthStatus.Cooldown,
			Reason:   "device reports wrong PIN",
		}
	}

	automove, err := c.device.ReadAutoMove(ctx)
	if err != nil {
		return err
	}
	distance, err := c.device.ReadDistance(ctx)
	if err != nil {
		return err
	}
	freeze, err := c.device.ReadFreezePresetIndex(ctx)
	if err != nil {
		return err
	}
	presets, err := c.device.ReadPresets(ctx)
	if err != nil {
		return err
	}
	rotation, err := c.device.ReadRotation(ctx)
	if err != nil {
		return err
	}
	// Versions degrade internally and never fail a refresh.
	versions, _ := c.device.ReadVersions(ctx)

	c.apply(func(s *mount.Snapshot) {
		s.Available = true
		s.Connected = c.device.Connected()
		s.Distance = distance
		s.Rotation = rotation
		s.RequestedDistance = nil
		s.RequestedRotation = nil
		s.AutoMove = &automove
		s.FreezePresetIndex = freeze
		s.Presets = presets
		s.Permissions = permissions
		s.Versions = versions
	})
	slog.Debug("[coordinator] refresh complete", "distance", distance, "rotation", rotation)
	return nil
}

// -------------------------------------------------------------------------
// Writes

// RequestDistance starts a move and records the target optimistically. The
// requested value stays in the snapshot until a refresh confirms the real
// position.
func (c *Coordinator) RequestDistance(ctx context.Context, distance int) error {
	c.touch()
	if err := c.device.RequestDistance(ctx, distance); err != nil {
		return err
	}
	c.apply(func(s *mount.Snapshot) {
		v := distance
		s.RequestedDistance = &v
	})
	return nil
}

// RequestRotation starts a rotation and records the target optimistically.
func (c *Coordinator) RequestRotation(ctx context.Context, rotation int) error {
	c.touch()
	if err := c.device.RequestRotation(ctx, rotation); err != nil {
		return err
	}
	c.apply(func(s *mount.Snapshot) {
		v := rotation
		s.RequestedRotation = &v
	})
	return nil
}

// SetAutoMove writes the automove trigger, reads it back, and applies the
// value the device actually holds. A read-back that differs from the
// request is reported as a MismatchError after the snapshot is updated.
func (c *Coordinator) SetAutoMove(ctx context.Context, automove mount.AutoMoveType) error {
	c.touch()
	if err := c.device.SetAutoMove(ctx, automove); err != nil {
		return err
	}
	actual, err := c.device.ReadAutoMove(ctx)
	if err != nil {
		return err
	}
	c.apply(func(s *mount.Snapshot) { s.AutoMove = &actual })
	if actual != automove {
		return &mount.MismatchError{Field: "automove", Expected: automove, Actual: actual}
	}
	return nil
}

// SetFreezePreset writes the automove target preset with read-back
// verification.
func (c *Coordinator) SetFreezePreset(ctx context.Context, index int) error {
	c.touch()
	if err := c.device.SetFreezePreset(ctx, index); err != nil {
		return err
	}
	actual, err := c.device.ReadFreezePresetIndex(ctx)
	if err != nil {
		return err
	}
	c.apply(func(s *mount.Snapshot) { s.FreezePresetIndex = actual })
	if actual != index {
		return &mount.MismatchError{Field: "freeze_preset", Expected: index, Actual: actual}
	}
	return nil
}

// SetPreset stores a preset slot with read-back verification. The snapshot
// takes whatever the device reports back, matching or not.
func (c *Coordinator) SetPreset(ctx context.Context, preset mount.Preset) error {
	c.touch()
	if err := c.device.SetPreset(ctx, preset); err != nil {
		return err
	}
	actual, err := c.device.ReadPreset(ctx, preset.Index)
	if err != nil {
		return err
	}
	c.apply(func(s *mount.Snapshot) { s.Presets[preset.Index] = actual })
	if !presetEqual(preset, actual) {
		return &mount.MismatchError{Field: "preset", Expected: preset, Actual: actual}
	}
	return nil
}

// SelectPreset activates a stored preset. The slot must hold data; an empty
// slot is rejected before any device traffic.
func (c *Coordinator) SelectPreset(ctx context.Context, index int) error {
	c.touch()
	if index < 0 || index >= mount.NumPresets {
		return fmt.Errorf("coordinator: preset index %d out of range", index)
	}
	if snap := c.snapshot.Load(); snap.Presets[index].Data == nil {
		return fmt.Errorf("coordinator: preset %d is empty", index)
	}
	return c.device.SelectPreset(ctx, index)
}

// StartCalibration triggers a calibration run on the device.
func (c *Coordinator) StartCalibration(ctx context.Context) error {
	c.touch()
	return c.device.StartCalibration(ctx)
}

// Connect opens the device session without refreshing.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.touch()
	return c.device.Connect(ctx)
}

// Disconnect tears the session down.
func (c *Coordinator) Disconnect() {
	c.device.Disconnect()
}

func presetEqual(a, b mount.Preset) bool {
	if (a.Data == nil) != (b.Data == nil) {
		return false
	}
	return a.Data == nil || *a.Data == *b.Data
}

// -------------------------------------------------------------------------
// Availability and discovery

// DeviceSeen is called by a discovery watcher when the mount shows up in a
// scan. Availability is restored immediately; a refresh is only triggered
// when auto-reconnect is on and the device was not deliberately
// disconnected within the debounce window.
func (c *Coordinator) DeviceSeen(ctx context.Context) {
	c.resetFailures()
	c.apply(func(s *mount.Snapshot) { s.Available = true })

	c.mu.Lock()
	recent := !c.lastDisconnect.IsZero() && time.Since(c.lastDisconnect) < c.opts.DebounceWindow
	c.mu.Unlock()

	if !c.opts.AutoReconnect || recent {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		slog.Debug("[coordinator] refresh after discovery failed", "error", err)
	}
}

// DeviceLost is called when the mount drops out of scan results. The
// transport forgets its cached handle so the next connect resolves the
// device from scratch.
func (c *Coordinator) DeviceLost() {
	c.apply(func(s *mount.Snapshot) {
		s.Available = false
		s.Connected = false
	})
	c.device.Rediscover()
}

func (c *Coordinator) onConnectionChange(connected bool) {
	if !connected {
		c.mu.Lock()
		c.lastDisconnect = time.Now()
		c.mu.Unlock()
	}
	c.apply(func(s *mount.Snapshot) {
		s.Connected = connected
		if connected {
			s.Available = true
		}
	})
}

func (c *Coordinator) onDistance(v int) {
	c.apply(func(s *mount.Snapshot) { s.Distance = v })
}

func (c *Coordinator) onRotation(v int) {
	c.apply(func(s *mount.Snapshot) { s.Rotation = v })
}

// -------------------------------------------------------------------------
// Idle disconnect and lifecycle

// touch marks activity and re-arms the idle-disconnect timer.
func (c *Coordinator) touch() {
	if c.opts.IdleTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.opts.IdleTimeout, func() {
		slog.Debug("[coordinator] idle timeout, disconnecting")
		c.device.Disconnect()
	})
}

// Run refreshes periodically until ctx is cancelled. The first refresh is
// bounded and its failure tolerated so a mount that is out of range at
// startup does not prevent the loop from running. While the device is
// unreachable the loop retries on a growing backoff instead of waiting a
// full refresh interval.
func (c *Coordinator) Run(ctx context.Context) error {
	first, cancel := context.WithTimeout(ctx, c.opts.FirstRefresh)
	if err := c.Refresh(first); err != nil {
		slog.Warn("[coordinator] initial refresh failed", "error", err)
	}
	cancel()

	for {
		c.mu.Lock()
		failures := c.failures
		c.mu.Unlock()

		delay := c.opts.RefreshInterval
		if failures > 0 {
			delay = backoffDelay(failures, c.opts.RefreshInterval)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		if err := c.Refresh(ctx); err != nil {
			slog.Warn("[coordinator] refresh failed", "error", err)
		}
	}
}

func (c *Coordinator) resetFailures() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

// backoffDelay returns 2^attempt seconds, capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt > 12 {
		attempt = 12
	}
	d := time.Second << attempt
	if d > max {
		return max
	}
	return d
}

// Close stops timers, detaches from the device, and disconnects. Safe to
// call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	c.device.Disconnect()
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
