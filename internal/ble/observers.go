package ble

import (
	"sync"

	"github.com/tbeylen/motionmount/internal/mount"
)

// observerList fans client events out to any number of subscribers. It
// replaces constructor callbacks so observers can attach and detach at
// runtime without the client knowing who is listening.
type observerList struct {
	mu          sync.Mutex
	nextID      int
	connection  map[int]func(bool)
	permissions map[int]func(mount.Permissions)
	distance    map[int]func(int)
	rotation    map[int]func(int)
}

func (o *observerList) add(register func(id int)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.connection == nil {
		o.connection = make(map[int]func(bool))
		o.permissions = make(map[int]func(mount.Permissions))
		o.distance = make(map[int]func(int))
		o.rotation = make(map[int]func(int))
	}
	id := o.nextID
	o.nextID++
	register(id)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.connection, id)
		delete(o.permissions, id)
		delete(o.distance, id)
		delete(o.rotation, id)
	}
}

// OnConnectionChange registers fn for session open/close events and
// returns an unsubscribe function.
func (c *Client) OnConnectionChange(fn func(connected bool)) func() {
	return c.observers.add(func(id int) { c.observers.connection[id] = fn })
}

// OnPermissions registers fn for permission snapshots taken at connect.
func (c *Client) OnPermissions(fn func(mount.Permissions)) func() {
	return c.observers.add(func(id int) { c.observers.permissions[id] = fn })
}

// OnDistance registers fn for distance push notifications.
func (c *Client) OnDistance(fn func(int)) func() {
	return c.observers.add(func(id int) { c.observers.distance[id] = fn })
}

// OnRotation registers fn for rotation push notifications.
func (c *Client) OnRotation(fn func(int)) func() {
	return c.observers.add(func(id int) { c.observers.rotation[id] = fn })
}

func (o *observerList) notifyConnection(connected bool) {
	for _, fn := range o.snapshotConnection() {
		fn(connected)
	}
}

func (o *observerList) notifyPermissions(p mount.Permissions) {
	o.mu.Lock()
	fns := make([]func(mount.Permissions), 0, len(o.permissions))
	for _, fn := range o.permissions {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (o *observerList) notifyDistance(v int) {
	o.mu.Lock()
	fns := make([]func(int), 0, len(o.distance))
	for _, fn := range o.distance {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (o *observerList) notifyRotation(v int) {
	o.mu.Lock()
	fns := make([]func(int), 0, len(o.rotation))
	for _, fn := range o.rotation {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (o *observerList) snapshotConnection() []func(bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fns := make([]func(bool), 0, len(o.connection))
	for _, fn := range o.connection {
		fns = append(fns, fn)
	}
	return fns
}
