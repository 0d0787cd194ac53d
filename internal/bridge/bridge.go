// Package bridge mirrors mount snapshots into Redis so other processes on
// the host can consume device state without speaking BLE. State lives in a
// hash under the configured prefix; every changed field is additionally
// published as "field:value" on a channel of the same name.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/tbeylen/motionmount/internal/mount"
)

// Bridge publishes snapshot changes to one Redis hash + pub/sub channel.
type Bridge struct {
	client *redis.Client
	key    string

	last map[string]string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, addr, prefix string) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bridge: connect to redis: %w", err)
	}
	return &Bridge{
		client: client,
		key:    prefix,
	}, nil
}

// Publish writes every field that changed since the last call. The full
// hash is written on the first call so a fresh consumer sees complete
// state. Not safe for concurrent use: callers must deliver snapshots one
// at a time, which coordinator.Subscribe guarantees.
func (b *Bridge) Publish(ctx context.Context, snapshot mount.Snapshot) error {
	fields := Fields(snapshot)

	changed := make(map[string]string)
	for field, value := range fields {
		if b.last == nil || b.last[field] != value {
			changed[field] = value
		}
	}
	// Fields can disappear (requested_* clearing after a refresh).
	var removed []string
	for field := range b.last {
		if _, ok := fields[field]; !ok {
			removed = append(removed, field)
		}
	}
	if len(changed) == 0 && len(removed) == 0 {
		return nil
	}

	pipe := b.client.Pipeline()
	for field, value := range changed {
		pipe.HSet(ctx, b.key, field, value)
		pipe.Publish(ctx, b.key, field+":"+value)
	}
	for _, field := range removed {
		pipe.HDel(ctx, b.key, field)
		pipe.Publish(ctx, b.key, field+":")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bridge: publish: %w", err)
	}

	slog.Debug("[bridge] published", "key", b.key, "changed", len(changed), "removed", len(removed))
	b.last = fields
	return nil
}

// Close releases the Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}

// Fields flattens a snapshot into the hash representation. Pointer fields
// that are unset produce no entry; booleans are "true"/"false"; presets
// appear as preset_<n>_* triples for occupied slots only.
func Fields(s mount.Snapshot) map[string]string {
	fields := map[string]string{
		"available":     strconv.FormatBool(s.Available),
		"connected":     strconv.FormatBool(s.Connected),
		"distance":      strconv.Itoa(s.Distance),
		"rotation":      strconv.Itoa(s.Rotation),
		"freeze_preset": strconv.Itoa(s.FreezePresetIndex),

		"version_ceb_bl": s.Versions.CEBBootloader,
		"version_mcp_hw": s.Versions.MCPHardware,
		"version_mcp_bl": s.Versions.MCPBootloader,
		"version_mcp_fw": s.Versions.MCPFirmware,
	}

	if s.RequestedDistance != nil {
		fields["requested_distance"] = strconv.Itoa(*s.RequestedDistance)
	}
	if s.RequestedRotation != nil {
		fields["requested_rotation"] = strconv.Itoa(*s.RequestedRotation)
	}
	if s.AutoMove != nil {
		fields["automove"] = s.AutoMove.String()
		fields["automove_option"] = s.AutoMove.Option()
	}

	for _, preset := range s.Presets {
		if preset.Data == nil {
			continue
		}
		prefix := fmt.Sprintf("preset_%d_", preset.Index)
		fields[prefix+"name"] = preset.Data.Name
		fields[prefix+"distance"] = strconv.Itoa(preset.Data.Distance)
		fields[prefix+"rotation"] = strconv.Itoa(preset.Data.Rotation)
	}

	return fields
}
