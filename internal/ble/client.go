package ble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tbeylen/motionmount/internal/ble/protocol"
	"github.com/tbeylen/motionmount/internal/mount"
)

// Variant selects the device generation. The two generations differ in
// how a preset is activated and in whether PIN authentication exists.
type Variant string

const (
	// VariantLegacy devices have a dedicated select-preset characteristic
	// and the PIN authentication scheme.
	VariantLegacy Variant = "legacy"
	// VariantNext devices have no select characteristic; activating a
	// preset drives distance/rotation directly and verifies convergence.
	VariantNext Variant = "next"
)

// Options configures the BLE client behavior.
type Options struct {
	Variant       Variant
	PIN           int  // 0 = no PIN configured
	SupervisorPIN bool // encode the PIN with the supervisor transform

	BusyRetries       int           // attempts for transient device-busy errors
	RetryDelay        time.Duration // delay between busy retries (default 1s)
	SettleDelay       time.Duration // wait for physical movement during preset verification
	Tolerance         int           // position tolerance for preset verification
	NotifyRetryDelay  time.Duration // base backoff for notification setup retries
	KeepAliveInterval time.Duration // 0 disables the keep-alive read
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Variant:          VariantNext,
		BusyRetries:      3,
		RetryDelay:       time.Second,
		SettleDelay:      3 * time.Second,
		Tolerance:        5,
		NotifyRetryDelay: 500 * time.Millisecond,
	}
}

// session is one physical connection plus the permission snapshot taken
// at connect time. Short-lived: replaced wholesale on every reconnect.
type session struct {
	conn        Connection
	permissions *mount.Permissions

	stopKeepAlive chan struct{}
	keepAliveOnce sync.Once
}

func (s *session) endKeepAlive() {
	if s.stopKeepAlive != nil {
		s.keepAliveOnce.Do(func() { close(s.stopKeepAlive) })
	}
}

// Client manages the BLE connection to one mount. All device I/O is
// funnelled through connect/read/write so every operation shares the same
// session handling, permission gating and error classification.
type Client struct {
	adapter Adapter
	address string
	opts    Options

	// connectMu serializes connection attempts so concurrent callers
	// collapse into a single transport dial.
	connectMu sync.Mutex

	mu      sync.Mutex
	session *session

	observers observerList
}

// NewClient creates a client for the mount at the given address. Options
// zero values are replaced with defaults.
func NewClient(adapter Adapter, address string, opts Options) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("ble: device address must not be empty")
	}
	if opts.Variant == "" {
		opts.Variant = VariantNext
	}
	if opts.Variant != VariantLegacy && opts.Variant != VariantNext {
		return nil, fmt.Errorf("ble: unknown variant %q", opts.Variant)
	}
	if opts.BusyRetries <= 0 {
		opts.BusyRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 3 * time.Second
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 5
	}
	if opts.NotifyRetryDelay <= 0 {
		opts.NotifyRetryDelay = 500 * time.Millisecond
	}
	return &Client{
		adapter: adapter,
		address: address,
		opts:    opts,
	}, nil
}

// Address returns the device address this client controls.
func (c *Client) Address() string { return c.address }

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.conn.Connected()
}

// Connect establishes a session if none exists. Idempotent: a live
// session is reused without a transport round-trip.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// connect returns the live session, dialling the device first if needed.
func (c *Client) connect(ctx context.Context) (*session, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		if sess.conn.Connected() {
			return sess, nil
		}
		// Connection dropped without the disconnect callback firing.
		slog.Debug("[BLE] previous session is stale, clearing", "address", c.address)
		c.invalidateSession(sess)
	}

	slog.Debug("[BLE] connecting", "address", c.address)
	conn, err := c.adapter.Connect(ctx, c.address)
	if err != nil {
		return nil, &mount.UnreachableError{Op: "connect", Err: err}
	}

	permissions, err := c.loadPermissions(conn)
	if err != nil {
		// Do not keep a half-constructed session around.
		_ = conn.Disconnect()
		return nil, err
	}

	sess = &session{conn: conn, permissions: permissions}
	// The stop channel must exist before the disconnect callback can fire,
	// or a disconnect racing connect leaves the keep-alive goroutine
	// without an owner to stop it.
	if c.opts.KeepAliveInterval > 0 {
		sess.stopKeepAlive = make(chan struct{})
	}
	conn.OnDisconnect(func() {
		slog.Debug("[BLE] disconnected by device", "address", c.address)
		c.invalidateSession(sess)
	})

	// Notifications are best-effort: the mount still works read/write
	// without them, so a failure here must not fail the connect.
	c.setupNotifications(conn)

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	if permissions != nil {
		c.observers.notifyPermissions(*permissions)
	}
	c.observers.notifyConnection(true)

	if sess.stopKeepAlive != nil {
		go c.keepAlive(sess)
	}

	slog.Info("[BLE] connected", "address", c.address)
	return sess, nil
}

// Disconnect tears down the session. Transport errors during teardown are
// swallowed and logged; a disconnect never fails.
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}

	sess.endKeepAlive()
	if err := sess.conn.Disconnect(); err != nil {
		slog.Debug("[BLE] error while disconnecting", "address", c.address, "error", err)
	}
	c.observers.notifyConnection(false)
}

// Rediscover asks the transport to drop its cached handle for the device
// so the next connect resolves it from scratch.
func (c *Client) Rediscover() {
	c.adapter.Rediscover(c.address)
}

// invalidateSession clears sess if it is still current and signals the
// connection observers. Used for both device-initiated disconnects and
// errors classified as connection loss.
func (c *Client) invalidateSession(sess *session) {
	c.mu.Lock()
	current := c.session == sess
	if current {
		c.session = nil
	}
	c.mu.Unlock()

	sess.endKeepAlive()
	if current {
		c.observers.notifyConnection(false)
	}
}

// -------------------------------------------------------------------------
// Permissions

// loadPermissions builds the session's permission snapshot. Firmware
// without PIN support yields the permissive default; otherwise the PIN
// (if any) is presented and the device's auth verdict decides.
func (c *Client) loadPermissions(conn Connection) (*mount.Permissions, error) {
	statusChar, err := conn.Characteristic(ServiceUUID, CharAuthStatusUUID)
	if err != nil {
		var unsup *mount.UnsupportedError
		if errors.As(err, &unsup) {
			full := mount.FullPermissions()
			return &full, nil
		}
		return nil, &mount.UnreachableError{Op: "auth status", Err: err}
	}

	if c.opts.PIN != 0 {
		if authChar, err := conn.Characteristic(ServiceUUID, CharAuthenticateUUID); err == nil {
			encoded := protocol.EncodeUserPIN(c.opts.PIN)
			if c.opts.SupervisorPIN {
				encoded = protocol.EncodeSupervisorPIN(c.opts.PIN)
			}
			if err := authChar.Write(encoded); err != nil {
				slog.Warn("[BLE] failed to present PIN", "address", c.address, "error", err)
			}
		}
	}

	raw, err := statusChar.Read()
	if err != nil {
		return nil, &mount.UnreachableError{Op: "auth status", Err: err}
	}
	status, err := protocol.DecodeAuthStatus(raw)
	if err != nil {
		return nil, fmt.Errorf("ble: auth status: %w", err)
	}
	if status.Type == mount.AuthWrong {
		return nil, &mount.AuthError{Cooldown: status.Cooldown, Reason: "device rejected PIN"}
	}

	if status.Type == mount.AuthFull {
		full := mount.FullPermissions()
		full.AuthStatus = &status
		return &full, nil
	}

	// Control-level access: the granted features come from the multi-PIN
	// bitfield. Missing characteristic means no extra grants.
	perms := mount.Permissions{AuthStatus: &status}
	if featChar, err := conn.Characteristic(ServiceUUID, CharMultiPinUUID); err == nil {
		if raw, err := featChar.Read(); err == nil {
			if features, err := protocol.DecodeMultiPinFeatures(raw); err == nil {
				perms.ChangeDefaultPosition = features.ChangeDefaultPosition
				perms.ChangeName = features.ChangeName
				perms.ChangePresets = features.ChangePresets
				perms.ChangeTVOnOffDetection = features.ChangeTVOnOffDetection
				perms.DisableChannel = features.DisableChannel
				perms.StartCalibration = features.StartCalibration
			}
		}
	}
	return &perms, nil
}

// hasWritePermission implements the write gate: preset characteristics
// need ChangePresets, the channel/freeze/calibrate characteristics their
// matching flag, and ChangeSettings overrides everything. A nil
// permissions object (no auth support) always permits.
func hasWritePermission(charUUID string, permissions *mount.Permissions) bool {
	if permissions == nil {
		return true
	}
	if permissions.ChangeSettings {
		return true
	}
	if isPresetChar(charUUID) || charUUID == CharSelectPresetUUID {
		return permissions.ChangePresets
	}
	switch charUUID {
	case CharDisableChannelUUID:
		return permissions.DisableChannel
	case CharFreezeUUID:
		return permissions.ChangeTVOnOffDetection
	case CharCalibrateUUID:
		return permissions.StartCalibration
	}
	return false
}

func isPresetChar(charUUID string) bool {
	for _, u := range CharPresetUUIDs {
		if u == charUUID {
			return true
		}
	}
	for _, u := range CharPresetNameUUIDs {
		if u == charUUID {
			return true
		}
	}
	return false
}

// -------------------------------------------------------------------------
// Transport pipeline

// errKind is the stable classification of noisy transport errors.
type errKind int

const (
	kindOther errKind = iota
	kindBusy
	kindDisconnected
	kindUnsupported
)

// classifyTransport maps a raw transport error onto the retry taxonomy.
// ATT error 0x0e ("unlikely error") is the device-busy status code;
// end-of-stream and "not connected" signals mean the link is gone.
func classifyTransport(err error) errKind {
	var unsup *mount.UnsupportedError
	if errors.As(err, &unsup) {
		return kindUnsupported
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return kindDisconnected
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "0x0e"), strings.Contains(msg, "unlikely"):
		return kindBusy
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		return kindDisconnected
	}
	return kindOther
}

// read ensures a session and reads one characteristic, retrying transient
// busy errors in place. Busy-exhausted and explicit link-loss errors clear
// the session so the next operation reconnects.
func (c *Client) read(ctx context.Context, charUUID string) ([]byte, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	char, err := sess.conn.Characteristic(ServiceUUID, charUUID)
	if err != nil {
		return nil, c.classifyLookup(sess, "read", charUUID, err)
	}

	for attempt := 0; ; attempt++ {
		data, err := char.Read()
		if err == nil {
			slog.Debug("[BLE] read", "characteristic", charUUID, "data", fmt.Sprintf("%x", data))
			return data, nil
		}
		switch classifyTransport(err) {
		case kindBusy:
			if attempt < c.opts.BusyRetries-1 {
				slog.Debug("[BLE] device busy, retrying read", "characteristic", charUUID, "attempt", attempt+1)
				if err := sleep(ctx, c.opts.RetryDelay); err != nil {
					return nil, err
				}
				continue
			}
			// Persistent busy responses mean the link is wedged.
			c.invalidateSession(sess)
			return nil, &mount.UnreachableError{Op: "read " + charUUID, Err: err}
		case kindDisconnected:
			c.invalidateSession(sess)
			return nil, &mount.UnreachableError{Op: "read " + charUUID, Err: err}
		case kindUnsupported:
			return nil, err
		default:
			return nil, fmt.Errorf("ble: read %s: %w", charUUID, err)
		}
	}
}

// write ensures a session, checks the permission gate before touching the
// transport, then writes with the same retry classification as read.
func (c *Client) write(ctx context.Context, charUUID string, data []byte) error {
	sess, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if !hasWritePermission(charUUID, sess.permissions) {
		return &mount.AuthError{Reason: "write denied for characteristic " + charUUID}
	}
	char, err := sess.conn.Characteristic(ServiceUUID, charUUID)
	if err != nil {
		return c.classifyLookup(sess, "write", charUUID, err)
	}

	for attempt := 0; ; attempt++ {
		err := char.Write(data)
		if err == nil {
			slog.Debug("[BLE] wrote", "characteristic", charUUID, "data", fmt.Sprintf("%x", data))
			return nil
		}
		switch classifyTransport(err) {
		case kindBusy:
			if attempt < c.opts.BusyRetries-1 {
				slog.Debug("[BLE] device busy, retrying write", "characteristic", charUUID, "attempt", attempt+1)
				if err := sleep(ctx, c.opts.RetryDelay); err != nil {
					return err
				}
				continue
			}
			slog.Warn("[BLE] device busy persisted, treating as connection loss", "characteristic", charUUID)
			c.invalidateSession(sess)
			return &mount.UnreachableError{Op: "write " + charUUID, Err: err}
		case kindDisconnected:
			c.invalidateSession(sess)
			return &mount.UnreachableError{Op: "write " + charUUID, Err: err}
		case kindUnsupported:
			return err
		default:
			return fmt.Errorf("ble: write %s: %w", charUUID, err)
		}
	}
}

// classifyLookup maps characteristic-lookup failures: unsupported passes
// through untouched, anything else counts as link trouble.
func (c *Client) classifyLookup(sess *session, op, charUUID string, err error) error {
	var unsup *mount.UnsupportedError
	if errors.As(err, &unsup) {
		return err
	}
	if classifyTransport(err) == kindDisconnected {
		c.invalidateSession(sess)
	}
	return &mount.UnreachableError{Op: op + " " + charUUID, Err: err}
}

// -------------------------------------------------------------------------
// Read operations

// ReadPermissions returns the permission snapshot of the live session,
// connecting first if needed.
func (c *Client) ReadPermissions(ctx context.Context) (mount.Permissions, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		return mount.Permissions{}, err
	}
	if sess.permissions == nil {
		return mount.FullPermissions(), nil
	}
	return *sess.permissions, nil
}

// ReadAutoMove returns the current automove setting.
func (c *Client) ReadAutoMove(ctx context.Context) (mount.AutoMoveType, error) {
	data, err := c.read(ctx, CharAutoMoveUUID)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeAutoMove(data)
}

// ReadDistance returns the current distance (0..100).
func (c *Client) ReadDistance(ctx context.Context) (int, error) {
	data, err := c.read(ctx, CharDistanceUUID)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeDistance(data)
}

// ReadRotation returns the current rotation (-100..100).
func (c *Client) ReadRotation(ctx context.Context) (int, error) {
	data, err := c.read(ctx, CharRotationUUID)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeRotation(data)
}

// ReadFreezePresetIndex returns which preset automove targets.
func (c *Client) ReadFreezePresetIndex(ctx context.Context) (int, error) {
	data, err := c.read(ctx, CharFreezeUUID)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeFreezeIndex(data)
}

// ReadPreset reads one preset slot. A preset spans two characteristics;
// link loss between the two reads is retried because the read path
// reconnects transparently.
func (c *Client) ReadPreset(ctx context.Context, index int) (mount.Preset, error) {
	if index < 0 || index >= mount.NumPresets {
		return mount.Preset{}, fmt.Errorf("ble: preset index %d out of range", index)
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.BusyRetries; attempt++ {
		data, err := c.read(ctx, CharPresetUUIDs[index])
		if err == nil {
			var name []byte
			name, err = c.read(ctx, CharPresetNameUUIDs[index])
			if err == nil {
				presetData, err := protocol.DecodePreset(append(data, name...))
				if err != nil {
					return mount.Preset{}, fmt.Errorf("ble: preset %d: %w", index, err)
				}
				return mount.Preset{Index: index, Data: presetData}, nil
			}
		}

		var unreachable *mount.UnreachableError
		if !errors.As(err, &unreachable) {
			return mount.Preset{}, err
		}
		lastErr = err
		if attempt < c.opts.BusyRetries-1 {
			slog.Debug("[BLE] connection lost reading preset, retrying", "index", index, "attempt", attempt+1)
			if err := sleep(ctx, c.opts.RetryDelay); err != nil {
				return mount.Preset{}, err
			}
		}
	}
	return mount.Preset{}, lastErr
}

// ReadPresets reads all preset slots in device order.
func (c *Client) ReadPresets(ctx context.Context) ([mount.NumPresets]mount.Preset, error) {
	var presets [mount.NumPresets]mount.Preset
	for i := range presets {
		preset, err := c.ReadPreset(ctx, i)
		if err != nil {
			return presets, err
		}
		presets[i] = preset
	}
	return presets, nil
}

// ReadVersions reads the firmware component versions. Either version
// characteristic may be missing on a given firmware; missing or unreadable
// components degrade to the Unknown sentinel instead of failing the read.
func (c *Client) ReadVersions(ctx context.Context) (mount.Versions, error) {
	versions := mount.UnknownVersions()

	if data, err := c.read(ctx, CharVersionsCEBUUID); err == nil {
		versions.CEBBootloader = protocol.DecodeVersion(data)
	} else {
		slog.Debug("[BLE] CEB versions unavailable", "error", err)
	}

	if data, err := c.read(ctx, CharVersionsMCPUUID); err == nil {
		if hw, bl, fw, err := protocol.DecodeMCPVersions(data); err == nil {
			versions.MCPHardware = hw
			versions.MCPBootloader = bl
			versions.MCPFirmware = fw
		}
	} else {
		slog.Debug("[BLE] MCP versions unavailable", "error", err)
	}

	return versions, nil
}

// -------------------------------------------------------------------------
// Write operations

// RequestDistance asks the mount to move to the given distance.
func (c *Client) RequestDistance(ctx context.Context, distance int) error {
	if distance < 0 || distance > 100 {
		return fmt.Errorf("ble: distance %d out of range 0..100", distance)
	}
	return c.write(ctx, CharDistanceUUID, protocol.EncodeDistance(distance))
}

// RequestRotation asks the mount to rotate to the given angle.
func (c *Client) RequestRotation(ctx context.Context, rotation int) error {
	if rotation < -100 || rotation > 100 {
		return fmt.Errorf("ble: rotation %d out of range -100..100", rotation)
	}
	return c.write(ctx, CharRotationUUID, protocol.EncodeRotation(rotation))
}

// SetAutoMove sets the automove trigger.
func (c *Client) SetAutoMove(ctx context.Context, automove mount.AutoMoveType) error {
	return c.write(ctx, CharAutoMoveUUID, protocol.EncodeAutoMove(automove))
}

// SetFreezePreset selects which preset automove targets.
func (c *Client) SetFreezePreset(ctx context.Context, index int) error {
	if index < 0 || index > 7 {
		return fmt.Errorf("ble: freeze preset index %d out of range", index)
	}
	return c.write(ctx, CharFreezeUUID, []byte{byte(index)})
}

// SetPreset stores (or clears, when preset.Data is nil) a preset slot.
// The encoded blob spans the data and name characteristics.
func (c *Client) SetPreset(ctx context.Context, preset mount.Preset) error {
	if preset.Index < 0 || preset.Index >= mount.NumPresets {
		return fmt.Errorf("ble: preset index %d out of range", preset.Index)
	}
	if preset.Data != nil {
		if preset.Data.Distance < 0 || preset.Data.Distance > 100 {
			return fmt.Errorf("ble: preset distance %d out of range 0..100", preset.Data.Distance)
		}
		if preset.Data.Rotation < -100 || preset.Data.Rotation > 100 {
			return fmt.Errorf("ble: preset rotation %d out of range -100..100", preset.Data.Rotation)
		}
		if len(preset.Data.Name) == 0 || len(preset.Data.Name) > protocol.MaxPresetName {
			return fmt.Errorf("ble: preset name must be 1..%d bytes", protocol.MaxPresetName)
		}
	}
	data, name := protocol.EncodePreset(preset.Data)
	if err := c.write(ctx, CharPresetUUIDs[preset.Index], data); err != nil {
		return err
	}
	return c.write(ctx, CharPresetNameUUIDs[preset.Index], name)
}

// SetDisableChannel enables or disables the HDMI detection channel.
func (c *Client) SetDisableChannel(ctx context.Context, disabled bool) error {
	v := byte(0)
	if disabled {
		v = 1
	}
	return c.write(ctx, CharDisableChannelUUID, []byte{v})
}

// SetUserPIN changes the authorised-user PIN ("0000" deactivates it).
func (c *Client) SetUserPIN(ctx context.Context, pin int) error {
	if pin < 0 || pin > 9999 {
		return fmt.Errorf("ble: pin must be 4 digits")
	}
	return c.write(ctx, CharChangePinUUID, protocol.EncodeUserPIN(pin))
}

// SetSupervisorPIN changes the supervisor PIN using the firmware's
// obfuscated encoding.
func (c *Client) SetSupervisorPIN(ctx context.Context, pin int) error {
	if pin < 0 || pin > 9999 {
		return fmt.Errorf("ble: pin must be 4 digits")
	}
	return c.write(ctx, CharChangePinUUID, protocol.EncodeSupervisorPIN(pin))
}

// ReadPinSetting returns which PIN scheme the device has active.
func (c *Client) ReadPinSetting(ctx context.Context) (mount.PinSetting, error) {
	data, err := c.read(ctx, CharPinSettingUUID)
	if err != nil {
		return 0, err
	}
	return protocol.DecodePinSetting(data)
}

// SetMultiPinFeatures updates the feature grants for the authorised user.
// The multi-PIN characteristic has no per-feature gate flag, so only a
// session with the supervisor's ChangeSettings grant may write it.
func (c *Client) SetMultiPinFeatures(ctx context.Context, features mount.MultiPinFeatures) error {
	return c.write(ctx, CharMultiPinUUID, protocol.EncodeMultiPinFeatures(features))
}

// StartCalibration triggers the calibration run.
func (c *Client) StartCalibration(ctx context.Context) error {
	return c.write(ctx, CharCalibrateUUID, []byte{1})
}

// SelectPreset activates a preset. Legacy devices take the index on a
// dedicated characteristic; next-generation devices are driven to the
// preset's stored position and polled until they converge.
func (c *Client) SelectPreset(ctx context.Context, index int) error {
	if index < 0 || index >= mount.NumPresets {
		return fmt.Errorf("ble: preset index %d out of range", index)
	}
	if c.opts.Variant == VariantLegacy {
		return c.write(ctx, CharSelectPresetUUID, []byte{byte(index)})
	}
	return c.selectPresetByMove(ctx, index)
}

// selectPresetByMove drives distance/rotation to the preset's stored
// position and verifies the device converges within the tolerance. Each
// verification round waits for the mount to physically move; busy reads
// during verification are tolerated and simply cost a round.
func (c *Client) selectPresetByMove(ctx context.Context, index int) error {
	preset, err := c.ReadPreset(ctx, index)
	if err != nil {
		return err
	}
	if preset.Data == nil {
		return fmt.Errorf("ble: preset %d is empty", index)
	}
	target := *preset.Data
	slog.Debug("[BLE] activating preset", "index", index, "distance", target.Distance, "rotation", target.Rotation)

	for attempt := 0; attempt < c.opts.BusyRetries; attempt++ {
		if err := c.RequestDistance(ctx, target.Distance); err != nil {
			return err
		}
		if err := c.RequestRotation(ctx, target.Rotation); err != nil {
			return err
		}
		if err := sleep(ctx, c.opts.SettleDelay); err != nil {
			return err
		}

		distance, derr := c.ReadDistance(ctx)
		rotation, rerr := c.ReadRotation(ctx)
		if derr != nil || rerr != nil {
			slog.Debug("[BLE] could not verify preset position", "index", index, "attempt", attempt+1)
			continue
		}
		if abs(distance-target.Distance) <= c.opts.Tolerance &&
			abs(rotation-target.Rotation) <= c.opts.Tolerance {
			slog.Debug("[BLE] preset reached", "index", index, "distance", distance, "rotation", rotation)
			return nil
		}
		slog.Debug("[BLE] preset position mismatch", "index", index, "attempt", attempt+1,
			"distance", distance, "rotation", rotation)
	}
	return fmt.Errorf("ble: preset %d: device did not reach target position", index)
}

// -------------------------------------------------------------------------
// Notifications and keep-alive

// setupNotifications subscribes to distance/rotation pushes. Each
// subscription is retried with exponential backoff; persistent failure is
// logged and the connect proceeds without notifications.
func (c *Client) setupNotifications(conn Connection) {
	c.subscribe(conn, CharDistanceUUID, "distance", func(data []byte) {
		if v, err := protocol.DecodeDistance(data); err == nil {
			c.observers.notifyDistance(v)
		}
	})
	c.subscribe(conn, CharRotationUUID, "rotation", func(data []byte) {
		if v, err := protocol.DecodeRotation(data); err == nil {
			c.observers.notifyRotation(v)
		}
	})
}

func (c *Client) subscribe(conn Connection, charUUID, name string, handler func([]byte)) {
	char, err := conn.Characteristic(ServiceUUID, charUUID)
	if err != nil {
		slog.Warn("[BLE] notification characteristic unavailable", "characteristic", name, "error", err)
		return
	}
	for attempt := 0; attempt < c.opts.BusyRetries; attempt++ {
		err = char.Subscribe(handler)
		if err == nil {
			slog.Debug("[BLE] notifications started", "characteristic", name)
			return
		}
		if classifyTransport(err) != kindBusy || attempt == c.opts.BusyRetries-1 {
			break
		}
		time.Sleep(c.opts.NotifyRetryDelay * (1 << attempt))
	}
	slog.Warn("[BLE] failed to start notifications", "characteristic", name, "error", err)
}

// keepAlive periodically reads the distance characteristic to keep the
// link from idling out. Failures are logged, never escalated; the loop
// ends when the session is torn down.
func (c *Client) keepAlive(sess *session) {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stopKeepAlive:
			return
		case <-ticker.C:
			char, err := sess.conn.Characteristic(ServiceUUID, CharDistanceUUID)
			if err == nil {
				_, err = char.Read()
			}
			if err != nil {
				slog.Debug("[BLE] keep-alive read failed", "address", c.address, "error", err)
			}
		}
	}
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

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
