package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tbeylen/motionmount/internal/ble"
	"github.com/tbeylen/motionmount/internal/bridge"
	"github.com/tbeylen/motionmount/internal/config"
	"github.com/tbeylen/motionmount/internal/coordinator"
	"github.com/tbeylen/motionmount/internal/mount"
)

const usage = `Usage: mountctl [-config path] <command> [args]

Commands:
  scan                                    discover MotionMounts in range
  status                                  read and print the full device state
  watch                                   keep state refreshed (Ctrl+C to stop)
  move <distance> [rotation]              move the mount (0..100, -100..100)
  preset <index>                          activate a stored preset
  set-preset <index> <name> <dist> <rot>  store a preset slot
  clear-preset <index>                    empty a preset slot
  calibrate                               start a calibration run
`

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/mountctl/config.yaml)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	adapter := ble.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		log.Fatalf("Failed to enable the Bluetooth adapter: %v", err)
	}

	// Scan needs no device address, everything else does.
	if args[0] == "scan" {
		if err := runScan(adapter); err != nil {
			log.Fatalf("scan: %v", err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	client, err := ble.NewClient(adapter, cfg.Mount.Address, ble.Options{
		Variant:           ble.Variant(cfg.Mount.Variant),
		PIN:               cfg.Mount.PIN,
		SupervisorPIN:     cfg.Mount.SupervisorPIN,
		KeepAliveInterval: cfg.Behavior.KeepAlive(),
	})
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	coord := coordinator.New(client, coordinator.Options{
		RefreshInterval: cfg.Behavior.RefreshInterval(),
		IdleTimeout:     cfg.Behavior.IdleTimeout(),
		AutoReconnect:   cfg.Behavior.AutoReconnect,
	})
	defer coord.Close()

	ctx := context.Background()

	switch args[0] {
	case "status":
		err = runStatus(ctx, coord)
	case "watch":
		err = runWatch(ctx, coord, cfg)
	case "move":
		err = runMove(ctx, coord, args[1:])
	case "preset":
		err = runPreset(ctx, coord, args[1:])
	case "set-preset":
		err = runSetPreset(ctx, coord, args[1:])
	case "clear-preset":
		err = runClearPreset(ctx, coord, args[1:])
	case "calibrate":
		err = coord.StartCalibration(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func runScan(adapter *ble.TinyGoAdapter) error {
	log.Println("Scanning for MotionMounts (10s)...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	devices, err := adapter.Scan(ctx, ble.ServiceUUID)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		log.Println("No MotionMounts found")
		return nil
	}
	for _, device := range devices {
		fmt.Printf("  %s  %s  (RSSI %d)\n", device.Address, device.Name, device.RSSI)
	}
	return nil
}

func runStatus(ctx context.Context, coord *coordinator.Coordinator) error {
	if err := coord.Refresh(ctx); err != nil {
		return err
	}
	printSnapshot(coord.Snapshot())
	coord.Disconnect()
	return nil
}

func runWatch(ctx context.Context, coord *coordinator.Coordinator, cfg *config.Config) error {
	printBanner(cfg)

	if cfg.Redis.Addr != "" {
		b, err := bridge.New(ctx, cfg.Redis.Addr, cfg.Redis.Prefix)
		if err != nil {
			return err
		}
		defer b.Close()
		unsubscribe := coord.Subscribe(func(s mount.Snapshot) {
			if err := b.Publish(ctx, s); err != nil {
				slog.Warn("redis publish failed", "error", err)
			}
		})
		defer unsubscribe()
		log.Printf("Publishing state to Redis at %s (key %q)", cfg.Redis.Addr, cfg.Redis.Prefix)
	}

	coord.Subscribe(func(s mount.Snapshot) {
		slog.Info("state changed",
			"available", s.Available, "connected", s.Connected,
			"distance", s.Distance, "rotation", s.Rotation)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %s, shutting down...", sig)
		cancel()
	}()

	if err := coord.Run(runCtx); err != nil && runCtx.Err() == nil {
		return err
	}
	return nil
}

func runMove(ctx context.Context, coord *coordinator.Coordinator, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: move <distance> [rotation]")
	}
	distance, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid distance %q", args[0])
	}
	if err := coord.RequestDistance(ctx, distance); err != nil {
		return err
	}
	if len(args) == 2 {
		rotation, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid rotation %q", args[1])
		}
		if err := coord.RequestRotation(ctx, rotation); err != nil {
			return err
		}
	}
	log.Println("Move requested")
	return nil
}

func runPreset(ctx context.Context, coord *coordinator.Coordinator, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: preset <index>")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid preset index %q", args[0])
	}
	// The coordinator rejects empty slots, so fetch state first.
	if err := coord.Refresh(ctx); err != nil {
		return err
	}
	if err := coord.SelectPreset(ctx, index); err != nil {
		return err
	}
	log.Printf("Preset %d activated", index)
	return nil
}

func runSetPreset(ctx context.Context, coord *coordinator.Coordinator, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: set-preset <index> <name> <distance> <rotation>")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid preset index %q", args[0])
	}
	distance, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid distance %q", args[2])
	}
	rotation, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid rotation %q", args[3])
	}
	preset := mount.Preset{
		Index: index,
		Data:  &mount.PresetData{Distance: distance, Rotation: rotation, Name: args[1]},
	}
	if err := coord.SetPreset(ctx, preset); err != nil {
		return err
	}
	log.Printf("Preset %d stored: %q (distance %d, rotation %d)", index, args[1], distance, rotation)
	return nil
}

func runClearPreset(ctx context.Context, coord *coordinator.Coordinator, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clear-preset <index>")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid preset index %q", args[0])
	}
	if err := coord.SetPreset(ctx, mount.Preset{Index: index}); err != nil {
		return err
	}
	log.Printf("Preset %d cleared", index)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== mountctl ===")
	fmt.Printf("  Device:   %s (%s)\n", cfg.Mount.Address, cfg.Mount.Variant)
	fmt.Printf("  Refresh:  every %s\n", cfg.Behavior.RefreshInterval())
	if cfg.Behavior.IdleTimeout() > 0 {
		fmt.Printf("  Idle:     disconnect after %s\n", cfg.Behavior.IdleTimeout())
	}
	if cfg.Redis.Addr != "" {
		fmt.Printf("  Redis:    %s\n", cfg.Redis.Addr)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func printSnapshot(s mount.Snapshot) {
	fmt.Printf("Available:  %v\n", s.Available)
	fmt.Printf("Connected:  %v\n", s.Connected)
	fmt.Printf("Distance:   %d\n", s.Distance)
	fmt.Printf("Rotation:   %d\n", s.Rotation)
	if s.AutoMove != nil {
		fmt.Printf("AutoMove:   %s (option %s)\n", s.AutoMove, s.AutoMove.Option())
	}
	fmt.Printf("Freeze:     preset %d\n", s.FreezePresetIndex)
	fmt.Println("Presets:")
	for _, preset := range s.Presets {
		if preset.Data == nil {
			fmt.Printf("  %d: (empty)\n", preset.Index)
			continue
		}
		fmt.Printf("  %d: %q distance=%d rotation=%d\n",
			preset.Index, preset.Data.Name, preset.Data.Distance, preset.Data.Rotation)
	}
	fmt.Printf("Versions:   ceb_bl=%s mcp_hw=%s mcp_bl=%s mcp_fw=%s\n",
		s.Versions.CEBBootloader, s.Versions.MCPHardware,
		s.Versions.MCPBootloader, s.Versions.MCPFirmware)
	if s.Permissions.AuthStatus != nil {
		fmt.Printf("Auth:       %s\n", s.Permissions.AuthStatus.Type)
	}
}
