package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/appmgr"
	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/core/api"
	"github.com/solatis/aadnode/internal/core/config"
	"github.com/solatis/aadnode/internal/core/server"
	"github.com/solatis/aadnode/internal/devmgr"
	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/mqttapp"
	"github.com/solatis/aadnode/internal/netmgr"
	"github.com/solatis/aadnode/internal/ota"
	"github.com/solatis/aadnode/internal/tcpserver"
	"github.com/solatis/aadnode/internal/temperature"
	"github.com/solatis/aadnode/internal/types"
	"github.com/solatis/aadnode/internal/wifi"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the device agent until interrupted",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().String("host", "0.0.0.0", "command server host")
	agentCmd.Flags().Int("port", 1234, "command server port")
	agentCmd.Flags().String("onewire", "", "serial device of the 1-Wire adapter")
}

// runner exposes the event module a component runs on.
type runner interface {
	Module() *events.Module
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.TCP.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.TCP.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("onewire") {
		cfg.OneWirePort, _ = cmd.Flags().GetString("onewire")
	}

	database, queries, store, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	serial, err := store.SerialNumber()
	if err != nil {
		return fmt.Errorf("failed to read serial number: %w", err)
	}
	if serial == 0 {
		log.Warn().Msg("Device not provisioned, using serial number 0")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	restarting := false
	restart := func() {
		restarting = true
		cancel()
	}

	router := events.NewRouter()

	// WiFi and network manager.
	wifiDrv := wifi.New(router, wifi.NewHostRadio(store, cfg.WiFiInterface))
	network := netmgr.New(router)

	// Temperature.
	var temp *temperature.Driver
	if cfg.OneWirePort != "" {
		temp = temperature.New(router, temperature.UARTOpener(cfg.OneWirePort))
	}

	// Configuration and commands.
	otaCfg := ota.NewConfig(store)
	if err := otaCfg.Load(); err != nil {
		return fmt.Errorf("failed to load OTA settings: %w", err)
	}
	mqttCfg := mqttapp.NewConfig(store)
	if err := mqttCfg.Load(); err != nil {
		return fmt.Errorf("failed to load MQTT settings: %w", err)
	}
	var sensors api.SensorSelector
	if temp != nil {
		sensors = temp
	}
	service, err := api.NewService(otaCfg, mqttCfg, api.DeviceInfo{
		Version: cfg.Device.SWVersion,
		Project: cfg.Device.Project,
		Serial:  serial,
	}, sensors)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	registry := command.NewRegistry()
	if err := service.Register(registry); err != nil {
		return fmt.Errorf("failed to register methods: %w", err)
	}

	// TCP server.
	tcp := tcpserver.New(router, cfg.TCP.Addr(), registry)

	// OTA.
	parts, err := ota.OpenPartitions(filepath.Join(cfg.Device.DataDir, "slots"), queries, store, cfg.Device.SecureVersion, ota.Factory{
		Version:       cfg.Device.SWVersion,
		Project:       cfg.Device.Project,
		SecureVersion: cfg.Device.SecureVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to open partitions: %w", err)
	}
	running := parts.Running()
	log.Info().Str("slot", running.Name).Str("version", running.Version).Msg("Running image")
	client := ota.NewClient(otaCfg, serial, cfg.OTA.HTTPTimeout)
	otaMgr := ota.NewManager(router, ota.Options{
		Config:     otaCfg,
		Client:     client,
		Partitions: parts,
		Flasher:    ota.NewFlasher(client, parts, cfg.OTA.RejectSameVersion, log.With().Str("module", events.OTA.String()).Logger()),
		Restart:    restart,
	})

	// MQTT.
	topics := mqttapp.NewTopics()
	if err := service.RegisterTopics(topics); err != nil {
		return fmt.Errorf("failed to register topics: %w", err)
	}
	mqtt := mqttapp.New(router, mqttCfg, topics, serial, nil)

	// Device manager.
	inputs := []devmgr.Input{
		{Name: "rssi", Read: func() (any, error) {
			rssi, ok := wifiDrv.RSSI()
			if !ok {
				return nil, types.ErrNotConnected
			}
			return rssi, nil
		}},
	}
	if temp != nil {
		inputs = append(inputs, devmgr.Input{Name: "t1", Read: func() (any, error) {
			r, ok := temp.Selected()
			if !ok {
				return nil, fmt.Errorf("no temperature reading")
			}
			return r.Celsius, nil
		}})
	}
	dev := devmgr.New(router, inputs, mqtt, devmgr.Options{
		MeasureInterval: cfg.Telemetry.MeasureInterval,
		PostInterval:    cfg.Telemetry.PostInterval,
	})

	// App manager and health.
	entries := []appmgr.Entry{{ID: events.NetworkManager, InitMsg: events.InitReq}}
	if temp != nil {
		entries = append(entries, appmgr.Entry{ID: events.TempDrv, InitMsg: events.InitReq})
	}
	entries = append(entries,
		appmgr.Entry{ID: events.OTA, InitMsg: events.InitReq},
		appmgr.Entry{ID: events.MQTTApp, InitMsg: events.InitReq},
		appmgr.Entry{ID: events.DevManager, InitMsg: events.InitReq},
	)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.ID.String()
	}
	health, err := server.NewGRPCServer(server.Config{Host: cfg.Health.Host, Port: cfg.Health.Port}, names)
	if err != nil {
		return fmt.Errorf("failed to create health server: %w", err)
	}
	if err := health.Listen(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	app := appmgr.New(router, entries, health)

	var wg sync.WaitGroup
	modules := []runner{wifiDrv, network, tcp, mqtt, dev, app}
	if temp != nil {
		modules = append(modules, temp)
	}
	for _, r := range modules {
		wg.Add(1)
		go func(m *events.Module) {
			defer wg.Done()
			m.Run(ctx)
		}(r.Module())
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		otaMgr.Run(ctx)
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- health.Start(ctx)
	}()

	log.Info().
		Str("version", cfg.Device.SWVersion).
		Uint32("serial", serial).
		Str("tcp", cfg.TCP.Addr()).
		Msg("Starting aadnode agent")
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errChan:
		cancel()
	case <-sigChan:
		log.Info().Msg("Shutting down gracefully...")
		cancel()
	case <-ctx.Done():
	}

	wg.Wait()
	mqtt.Stop()
	// Run loops have exited, so deinit is dispatched on this goroutine.
	for _, r := range append(modules, otaMgr) {
		ev := events.PrepareNoData(events.DeinitReq, events.AppManager, r.Module().ID())
		r.Module().Dispatch(&ev)
	}
	if err := health.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Health server shutdown")
	}
	if restarting {
		log.Info().Msg("Update installed, restart the agent to boot the new image")
	}
	return runErr
}
