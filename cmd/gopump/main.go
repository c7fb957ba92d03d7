package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/itohio/gopump/pkg/config"
	"github.com/itohio/gopump/pkg/control"
	"github.com/itohio/gopump/pkg/loop"
	"github.com/itohio/gopump/pkg/pump"
	"github.com/itohio/gopump/pkg/report"
	"github.com/itohio/gopump/pkg/sensor"
	"github.com/itohio/gopump/pkg/settings"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port override (e.g., /dev/ttyACM0)")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		settingsFlag = flag.String("settings", "settings.yaml", "Persisted run settings path")
		mockFlag     = flag.Bool("mock", false, "Use mocked pump and sensor instead of hardware")
		plotFlag     = flag.Bool("plot", false, "Render a terminal flow plot instead of the JSON stream")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	set, err := settings.Load(*settingsFlag, cfg.Flow)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	var (
		driver pump.Driver
		sens   sensor.FlowSensor
	)
	if *mockFlag {
		pumpMock := pump.NewMock()
		sensorMock := sensor.NewMock(cfg.Mock)
		pumpMock.OnCommand = sensorMock.CommandVoltage
		driver, sens = pumpMock, sensorMock
		fmt.Println("Using mocked pump and sensor")
	} else {
		driver = pump.New(cfg.Serial.Port, pump.DefaultBaudRate, cfg.Pump)
		sens = sensor.New(cfg.Serial.Port, sensor.DefaultBaudRate, cfg.Sensor)
	}

	if err := driver.Connect(); err != nil {
		log.Fatalf("Failed to connect pump driver: %v", err)
	}
	defer driver.Close()

	if err := sens.Connect(); err != nil {
		log.Fatalf("Failed to connect flow sensor: %v", err)
	}
	defer sens.Close()

	ctrl := control.NewController(cfg, driver)

	var rep *report.Reporter
	if *plotFlag {
		rep = report.New(nil)
		plot := report.NewFlowPlot(120)
		rep.OnUpdate(plot.Observe)

		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for range ticker.C {
				fmt.Print("\033[H\033[2J")
				fmt.Println(plot.Render(12))
				s := ctrl.Snapshot()
				fmt.Printf("mode=%s on=%v setpt=%.2f flow=%.3f volt=%.1f\n",
					s.Mode, s.On, s.Setpoint, s.Flow, s.DesiredVoltage)
			}
		}()
	} else {
		rep = report.New(os.Stdout)
	}

	l := loop.New(cfg, ctrl, sens, set, rep)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go readCommands(ctx, l.Events())

	log.Printf("gopump: mode=%s setpoint=%.2f mL/min period=%s", ctrl.Mode(), set.Setpoint(), cfg.Loop.Period)
	if err := l.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Control loop failed: %v", err)
	}
}

// readCommands maps console input lines to operator events:
// o=on/off, m=mode, +/-=setpoint, e+/e-=error percent.
func readCommands(ctx context.Context, events chan<- loop.Event) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var ev loop.Event
		switch strings.TrimSpace(scanner.Text()) {
		case "o":
			ev = loop.TogglePower
		case "m":
			ev = loop.ToggleMode
		case "+":
			ev = loop.SetpointUp
		case "-":
			ev = loop.SetpointDown
		case "e+":
			ev = loop.ErrorPercentUp
		case "e-":
			ev = loop.ErrorPercentDown
		default:
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
