// gauge-sim emits synthetic battery telemetry for bench testing the
// drainwatch daemon: gauge frames on stdout (pipe to a pty or socat for
// the serial feed) or JSON samples published to an MQTT topic.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	arg "github.com/alexflint/go-arg"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drainwatch/drainwatch/estimator"
	"github.com/drainwatch/drainwatch/gaugeframe"
	"github.com/drainwatch/drainwatch/internal/logging"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	Mode        string  `arg:"-m,--mode" default:"frames" help:"output mode: frames or mqtt"`
	Broker      string  `arg:"--broker" default:"tcp://localhost:1883" help:"MQTT broker address"`
	Topic       string  `arg:"--topic" default:"battery/telemetry" help:"MQTT telemetry topic"`
	Interval    float64 `arg:"-i,--interval" default:"2.0" help:"seconds between samples"`
	StartLevel  int     `arg:"--level" default:"100" help:"starting battery level percent"`
	Temperature float64 `arg:"--temp" default:"22.5" help:"ambient temperature °C"`
	DrainPerMin float64 `arg:"--drain" default:"0.8" help:"simulated drain in %/min"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

func main() {
	args := Args{}
	arg.MustParse(&args)
	log = logging.NewLogger(args.LogLevel)

	if err := run(args); err != nil {
		log.Fatal(err)
	}
}

func run(args Args) error {
	var publish func(estimator.Sample) error
	switch args.Mode {
	case "frames":
		publish = func(s estimator.Sample) error {
			fmt.Println(gaugeframe.Encode(s))
			return nil
		}
	case "mqtt":
		opts := mqtt.NewClientOptions()
		opts.AddBroker(args.Broker)
		opts.SetClientID("gauge-sim")
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
		defer client.Disconnect(250)
		publish = func(s estimator.Sample) error {
			payload, err := json.Marshal(s)
			if err != nil {
				return err
			}
			token := client.Publish(args.Topic, 1, false, payload)
			token.Wait()
			return token.Error()
		}
	default:
		return fmt.Errorf("unknown mode '%s'", args.Mode)
	}

	level := float64(args.StartLevel)
	start := time.Now()
	ticker := time.NewTicker(time.Duration(args.Interval * float64(time.Second)))
	defer ticker.Stop()

	for range ticker.C {
		elapsed := time.Since(start).Minutes()
		level = float64(args.StartLevel) - args.DrainPerMin*elapsed
		if level < 0 {
			log.Println("Simulated battery depleted.")
			return nil
		}
		sample := estimator.Sample{
			TimestampMs: time.Now().UnixMilli(),
			Level:       int(math.Round(level)),
			VoltageMv:   voltageForLevel(level),
			Temperature: args.Temperature,
		}
		if err := publish(sample); err != nil {
			return err
		}
	}
	return nil
}

// voltageForLevel maps level to a rough li-ion single-cell voltage so
// the daemon's voltage bands see a plausible discharge curve.
func voltageForLevel(level float64) int {
	return 3200 + int(level/100.0*1000.0)
}
