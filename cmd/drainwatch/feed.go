// This section deals with the telemetry feeds delivering battery
// samples to the monitor, either from a serial-attached fuel gauge or
// from an MQTT telemetry topic.

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tarm/serial"

	"github.com/drainwatch/drainwatch/config"
	"github.com/drainwatch/drainwatch/estimator"
	"github.com/drainwatch/drainwatch/gaugeframe"
	"github.com/drainwatch/drainwatch/monitor"
)

// serialFeed reads gauge frames line by line and runs each sample
// through the monitor. Frame errors are logged and skipped; a read
// error on the port is fatal and returned to the caller.
func serialFeed(conf config.Serial, mon *monitor.Monitor) error {
	port, err := serial.OpenPort(&serial.Config{
		Name: conf.Port,
		Baud: conf.Baud,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", conf.Port, err)
	}
	defer port.Close()

	log.Printf("Reading gauge frames from %s at %d baud", conf.Port, conf.Baud)

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sample, err := gaugeframe.Parse(line)
		if err != nil {
			if errors.Is(err, gaugeframe.ErrBadChecksum) {
				log.Debugf("Dropping frame with bad checksum: %q", line)
			} else {
				log.Debugf("Dropping frame: %v", err)
			}
			continue
		}
		sample.TimestampMs = time.Now().UnixMilli()
		handleSample(mon, sample)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read failed: %w", err)
	}
	return errors.New("serial port closed")
}

// mqttSample is the JSON payload published on the telemetry topic.
type mqttSample struct {
	TimestampMs int64   `json:"timestamp"`
	Level       int     `json:"level"`
	Temperature float64 `json:"temperature"`
	VoltageMv   int     `json:"voltage"`
	Charging    bool    `json:"charging"`
}

// mqttFeed subscribes to the telemetry topic and runs each published
// sample through the monitor. Blocks until the subscription fails.
func mqttFeed(conf config.MQTT, mon *monitor.Monitor) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	opts.SetClientID(conf.ClientID)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)

	log.Printf("Connected to MQTT broker %s", conf.Broker)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var payload mqttSample
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			log.Debugf("Dropping malformed telemetry message on %s: %v", msg.Topic(), err)
			return
		}
		sample := estimator.Sample{
			TimestampMs: payload.TimestampMs,
			Level:       payload.Level,
			Temperature: payload.Temperature,
			VoltageMv:   payload.VoltageMv,
			Charging:    payload.Charging,
		}
		if sample.TimestampMs == 0 {
			sample.TimestampMs = time.Now().UnixMilli()
		}
		handleSample(mon, sample)
	}
	if token := client.Subscribe(conf.Topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", conf.Topic, token.Error())
	}

	log.Printf("Subscribed to telemetry topic %s", conf.Topic)
	select {} // Samples arrive on the paho callback goroutine.
}

func handleSample(mon *monitor.Monitor, sample estimator.Sample) {
	pred, err := mon.HandleSample(sample)
	if err != nil {
		if !errors.Is(err, monitor.ErrVoltageOutOfRange) {
			log.Errorf("Failed to handle sample: %v", err)
		}
		return
	}
	log.Debugf("Sample level=%d%% voltage=%dmV temp=%.1f°C charging=%t -> %.1f min (%s)",
		sample.Level, sample.VoltageMv, sample.Temperature, sample.Charging,
		pred.MinutesLeft, pred.Confidence)
}
