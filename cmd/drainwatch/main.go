/*
drainwatch - battery drain estimation and shutdown prediction daemon
Copyright (C) 2026, the drainwatch authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"

	arg "github.com/alexflint/go-arg"

	"github.com/drainwatch/drainwatch/config"
	"github.com/drainwatch/drainwatch/internal/logging"
	"github.com/drainwatch/drainwatch/monitor"
	"github.com/drainwatch/drainwatch/statestore"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	ConfigDir string `arg:"-c,--config" help:"configuration folder"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	args := Args{
		ConfigDir: config.DefaultConfigDir,
	}
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()

	log = logging.NewLogger(args.LogLevel)

	log.Printf("Running version: %s", version)

	conf, err := config.ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(conf)
	if err != nil {
		return err
	}
	defer closeStore()

	mon := monitor.New(store, monitor.Thresholds{
		MinutesThreshold:         conf.Warning.MinutesThreshold,
		LowLevel:                 conf.Warning.LowLevel,
		CriticalVoltageMv:        conf.Warning.CriticalVoltageMv,
		ColdCompensationMvPerDeg: conf.Warning.ColdCompensationMvPerDeg,
		HysteresisMinutes:        conf.Warning.HysteresisMinutes,
		MinValidVoltageMv:        conf.MinValidVoltageMv,
		MaxValidVoltageMv:        conf.MaxValidVoltageMv,
	}, sendWarningSignal)

	if err := startService(mon); err != nil {
		return err
	}

	switch conf.Source {
	case "serial":
		return serialFeed(conf.Serial, mon)
	case "mqtt":
		return mqttFeed(conf.MQTT, mon)
	default:
		return fmt.Errorf("unknown source '%s'", conf.Source)
	}
}

func openStore(conf *config.Config) (statestore.Store, func(), error) {
	switch conf.Backend {
	case "bolt":
		if err := os.MkdirAll(conf.StateDir, 0755); err != nil {
			return nil, nil, err
		}
		store, err := statestore.NewBoltStore(filepath.Join(conf.StateDir, "drainwatch.db"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Errorf("Failed to close state store: %v", err)
			}
		}, nil
	default:
		store, err := statestore.NewFileStore(conf.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
