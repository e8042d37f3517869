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
	"errors"
	"math"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/drainwatch/drainwatch/monitor"
)

const (
	dbusName = "org.drainwatch.Monitor"
	dbusPath = "/org/drainwatch/Monitor"
)

type service struct {
	mon *monitor.Monitor
}

func startService(mon *monitor.Monitor) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		mon: mon,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Predict returns minutes left and the confidence tier. Minutes is -1
// when no shutdown is foreseeable, since D-Bus callers in shell scripts
// handle a sentinel more easily than IEEE infinity.
func (s service) Predict() (float64, string, *dbus.Error) {
	pred := s.mon.Predict()
	minutes := pred.MinutesLeft
	if math.IsInf(minutes, 1) {
		minutes = -1
	}
	return minutes, string(pred.Confidence), nil
}

// EstimatedCycles returns the smoothed discharge cycle count.
func (s service) EstimatedCycles() (float64, *dbus.Error) {
	return s.mon.EstimatedCycles(), nil
}

// WeightedDrainRate returns the smoothed drain rate in %/min.
func (s service) WeightedDrainRate() (float64, *dbus.Error) {
	return s.mon.WeightedDrainRate(), nil
}

// PredictionAdjustment returns the learned correction factor.
func (s service) PredictionAdjustment() (float64, *dbus.Error) {
	return s.mon.PredictionAdjustment(), nil
}

// NotifyShutdown records that the warned-of shutdown is happening.
// Wired to the host's shutdown hook.
func (s service) NotifyShutdown() *dbus.Error {
	log.Println("Shutdown notification received.")
	s.mon.ConfirmShutdown()
	return nil
}

// CancelWarning dismisses the active shutdown warning.
func (s service) CancelWarning() *dbus.Error {
	log.Println("Warning cancellation requested.")
	s.mon.CancelWarning()
	return nil
}

// WarningActive reports whether a shutdown warning is currently raised.
func (s service) WarningActive() (bool, *dbus.Error) {
	return s.mon.WarningActive(), nil
}

// sendWarningSignal emits warning lifecycle transitions via D-Bus so
// alerting frontends can react without polling.
func sendWarningSignal(e monitor.Event) {
	conn, err := dbus.SystemBus()
	if err != nil {
		log.Errorf("Failed to connect to system bus: %v", err)
		return
	}
	sig := &dbus.Signal{
		Path: dbus.ObjectPath(dbusPath),
		Name: dbusName + ".Warning",
		Body: []interface{}{string(e.Type), e.AdjustedMinutes, int32(e.Sample.Level)},
	}
	if err := conn.Emit(sig.Path, sig.Name, sig.Body...); err != nil {
		log.Errorf("Failed to emit warning signal: %v", err)
	}
}
