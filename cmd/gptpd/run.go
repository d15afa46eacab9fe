/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-gptp/gptpcore/env"
	"github.com/go-gptp/gptpcore/env/linuxenv"
	"github.com/go-gptp/gptpcore/env/simenv"
	"github.com/go-gptp/gptpcore/gptp"
	"github.com/go-gptp/gptpcore/ptptime"
)

func init() {
	RootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the gPTP engine in the foreground",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := ReadConfig(rootConfigFlag)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		configureLogging(cfg.LogLevel)
		if err := runDaemon(cfg); err != nil {
			log.WithError(err).Fatal("gptpd: fatal error")
		}
	},
}

// tickIntervalNS is TimerPeriodic's cooperative cadence.
const tickIntervalNS = 1_000_000

// frameEvent carries one received frame from a per-port reader onto the
// single goroutine that drives the Engine.
type frameEvent struct {
	port    uint8
	frame   []byte
	ingress ptptime.Unsigned
}

// egressEvent carries one TX-timestamp confirmation.
type egressEvent struct {
	port    uint8
	frameID uint8
	egress  ptptime.Unsigned
}

func runDaemon(cfg *Config) error {
	numPorts := uint8(len(cfg.Ports))

	engineCfg, environment, closeFn, err := buildEnvironment(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	e := gptp.NewEngine()
	if err := e.Init(engineCfg, env.Callbacks(environment), environment.Now()); err != nil {
		return fmt.Errorf("gptpd: init: %w", err)
	}
	log.WithField("product", e.ProductDescription()).Info("gptpd: engine initialized")

	frames := make(chan frameEvent, 64)
	egress := make(chan egressEvent, 64)
	stop := make(chan struct{})

	startReaders(cfg, environment, numPorts, frames, egress, stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickIntervalNS * time.Nanosecond)
	defer ticker.Stop()

	statusTicker := time.NewTicker(time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-sig:
			close(stop)
			return nil
		case t := <-ticker.C:
			e.TimerPeriodic(t)
		case fe := <-frames:
			if err := e.MsgReceive(fe.port, fe.frame, fe.ingress, environment.Now()); err != nil {
				log.WithError(err).WithField("port", fe.port).Debug("gptpd: MsgReceive rejected frame")
			}
		case ee := <-egress:
			if err := e.TimeStampHandler(ee.port, ee.frameID, ee.egress.Seconds, ee.egress.Nanoseconds, environment.Now()); err != nil {
				log.WithError(err).WithField("port", ee.port).Debug("gptpd: TimeStampHandler rejected")
			}
		case <-statusTicker.C:
			printStatus(e, cfg)
		}
	}
}

// driver is the subset of a backend a driving loop needs beyond
// env.Environment: a way to pull received frames and reap TX timestamps.
type driver interface {
	env.Environment
	ReceiveFrame(port uint8) ([]byte, ptptime.Unsigned, error)
	ReapEgress(port uint8) (frameID uint8, egress ptptime.Unsigned, ok bool)
}

// buildEnvironment constructs either the real linuxenv backend or the
// in-memory simenv demo backend, translating cfg into a gptp.EngineConfig
// along the way (MAC resolution differs between the two).
func buildEnvironment(cfg *Config) (gptp.EngineConfig, driver, func(), error) {
	if cfg.Sim {
		macs := make([]net.HardwareAddr, len(cfg.Ports))
		for i := range cfg.Ports {
			macs[i] = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(i + 1)}
		}
		clock := simenv.NewClock(time.Now())
		simEnv := simenv.New(clock, macs)
		for i := 1; i < len(macs); i++ {
			simenv.Connect(simEnv.NIC(uint8(i-1)), simEnv.NIC(uint8(i)))
		}
		engineCfg, err := cfg.toEngineConfig(func(string) (net.HardwareAddr, error) { return nil, nil })
		if err != nil {
			return gptp.EngineConfig{}, nil, nil, err
		}
		for i := range engineCfg.Ports {
			engineCfg.Ports[i].MAC = macs[i]
		}
		return engineCfg, &simDriver{Environment: simEnv, numPorts: len(macs)}, nil, nil
	}

	ts, err := cfg.timestampKind()
	if err != nil {
		return gptp.EngineConfig{}, nil, nil, err
	}
	specs := make([]linuxenv.PortSpec, len(cfg.Ports))
	for i, p := range cfg.Ports {
		specs[i] = linuxenv.PortSpec{Index: uint8(i), Interface: p.Interface}
	}
	le, err := linuxenv.New(specs, ts, cfg.ClockID, cfg.NvmPath)
	if err != nil {
		return gptp.EngineConfig{}, nil, nil, err
	}
	engineCfg, err := cfg.toEngineConfig(resolveInterfaceMAC)
	if err != nil {
		le.Close()
		return gptp.EngineConfig{}, nil, nil, err
	}
	return engineCfg, le, le.Close, nil
}

// startReaders launches one blocking-receive goroutine per port for the
// real backend, or a single poller for the simulated one, and a
// TX-timestamp poller per port. Every goroutine only ever writes to
// frames/egress; the select loop in runDaemon is the sole place Engine
// methods are called from.
func startReaders(cfg *Config, d driver, numPorts uint8, frames chan<- frameEvent, egress chan<- egressEvent, stop <-chan struct{}) {
	if cfg.Sim {
		go func() {
			t := time.NewTicker(time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					for port := uint8(0); port < numPorts; port++ {
						if frame, ingress, err := d.ReceiveFrame(port); err == nil {
							frames <- frameEvent{port: port, frame: frame, ingress: ingress}
						}
						if frameID, ts, ok := d.ReapEgress(port); ok {
							egress <- egressEvent{port: port, frameID: frameID, egress: ts}
						}
					}
				}
			}
		}()
		return
	}

	for port := uint8(0); port < numPorts; port++ {
		port := port
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				frame, ingress, err := d.ReceiveFrame(port)
				if err != nil {
					log.WithError(err).WithField("port", port).Trace("gptpd: ReceiveFrame")
					continue
				}
				frames <- frameEvent{port: port, frame: frame, ingress: ingress}
			}
		}()
		go func() {
			t := time.NewTicker(time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					if frameID, ts, ok := d.ReapEgress(port); ok {
						egress <- egressEvent{port: port, frameID: frameID, egress: ts}
					}
				}
			}
		}()
	}
}

// printStatus prints a one-line colorized lock-state banner for every
// configured domain.
func printStatus(e *gptp.Engine, cfg *Config) {
	for _, d := range cfg.Domains {
		locked := e.GetStatsValue(uint16(d.DomainNumber), 0, gptp.CounterSyncReceived) > 0
		label := color.YellowString("[WAIT]")
		if locked {
			label = color.GreenString("[SYNC]")
		}
		fmt.Printf("%s domain %d\n", label, d.DomainNumber)
	}
}

// simDriver adapts simenv.Environment's NIC-indexed API to the driver
// interface, draining each NIC's receive queue and TX-timestamp queue in
// order.
type simDriver struct {
	*simenv.Environment
	numPorts int
	nextTX   []int
}

func (s *simDriver) ReceiveFrame(port uint8) ([]byte, ptptime.Unsigned, error) {
	frame, ingress, _, ok := s.NIC(port).NextFrame()
	if !ok {
		return nil, ptptime.Unsigned{}, fmt.Errorf("simdriver: no frame pending on port %d", port)
	}
	return frame, ingress, nil
}

func (s *simDriver) ReapEgress(port uint8) (uint8, ptptime.Unsigned, bool) {
	if s.nextTX == nil {
		s.nextTX = make([]int, s.numPorts)
	}
	idx := s.nextTX[port]
	ts, ok := s.NIC(port).PopTXTimestamp(idx)
	if !ok {
		return 0, ptptime.Unsigned{}, false
	}
	s.nextTX[port]++
	return uint8(idx), ts, true
}
