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

// Command gptpd runs a gPTP endpoint/bridge engine against either real
// Ethernet interfaces or an in-memory simulated link.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is the top-level gptpd command; subcommands register themselves
// onto it from their own init().
var RootCmd = &cobra.Command{
	Use:   "gptpd",
	Short: "IEEE 802.1AS gPTP endpoint and bridge daemon",
}

var rootConfigFlag string
var rootVerboseFlag bool

func init() {
	RootCmd.PersistentFlags().StringVarP(&rootConfigFlag, "config", "c", "/etc/gptpd/gptpd.yaml", "path to the daemon config file")
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose logging")
}

// configureLogging applies the config file's log_level, then the verbose
// flag if it was passed, to the package-wide logrus logger.
func configureLogging(level string) {
	log.SetLevel(log.InfoLevel)
	if level != "" {
		if lvl, err := log.ParseLevel(level); err == nil {
			log.SetLevel(lvl)
		} else {
			log.WithError(err).WithField("log_level", level).Warn("gptpd: unrecognized log_level, defaulting to info")
		}
	}
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute is gptpd's entry point.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
