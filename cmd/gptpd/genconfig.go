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
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(genConfigCmd)
}

var genConfigCmd = &cobra.Command{
	Use:   "genconfig",
	Short: "print a starter config file to stdout",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := yaml.Marshal(DefaultConfig())
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
	},
}
