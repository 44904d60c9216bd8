// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/config"
)

// debugCmd dumps the resolved configuration, flags and WARDEN_* environment
// for support requests. The output can contain DSNs; treat it as sensitive.
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dump debug information about config, env, flags and settings",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("--- WARDEN DEBUG ---")
		fmt.Printf("Config file used: %s\n", viper.ConfigFileUsed())

		if b, err := json.MarshalIndent(viper.AllSettings(), "", "  "); err != nil {
			log.Errorf("could not marshal viper settings: %v", err)
		} else {
			fmt.Println("-- viper.AllSettings() --")
			fmt.Println(string(b))
		}

		resolved, err := config.LoadConfig[config.Config](cmd, config.Defaults(), &cfgFile)
		if err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				log.Errorf("could not resolve typed config: %v", err)
			}
		}
		if b, err := json.MarshalIndent(resolved, "", "  "); err == nil {
			fmt.Println("-- resolved config --")
			fmt.Println(string(b))
		}

		fmt.Println("-- persistent flags --")
		cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
			fmt.Printf("%s=%q (changed: %t)\n", f.Name, f.Value.String(), f.Changed)
		})

		fmt.Println("-- WARDEN_* environment --")
		for _, e := range os.Environ() {
			if strings.HasPrefix(e, "WARDEN_") {
				fmt.Println(e)
			}
		}
		if wd, err := os.Getwd(); err == nil {
			fmt.Printf("PWD: %s\n", wd)
		}
		fmt.Println("--- END DEBUG ---")
	},
}
