package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/device"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the lock device answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		var link device.Link
		if cfg.Device.Port == "" {
			link = device.NewLoopback()
		} else {
			l, err := device.Open(cfg.Device)
			if err != nil {
				return err
			}
			link = l
		}
		defer func() { _ = link.Close() }()

		if err := device.Ping(cmd.Context(), link); err != nil {
			return fmt.Errorf("device on %s not ready: %w", link.Name(), err)
		}
		fmt.Printf("Device on %s is ready\n", link.Name())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
