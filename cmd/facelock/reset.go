package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/device"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/lock"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all registrations and reset the lock device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes && !confirm(bufio.NewReader(os.Stdin), os.Stdout, "Are you sure you want to delete all registered faces?") {
			fmt.Println("Aborted.")
			return nil
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.ResetAll(); err != nil {
			fmt.Printf("Reset failed: %v\n", err)
			return err
		}

		link := device.Connect(cmd.Context(), cfg.Device)
		defer func() { _ = link.Close() }()
		if err := lock.NewController(link).Reset(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: device reset not acknowledged: %v\n", err)
		}

		fmt.Println("System reset completed")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
