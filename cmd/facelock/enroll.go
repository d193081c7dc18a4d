package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register a new person",
	Long: `Captures face samples from the camera for a few seconds and saves them
as a new person when enough usable samples were collected. Look at the camera
and move your head slightly while the bar fills.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("Please look at the camera with good lighting.")

	bar := progressbar.NewOptions(cfg.Enrollment.MaxSamples,
		progressbar.OptionSetDescription("Capturing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	engine := enrollment.NewEngine(a.source, a.analyzer, a.store, a.lock, cfg.Enrollment)
	res, err := engine.Enroll(ctx, func(p enrollment.Progress) {
		_ = bar.Set(p.Captured)
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	fmt.Println(res.Status)
	if err != nil {
		return err
	}
	if res.Outcome != enrollment.Committed {
		return fmt.Errorf("registration aborted: %s", res.Reason)
	}
	fmt.Printf("Total registered faces: %d\n", a.store.Count())
	return nil
}
