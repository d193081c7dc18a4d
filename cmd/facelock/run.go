package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/control"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/enrollment"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/verification"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the camera and drive the lock",
	Long: `Starts the verification loop. Every control interval the latest camera
frame is verified against the registered faces and the lock is opened for a
match and closed otherwise. Commands are read from stdin:

  e, enroll   register a new person
  c, count    show the number of saved faces
  r, reset    delete all registrations and reset the device
  q, quit     secure the lock and exit`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	verifier := verification.NewEngine(a.analyzer, cfg.Recognition.ConfidenceThreshold, cfg.Recognition.Index)
	enroller := enrollment.NewEngine(a.source, a.analyzer, a.store, a.lock, cfg.Enrollment)

	loop := control.NewLoop(control.Components{
		Source:   a.source,
		Verifier: verifier,
		Enroller: enroller,
		Store:    a.store,
		Lock:     a.lock,
	}, cfg.Control.Interval)

	printer := newStatusPrinter(os.Stdout)
	loop.OnChange(printer.Print)

	fmt.Println(intentHelp)
	go readIntents(ctx, os.Stdin, os.Stderr, loop.Submit)

	return loop.Run(ctx)
}
