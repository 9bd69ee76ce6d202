// SPDX-License-Identifier: MIT

// Command camkernel-wizard is a small interactive companion to camkernel
// that appends one camera record to the declaration file (spec.md §4.C)
// via a huh.Form, adapted from the teacher's interactive device-menu
// package. It is the declaration file's only human-facing write path;
// hand-editing the CSV remains supported and this tool changes nothing
// about the grammar it writes.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/config"
)

func main() {
	configPath := flag.String("camera-config", config.DefaultConfig().Roots.CameraConfigPath, "Path to the camera declaration file")
	flag.Parse()

	rec, err := promptRecord()
	if err != nil {
		fmt.Fprintln(os.Stderr, "camkernel-wizard:", err)
		os.Exit(1)
	}

	registry := camera.NewRegistry(*configPath)
	existing, err := registry.Load(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "camkernel-wizard: failed to load existing declarations:", err)
		os.Exit(1)
	}

	for _, r := range existing {
		if r.ID == rec.ID {
			fmt.Fprintf(os.Stderr, "camkernel-wizard: camera id %q already declared\n", rec.ID)
			os.Exit(1)
		}
	}

	if err := registry.Write(append(existing, rec)); err != nil {
		fmt.Fprintln(os.Stderr, "camkernel-wizard: failed to write declaration file:", err)
		os.Exit(1)
	}

	fmt.Printf("added camera %q (%s) to %s\n", rec.ID, rec.Name, *configPath)
}

// promptRecord walks the operator through the fields of one camera
// record using the same huh.Form idiom as the teacher's interactive menu.
func promptRecord() (camera.Record, error) {
	var (
		id, name, url     string
		enabled, autoRec  bool = true, false
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Camera ID").
				Description("Stable key used in every archive/playlist path").
				Value(&id).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("camera id must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Display name").
				Value(&name).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("name must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("RTSP URL").
				Description("e.g. rtsp://192.0.2.10:554/stream1").
				Value(&url).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("rtsp url must not be empty")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Enabled").
				Affirmative("Yes").
				Negative("No").
				Value(&enabled),
			huh.NewConfirm().
				Title("Auto-record on startup").
				Affirmative("Yes").
				Negative("No").
				Value(&autoRec),
		),
	)

	if err := form.Run(); err != nil {
		return camera.Record{}, err
	}

	return camera.Record{
		ID:         id,
		Name:       name,
		RTSPURL:    url,
		Enabled:    &enabled,
		AutoRecord: &autoRec,
	}, nil
}
