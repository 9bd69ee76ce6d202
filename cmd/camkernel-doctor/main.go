// SPDX-License-Identifier: MIT

// Command camkernel-doctor runs the kernel's preflight diagnostics
// (spec.md §7 "infrastructural" checks plus SPEC_FULL.md §12's
// supplemented environment checks, adapted from the teacher's
// internal/diagnostics package and the original Python
// check_ffmpeg/check_config_file helpers): it confirms the transcoder
// binaries are on PATH and runnable, the declaration file exists and
// parses, every configured root directory is writable, and the
// configured disk-space floor is currently satisfied, then exits
// non-zero if anything is unhealthy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/config"
	"github.com/tomtom215/camkernel/internal/diagnostics"
)

func main() {
	configPath := flag.String("config", config.ConfigFilePath, "Path to the kernel's YAML configuration file")
	probeRTSP := flag.Bool("probe-rtsp", false, "Also dial every declared camera's RTSP URL")
	asJSON := flag.Bool("json", false, "Print the report as JSON instead of text")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout for the diagnostic pass")
	flag.Parse()

	kc, err := config.NewKoanfConfig(config.WithYAMLFile(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "camkernel-doctor: failed to initialize configuration:", err)
		os.Exit(2)
	}
	cfg, err := kc.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "camkernel-doctor: failed to load configuration:", err)
		os.Exit(2)
	}

	registry := camera.NewRegistry(cfg.Roots.CameraConfigPath)
	// A missing or unparseable declaration file is itself a diagnostic
	// finding, not a fatal error here — the registry starts empty and
	// the runner's own check surfaces the problem.
	_, _ = registry.Load(true)

	runner := diagnostics.NewRunner(cfg, registry, *probeRTSP)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "camkernel-doctor: diagnostic run failed:", err)
		os.Exit(2)
	}

	if *asJSON {
		out, err := report.ToJSON()
		if err != nil {
			fmt.Fprintln(os.Stderr, "camkernel-doctor: failed to render JSON:", err)
			os.Exit(2)
		}
		fmt.Println(string(out))
	} else {
		diagnostics.PrintReport(os.Stdout, report)
	}

	if !report.Healthy {
		os.Exit(1)
	}
}
