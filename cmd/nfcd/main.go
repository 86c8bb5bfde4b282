// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/logging"
	"github.com/ZaparooProject/go-nfc/internal/settings"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/ZaparooProject/go-nfc/internal/virtual"
	"github.com/ZaparooProject/go-nfc/service"
)

// version is set at build time
var version = "dev"

type config struct {
	stateFile string
	logDir    string
	debug     bool
	demo      bool
	sentry    bool
}

var (
	flagStateFile string
	flagLogDir    string
	flagDebug     bool
	flagDemo      bool
	flagSentry    bool
)

func init() {
	flag.StringVar(&flagStateFile, "state-file", "", "Settings file (default: user config dir)")
	flag.StringVar(&flagLogDir, "log-dir", "", "Write a session log to this directory")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagDemo, "demo", false, "Run a scripted tag and card-emulation demo against the virtual controller")
	flag.BoolVar(&flagSentry, "sentry", false, "Report errors to Sentry (DSN from NFCD_SENTRY_DSN)")
}

func parseConfig() *config {
	cfg := &config{
		stateFile: flagStateFile,
		logDir:    flagLogDir,
		debug:     flagDebug,
		demo:      flagDemo,
		sentry:    flagSentry,
	}
	if cfg.debug {
		nfc.SetDebugEnabled(true)
	}
	return cfg
}

func openSettings(path string) (*settings.Store, error) {
	if path == "" {
		def, err := settings.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve settings path: %w", err)
		}
		path = def
	}
	store, err := settings.Open(path)
	if err != nil {
		// the next save rewrites an unreadable file
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
	}
	return store, nil
}

// printingSystem reports application launches on stdout
type printingSystem struct {
	*virtual.System
}

func (p printingSystem) StartAbility(element nfc.ElementName, tag *nfc.TagInfo) error {
	_, _ = fmt.Printf("Launching %s for tag %X\n", element, tag.UID)
	return p.System.StartAbility(element, tag)
}

func (p printingSystem) StartAbilitySelector(candidates []nfc.ElementName, tag *nfc.TagInfo) error {
	_, _ = fmt.Printf("Asking user to pick one of %v for tag %X\n", candidates, tag.UID)
	return p.System.StartAbilitySelector(candidates, tag)
}

func (p printingSystem) PublishAidConflicted(aid string, candidates []nfc.ElementName) {
	_, _ = fmt.Printf("AID %s claimed by %v, no default\n", aid, candidates)
	p.System.PublishAidConflicted(aid, candidates)
}

func run(ctx context.Context, cfg *config) error {
	store, err := openSettings(cfg.stateFile)
	if err != nil {
		return err
	}

	if logging.InitSentry(logging.Options{
		Enabled: cfg.sentry || store.IsCrashReportingEnabled(),
		Release: version,
	}) {
		defer logging.FlushSentry(2 * time.Second)
	}

	if cfg.logDir != "" {
		path, logErr := nfc.InitSessionLog(cfg.logDir)
		if logErr != nil {
			return fmt.Errorf("failed to open session log: %w", logErr)
		}
		defer func() {
			_ = nfc.CloseSessionLog()
		}()
		_, _ = fmt.Printf("Session log: %s\n", path)
	}

	ctrl := virtual.NewController()
	sys := printingSystem{System: virtual.NewSystem()}

	svcConfig := service.DefaultConfig()
	// AID table pushes hold the commit lock across controller round trips
	syncutil.SetLockTimeout(svcConfig.InitTimeout)

	svc, err := service.New(service.Deps{
		Nfcc:       ctrl,
		Tags:       ctrl,
		Ce:         ctrl,
		Prefs:      store,
		Foreground: sys,
		Starter:    sys,
		Notifier:   sys,
	}, svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create NFC service: %w", err)
	}
	defer svc.Close()

	if _, err := svc.RegisterNfcStatusCallback(func(state nfc.State) {
		_, _ = fmt.Printf("NFC state: %s\n", state)
	}); err != nil {
		return fmt.Errorf("failed to register status callback: %w", err)
	}

	if err := svc.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize NFC service: %w", err)
	}

	if cfg.demo {
		if err := runDemo(ctx, svc, ctrl, sys.System); err != nil {
			return err
		}
	}

	_, _ = fmt.Println("nfcd running. Press Ctrl+C to stop...")
	<-ctx.Done()

	svc.HandleShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.WaitIdle(shutdownCtx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Shutdown did not complete: %v\n", err)
	}
	return ctx.Err()
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
