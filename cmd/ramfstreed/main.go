// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ramfstreed builds an in-memory, size-bounded volume and its host
// shim, then waits until interrupted. It attaches no filesystem driver to
// the shim.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moby/sys/mountinfo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/fsnode/filetree/filetree"
	"github.com/fsnode/filetree/internal/buildinfo"
	"github.com/fsnode/filetree/internal/config"
	"github.com/fsnode/filetree/internal/hostshim"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ramfstreed:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		sizeStr  string
		caseSens bool
		label    string
		fsName   string
		security string
		debug    bool
		showVer  bool
	)
	pflag.StringVar(&sizeStr, "size", "", "volume size, e.g. 512M, 2G (default 2G)")
	pflag.BoolVar(&caseSens, "case-sensitive", false, "use case-sensitive name comparison")
	pflag.StringVar(&label, "label", "ramfstree", "volume label")
	pflag.StringVar(&fsName, "file-system-name", "RAMFSTREE", "reported file system name")
	pflag.StringVar(&security, "security", "", "SDDL string for the root directory's security descriptor")
	pflag.BoolVar(&debug, "debug", false, "enable verbose logging and run Validate at shutdown")
	pflag.BoolVar(&showVer, "version", false, "print version information and exit")
	pflag.Parse()

	if showVer {
		fmt.Println(buildinfo.String())
		return nil
	}

	if pflag.NArg() != 1 {
		return fmt.Errorf("usage: ramfstreed [flags] <mount-point>")
	}

	size, err := config.ParseSize(sizeStr)
	if err != nil {
		return err
	}
	opts := config.Options{
		Size:           size,
		CaseSensitive:  caseSens,
		Label:          label,
		FileSystemName: fsName,
		Security:       security,
		Debug:          debug,
		MountPoint:     pflag.Arg(0),
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	log := logrus.New()
	if opts.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if mounted, err := mountinfo.Mounted(opts.MountPoint); err != nil {
		log.WithError(err).Warn("could not inspect mount table; proceeding anyway")
	} else if mounted {
		return fmt.Errorf("%s is already a mount point", opts.MountPoint)
	}

	if free, err := hostshim.HostFreeBytes(opts.MountPoint); err != nil {
		log.WithError(err).Debug("host free space check unavailable")
	} else if free < opts.Size {
		log.WithFields(logrus.Fields{"hostFree": free, "requested": opts.Size}).
			Warn("requested volume size exceeds free space backing the mount point")
	}

	var sddl []byte
	if opts.Security != "" {
		sddl = []byte(opts.Security)
	}

	tree, err := filetree.NewFileTree(opts.Size, !opts.CaseSensitive, filetree.Times{}, sddl)
	if err != nil {
		return fmt.Errorf("creating volume: %w", err)
	}

	shim := hostshim.New(tree, log)
	shim.Log.WithFields(logrus.Fields{
		"size":       opts.Size,
		"label":      opts.Label,
		"mountPoint": opts.MountPoint,
		"caseMode":   caseModeString(opts.CaseSensitive),
	}).Info("volume ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		shim.Log.WithField("signal", sig).Info("shutting down")
	case <-ctx.Done():
	}

	if opts.Debug {
		if err := filetree.Validate(tree); err != nil {
			shim.Log.WithError(err).Error("final validation found inconsistencies")
		}
	}
	return nil
}

func caseModeString(sensitive bool) string {
	if sensitive {
		return "sensitive"
	}
	return "insensitive"
}
