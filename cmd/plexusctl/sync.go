package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var watchPeerDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory for peer updates and apply them as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		dir := watchPeerDir
		if dir == "" {
			dir = filepath.Join(flagDir, ".plexus", "peers")
		}
		pw, err := newPeerWatcher(dir, doc, log)
		if err != nil {
			return err
		}
		defer pw.Close()

		fmt.Printf("watching %s for peer updates (ctrl-c to stop)\n", dir)
		return pw.Run()
	},
}

var syncPeerDir string

var syncCmd = &cobra.Command{
	Use:   "sync <label>",
	Short: "Publish the workspace's current state into the peer sync directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		dir := syncPeerDir
		if dir == "" {
			dir = filepath.Join(flagDir, ".plexus", "peers")
		}
		if err := publishUpdate(dir, doc, args[0]); err != nil {
			return err
		}
		fmt.Printf("published %s/%s.update\n", dir, args[0])
		return nil
	},
}

var compactAt string

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Take a snapshot of the workspace now, labelled with the current time or a natural-language --at time",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := doc.Root(context.Background()); err != nil {
			return err
		}

		at := time.Now()
		if compactAt != "" {
			at, err = nextCompactionTime(compactAt, time.Now())
			if err != nil {
				return err
			}
		}
		if err := runCompactionSnapshot(s, doc, at); err != nil {
			return err
		}
		fmt.Printf("snapshot recorded for %s\n", at.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchPeerDir, "peer-dir", "", "directory to watch for peer updates (default: <dir>/.plexus/peers)")
	syncCmd.Flags().StringVar(&syncPeerDir, "peer-dir", "", "directory to publish into (default: <dir>/.plexus/peers)")
	compactCmd.Flags().StringVar(&compactAt, "at", "", `natural-language time to label the snapshot with, e.g. "tomorrow at 3am"; the snapshot itself is taken immediately (default: now)`)
}
