//go:build (linux && !android) || darwin

// Command memio inspects and exercises memio shared regions: it can create
// and publish buffers, read peers' regions through their manifests, watch for
// version changes, and clean up regions orphaned by crashed processes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/memio/internal/config"
	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/platform"
	"github.com/nmxmxh/memio/internal/utils"
)

var (
	manifestFlag string
	capacityFlag int
	versionFlag  uint64
	timeoutFlag  time.Duration
)

func main() {
	log := utils.DefaultLogger("memio")

	cfg, err := config.Resolve(".")
	if err != nil {
		log.Warn("config load failed, using defaults", utils.Err(err))
		cfg = config.Default()
	}
	log.SetLevel(cfg.Level())

	root := &cobra.Command{
		Use:           "memio",
		Short:         "Inspect and exercise memio shared regions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&manifestFlag, "manifest", os.Getenv(platform.RegistryEnvVar),
		"manifest file of the publishing process (defaults to $MEMIO_SHARED_REGISTRY)")

	writeCmd := &cobra.Command{
		Use:   "write <name> <data>",
		Short: "Create a buffer, publish data into it, and hold it until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(log, cfg, args[0], []byte(args[1]))
		},
	}
	writeCmd.Flags().IntVar(&capacityFlag, "capacity", 0, "payload capacity in bytes (default from config)")
	writeCmd.Flags().Uint64Var(&versionFlag, "version", 1, "version to stamp on the write")

	readCmd := &cobra.Command{
		Use:   "read <name>",
		Short: "Read a buffer published by another process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0])
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show a buffer's header metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args[0])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List buffers advertised by a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Poll a buffer and print each new version as it lands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(log, cfg, args[0])
		},
	}
	watchCmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "give up after this long without a change")

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete region files whose owning process is no longer alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(log, cfg)
		},
	}

	root.AddCommand(writeCmd, readCmd, infoCmd, listCmd, watchCmd, cleanCmd)

	if err := root.Execute(); err != nil {
		log.Error("command failed", utils.Err(err))
		os.Exit(1)
	}
}

func runWrite(log *utils.Logger, cfg config.Config, name string, data []byte) error {
	manager, err := platform.NewManager()
	if err != nil {
		return err
	}
	defer manager.Close()

	capacity := capacityFlag
	if capacity <= 0 {
		capacity = cfg.DefaultCapacity
	}
	if err := manager.CreateBuffer(name, capacity); err != nil {
		return err
	}
	result, err := manager.Write(name, versionFlag, data)
	if err != nil {
		return err
	}

	log.Info("published",
		utils.String("name", name),
		utils.Uint64("version", result.Version),
		utils.Int("length", result.Length),
		utils.String("manifest", manager.RegistryPath()))
	fmt.Println("holding region; press ctrl-c to release")
	select {}
}

func runRead(name string) error {
	region, err := openPeerRegion(name)
	if err != nil {
		return err
	}
	defer region.Close()

	data, err := region.Read()
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	fmt.Println()
	return nil
}

func runInfo(name string) error {
	region, err := openPeerRegion(name)
	if err != nil {
		return err
	}
	defer region.Close()

	info, err := region.Info()
	if err != nil {
		return err
	}
	fmt.Printf("name:     %s\n", info.Name)
	if info.Path != "" {
		fmt.Printf("path:     %s\n", info.Path)
	}
	fmt.Printf("version:  %d\n", info.Version)
	fmt.Printf("length:   %d\n", info.Length)
	fmt.Printf("capacity: %d\n", info.Capacity)
	return nil
}

func runList() error {
	entries, err := peerManifest()
	if err != nil {
		return err
	}
	for name, path := range entries {
		fmt.Printf("%s=%s\n", name, path)
	}
	return nil
}

func runWatch(log *utils.Logger, cfg config.Config, name string) error {
	region, err := openPeerRegion(name)
	if err != nil {
		return err
	}
	defer region.Close()

	last, err := region.Version()
	if err != nil {
		return err
	}
	log.Info("watching", utils.String("name", name), utils.Uint64("version", last))

	deadline := time.Now().Add(timeoutFlag)
	for {
		current, err := region.Version()
		if err != nil {
			return err
		}
		if current != last {
			data, err := region.Read()
			if err != nil {
				return err
			}
			log.Info("changed", utils.Uint64("version", current), utils.Int("length", len(data)))
			last = current
			deadline = time.Now().Add(timeoutFlag)
			continue
		}
		if time.Now().After(deadline) {
			log.Info("no change before timeout", utils.String("name", name))
			return nil
		}
		time.Sleep(cfg.PollInterval())
	}
}

func runClean(log *utils.Logger, cfg config.Config) error {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = platform.DefaultBaseDir()
	}
	platform.CleanupOrphanedFiles(baseDir, log)
	return nil
}

// peerManifest loads the manifest named by --manifest.
func peerManifest() (map[string]string, error) {
	if manifestFlag == "" {
		return nil, fmt.Errorf("no manifest: pass --manifest or set %s", platform.RegistryEnvVar)
	}
	data, err := os.ReadFile(manifestFlag)
	if err != nil {
		return nil, err
	}
	return platform.ParseManifest(data), nil
}

// openPeerRegion resolves a name through the peer manifest and maps the
// backing file directly.
func openPeerRegion(name string) (core.Region, error) {
	entries, err := peerManifest()
	if err != nil {
		return nil, err
	}
	path, ok := entries[name]
	if !ok || path == "" {
		return nil, core.ErrNotFound(name)
	}
	return platform.NewPosixFactory().OpenPath(name, path)
}
