package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvelasco/photo-mapper/internal/config"
	"github.com/mvelasco/photo-mapper/internal/detect"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the detection cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print detection cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cacheFile(cmd)
		if err != nil {
			return err
		}

		cache := detect.NewCache(path)
		total, valid := cache.Stats()
		fmt.Printf("Cache file: %s\n", path)
		fmt.Printf("Entries:    %d\n", total)
		fmt.Printf("Valid:      %d\n", valid)
		fmt.Printf("Stale:      %d\n", total-valid)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all detection cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cacheFile(cmd)
		if err != nil {
			return err
		}

		cache := detect.NewCache(path)
		total, _ := cache.Stats()
		cache.Clear()
		if err := cache.Save(); err != nil {
			return err
		}
		fmt.Printf("Cleared %d entries from %s\n", total, path)
		return nil
	},
}

func cacheFile(cmd *cobra.Command) (string, error) {
	path := mustGetString(cmd, "cache")
	if path == "" {
		path = config.Load().Detect.CachePath
	}
	if path == "" {
		return "", fmt.Errorf("no cache file: pass --cache or set DETECT_CACHE_PATH")
	}
	return path, nil
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheCmd.PersistentFlags().String("cache", "", "Detection cache file (default from DETECT_CACHE_PATH)")
}
