package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photo-mapper",
	Short: "A CLI tool for matching photos to identity records and cropping portraits",
	Long: `Photo Mapper matches a directory of photographs against a roster of
identity records (exact identifier, string similarity, AI-judged name
comparison) and produces standardized portrait crops driven by face/eye
landmark detection.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
