package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "classcomm",
	Short: "Offline-first parent communication tracker for teachers",
	Long: `classcomm - Track students, contacts and parent communications from the
terminal. All data lives in a local database and syncs in the background
with a classcomm-sync server, so the tool stays fully usable offline.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir)

	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "data directory (default ~/.local/share/classcomm)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.AddCommand(versionCmd)
}

func initBaseDir() {
	if baseDir != "" {
		return
	}
	if v := os.Getenv("CLASSCOMM_DIR"); v != "" {
		baseDir = v
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = home + "/.local/share/classcomm"
}

// getBaseDir returns the data directory for the local store
func getBaseDir() string {
	return baseDir
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version",
	GroupID: "system",
	Run: func(cmd *cobra.Command, args []string) {
		if version == "" {
			version = "dev"
		}
		fmt.Println(version)
	},
}
