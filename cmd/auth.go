package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/classcomm/classcomm/internal/output"
	"github.com/classcomm/classcomm/internal/syncclient"
	"github.com/classcomm/classcomm/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to sync server with an API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = syncconfig.GetServerURL()
		}

		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		email, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(email)

		apiKey, err := readAPIKey()
		if err != nil {
			return err
		}
		if apiKey == "" {
			return fmt.Errorf("api key required")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		client := syncclient.New(serverURL, apiKey, "")
		if _, err := client.HealthCheck(ctx); err != nil {
			output.Error("server unreachable: %v", err)
			return err
		}
		status, err := client.SyncStatus(ctx)
		if err != nil {
			output.Error("key rejected: %v", err)
			return err
		}
		if email == "" {
			email = status.Email
		}

		creds := &syncconfig.AuthCredentials{
			APIKey:    apiKey,
			UserID:    status.UserID,
			Email:     email,
			ServerURL: serverURL,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		output.Success("Logged in to %s", serverURL)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			return err
		}
		output.Success("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in")
			return nil
		}
		fmt.Printf("Server: %s\n", creds.ServerURL)
		if creds.Email != "" {
			fmt.Printf("Email:  %s\n", creds.Email)
		}
		fmt.Printf("Key:    %s...\n", keyPrefix(creds.APIKey))
		return nil
	},
}

// readAPIKey prompts for the key without echoing when stdin is a terminal.
func readAPIKey() (string, error) {
	fmt.Print("API key: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read api key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func keyPrefix(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func init() {
	authLoginCmd.Flags().String("server", "", "sync server URL")
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
