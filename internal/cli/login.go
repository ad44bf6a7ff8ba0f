package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const credentialsFileName = "credentials.json"

type credentials struct {
	Token string `json:"token"`
}

func newLoginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an API token",
		Long:  "Store a bearer token for later owl commands. Copy the token from the dashboard after signing in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Token: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return fmt.Errorf("token cannot be empty")
			}

			credPath, err := credentialsPath()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(credPath), 0700); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}

			data, err := json.MarshalIndent(credentials{Token: token}, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal credentials: %w", err)
			}
			if err := os.WriteFile(credPath, data, 0600); err != nil {
				return fmt.Errorf("write credentials: %w", err)
			}

			client.Token = token
			if resp, err := client.Get(cmd.Context(), "/api/v1/me"); err == nil {
				var me struct {
					Username string `json:"username"`
				}
				if resp.decode(&me) == nil && me.Username != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", me.Username)
				}
			} else {
				logger.Warn("token saved but could not be verified", "error", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved to %s\n", credPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "with-token", "", "Token to save (prompted if omitted)")
	return cmd
}

// credentialsPath returns ~/.owl/credentials.json, or $OWL_HOME/credentials.json.
func credentialsPath() (string, error) {
	if dir := os.Getenv("OWL_HOME"); dir != "" {
		return filepath.Join(dir, credentialsFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".owl", credentialsFileName), nil
}

// LoadToken reads the stored token, returning empty string if not found.
func LoadToken() string {
	p, err := credentialsPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return ""
	}
	return creds.Token
}
