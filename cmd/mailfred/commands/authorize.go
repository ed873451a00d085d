package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Grant mailbox access for an owner from the terminal",
	Long: `authorize prints the Google consent link for --owner, reads the
authorization code back from stdin, stores the grant and restores any
messages left scheduled while the owner was unauthorized.`,
	RunE: runAuthorize,
}

func init() {
	authorizeCmd.Flags().StringVar(&owner, "owner", "", "Mailbox owner")
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	if err := requireOwner(); err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	authenticator, err := a.Authorizer()
	if err != nil {
		return err
	}

	authURL, err := authenticator.AuthCodeURL(owner)
	if err != nil {
		return err
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		return fmt.Errorf("failed to parse consent URL: %w", err)
	}
	state := parsed.Query().Get("state")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Go to the following link in your browser:\n%s\n", authURL)
	fmt.Fprintln(out, "\nAfter authorization, copy the 'code' parameter of the redirect URL.")
	fmt.Fprint(out, "\nEnter the authorization code: ")

	code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && code == "" {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	granted, err := authenticator.Complete(cmd.Context(), strings.TrimSpace(code), state)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nStored grant for %s\n", granted)

	result, err := a.Reconciler.ReconcileAfterReauth(cmd.Context(), granted)
	if err != nil {
		return fmt.Errorf("grant stored but reconciliation failed: %w", err)
	}
	return printJSON(cmd, result)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
