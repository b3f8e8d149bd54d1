package nextcloud

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/mmcdole/kinoview/internal/domain"
	"golang.org/x/term"
)

// AuthFlow implements domain.AuthFlow with a login name and app password
type AuthFlow struct {
	logger *slog.Logger

	in           io.Reader
	out          io.Writer
	readPassword func() ([]byte, error)
}

// NewAuthFlow creates a new Nextcloud authentication flow on the terminal
func NewAuthFlow(logger *slog.Logger) *AuthFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthFlow{
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		},
	}
}

// Run prompts for credentials and verifies them against the server
func (f *AuthFlow) Run(ctx context.Context, serverURL string) (*domain.AuthResult, error) {
	serverURL = strings.TrimRight(serverURL, "/")

	fmt.Fprintln(f.out)
	fmt.Fprintln(f.out, "Nextcloud Authentication")
	fmt.Fprintln(f.out, "━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(f.out, "Create an app password under Settings > Security.")

	reader := bufio.NewReader(f.in)
	fmt.Fprint(f.out, "Login: ")
	username, err := reader.ReadString('\n')
	if err != nil && username == "" {
		return nil, fmt.Errorf("failed to read login: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(f.out, "App password: ")
	passwordBytes, err := f.readPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimSpace(string(passwordBytes))
	fmt.Fprintln(f.out)

	fmt.Fprintln(f.out, "Authenticating...")

	client := NewClient(serverURL, username, password, "", f.logger)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		f.logger.Error("nextcloud authentication failed", "error", err)
		return nil, err
	}

	fmt.Fprintln(f.out, "Authentication successful!")

	return &domain.AuthResult{
		Token:    password,
		UserID:   user.ID,
		Username: username,
	}, nil
}

// PromptForServerURL prompts the user to enter the Nextcloud server URL
func PromptForServerURL() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter your Nextcloud server URL (e.g., https://cloud.example.com): ")
	url, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(url), nil
}
