package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"golang.org/x/term"
)

// Inputs are collected once before the run. Password is never persisted.
type Inputs struct {
	Email       string
	Password    string
	OrdersURL   string
	DownloadDir string
}

// Validate reports every empty field in one error.
func (in Inputs) Validate() error {
	var missing []string
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(in.OrdersURL) == "" {
		missing = append(missing, "orders URL")
	}
	if strings.TrimSpace(in.DownloadDir) == "" {
		missing = append(missing, "download directory")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return validateOrdersURL(in.OrdersURL)
}

func validateOrdersURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid orders URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("orders URL must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("orders URL must include a host")
	}
	return nil
}

// promptPassword reads a password without echo when stdin is a terminal.
// It returns "" when there is no terminal to ask.
func promptPassword(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprint(out, T("password_prompt"))
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}
