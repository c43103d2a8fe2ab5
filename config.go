package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxOrderLimit caps how many listing positions a single run may touch.
const MaxOrderLimit = 5

const defaultDownloadDir = "/app/invoices"

type Config struct {
	OrdersURL   string `yaml:"orders_url"`
	DownloadDir string `yaml:"download_dir"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	BrowserBin         string `yaml:"browser_bin"`

	Headless       bool `yaml:"headless"`
	ViewportWidth  int  `yaml:"viewport_width"`
	ViewportHeight int  `yaml:"viewport_height"`

	MaxOrders    int    `yaml:"max_orders"`
	SignInMarker string `yaml:"signin_marker"`

	// All timeouts and delays are in seconds.
	PageLoadTimeout int  `yaml:"page_load_timeout"`
	ElementTimeout  int  `yaml:"element_timeout"`
	SettleTimeout   int  `yaml:"settle_timeout"`
	PopoverDelay    int  `yaml:"popover_delay"`
	PopoverTimeout  int  `yaml:"popover_timeout"`
	VerifyDownloads bool `yaml:"verify_downloads"`
	DownloadTimeout int  `yaml:"download_timeout"`
	PostClickDelay  int  `yaml:"post_click_delay"`
	TeardownDelay   int  `yaml:"teardown_delay"`

	MetricsFile string `yaml:"metrics_file"`
	DebugMode   bool   `yaml:"debug_mode"`

	Selectors SelectorConfig `yaml:"selectors"`
}

// SelectorConfig holds XPath expressions. OrderID and InvoiceTrigger are
// relative to OrderCard; with OrderCard empty they are page-level and paired
// by position.
type SelectorConfig struct {
	OrderList        string `yaml:"order_list"`
	OrderCard        string `yaml:"order_card"`
	OrderID          string `yaml:"order_id"`
	InvoiceTrigger   string `yaml:"invoice_trigger"`
	PrintableSummary string `yaml:"printable_summary"`

	EmailInput     string `yaml:"email_input"`
	ContinueButton string `yaml:"continue_button"`
	PasswordInput  string `yaml:"password_input"`
	SubmitButton   string `yaml:"submit_button"`
}

func DefaultConfig() *Config {
	return &Config{
		OrdersURL:       "",
		DownloadDir:     defaultDownloadDir,
		Headless:        true,
		ViewportWidth:   1920,
		ViewportHeight:  1080,
		MaxOrders:       MaxOrderLimit,
		SignInMarker:    "signin",
		PageLoadTimeout: 30,
		ElementTimeout:  10,
		SettleTimeout:   5,
		PopoverDelay:    0,
		PopoverTimeout:  10,
		VerifyDownloads: true,
		DownloadTimeout: 30,
		PostClickDelay:  5,
		TeardownDelay:   5,
		Selectors: SelectorConfig{
			OrderList:        `//*[@id="a-page"]/section/div/li`,
			OrderCard:        `//*[@id="a-page"]/section/div/li`,
			OrderID:          `./div/div/div[1]/div/div/div/h5/div[2]/div[1]/div/span[2]`,
			InvoiceTrigger:   `./div/div/div[1]/div/div/div/h5/div[2]/div[2]/div/ul/li[2]/span/a`,
			PrintableSummary: `//div[contains(@id, 'a-popover-content')]/ul/li/span/a`,
			EmailInput:       `//*[@id="ap_email"]`,
			ContinueButton:   `//*[@id="continue"]`,
			PasswordInput:    `//*[@id="ap_password"]`,
			SubmitButton:     `//*[@id="signInSubmit"]`,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks everything that does not depend on user inputs.
func (c *Config) Validate() error {
	if c.MaxOrders < 1 || c.MaxOrders > MaxOrderLimit {
		return fmt.Errorf("max orders must be between 1 and %d, got %d", MaxOrderLimit, c.MaxOrders)
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.SignInMarker == "" {
		return fmt.Errorf("signin marker cannot be empty")
	}

	positive := map[string]int{
		"page load timeout": c.PageLoadTimeout,
		"element timeout":   c.ElementTimeout,
		"settle timeout":    c.SettleTimeout,
		"popover timeout":   c.PopoverTimeout,
		"download timeout":  c.DownloadTimeout,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	nonNegative := map[string]int{
		"popover delay":    c.PopoverDelay,
		"post click delay": c.PostClickDelay,
		"teardown delay":   c.TeardownDelay,
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}

	return c.Selectors.Validate()
}

func (s SelectorConfig) Validate() error {
	required := []struct {
		name, value string
	}{
		{"order_list", s.OrderList},
		{"order_id", s.OrderID},
		{"invoice_trigger", s.InvoiceTrigger},
		{"printable_summary", s.PrintableSummary},
		{"email_input", s.EmailInput},
		{"continue_button", s.ContinueButton},
		{"password_input", s.PasswordInput},
		{"submit_button", s.SubmitButton},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("selector %s cannot be empty", r.name)
		}
	}

	if s.OrderCard == "" && (isRelativeXPath(s.OrderID) || isRelativeXPath(s.InvoiceTrigger)) {
		return fmt.Errorf("relative order_id/invoice_trigger selectors need an order_card selector")
	}
	return nil
}

func isRelativeXPath(xpath string) bool {
	return strings.HasPrefix(strings.TrimSpace(xpath), ".")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// BrowserOptions is the full launch configuration for one session.
type BrowserOptions struct {
	Headless     bool
	Bin          string
	UserDataDir  string
	DownloadDir  string
	WindowWidth  int
	WindowHeight int
	ClickTimeout time.Duration
	// LoadTimeout bounds each navigation including its load event.
	LoadTimeout time.Duration
	// ExtraFlags are passed to Chromium on top of the fixed set.
	ExtraFlags map[string][]string
}

// BrowserOptions derives the launch configuration for downloadDir.
func (c *Config) BrowserOptions(downloadDir string) BrowserOptions {
	return BrowserOptions{
		Headless:     c.Headless,
		Bin:          c.BrowserBin,
		UserDataDir:  c.BrowserProfilePath,
		DownloadDir:  downloadDir,
		WindowWidth:  c.ViewportWidth,
		WindowHeight: c.ViewportHeight,
		ClickTimeout: seconds(c.ElementTimeout),
		LoadTimeout:  seconds(c.PageLoadTimeout),
		ExtraFlags: map[string][]string{
			"disable-dev-shm-usage":  nil,
			"disable-blink-features": {"AutomationControlled"},
			"window-size":            {fmt.Sprintf("%d,%d", c.ViewportWidth, c.ViewportHeight)},
		},
	}
}

func (o BrowserOptions) Validate() error {
	if strings.TrimSpace(o.DownloadDir) == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		return fmt.Errorf("window size must be positive")
	}
	if o.LoadTimeout <= 0 {
		return fmt.Errorf("page load timeout must be positive")
	}
	return nil
}

// Preferences renders the Chromium profile preferences that force PDFs to
// download into DownloadDir instead of opening in the viewer.
func (o BrowserOptions) Preferences() (string, error) {
	prefs := map[string]any{
		"download": map[string]any{
			"default_directory":   o.DownloadDir,
			"prompt_for_download": false,
			"directory_upgrade":   true,
		},
		"plugins": map[string]any{
			"always_open_pdf_externally": true,
		},
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
