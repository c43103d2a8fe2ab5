package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

// stableWindow is how long the DOM must stay unchanged for Settle to return early.
const stableWindow = 500 * time.Millisecond

// Automation owns one Chromium process and one stealth tab.
type Automation struct {
	opts     BrowserOptions
	log      *logrus.Logger
	reporter Reporter
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
}

func NewAutomation(opts BrowserOptions, reporter Reporter, log *logrus.Logger) *Automation {
	return &Automation{
		opts:     opts,
		log:      log,
		reporter: reporter,
	}
}

// launchSession is the production session factory used by Runner.
func launchSession(ctx context.Context, opts BrowserOptions, reporter Reporter, log *logrus.Logger) (Session, error) {
	a := NewAutomation(opts, reporter, log)
	if err := a.Launch(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("cleanup after failed launch")
		}
		return nil, &LaunchError{Err: err}
	}
	return a, nil
}

func (a *Automation) Launch(ctx context.Context) error {
	if err := a.opts.Validate(); err != nil {
		return err
	}

	reportInfo(a.reporter, "browser_launching")

	downloadDir, err := filepath.Abs(a.opts.DownloadDir)
	if err != nil {
		return fmt.Errorf("resolve download dir: %w", err)
	}
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	a.opts.DownloadDir = downloadDir

	prefs, err := a.opts.Preferences()
	if err != nil {
		return fmt.Errorf("build browser preferences: %w", err)
	}

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	l := launcher.New().
		Leakless(useLeakless).
		Headless(a.opts.Headless).
		NoSandbox(true).
		Delete("enable-automation").
		Preferences(prefs)

	for name, values := range a.opts.ExtraFlags {
		l = l.Set(flags.Flag(name), values...)
	}

	if a.opts.UserDataDir != "" {
		l = l.UserDataDir(a.opts.UserDataDir)
		a.log.WithField("dir", a.opts.UserDataDir).Debug("browser profile path set")
	}

	bin := a.opts.Bin
	if bin == "" {
		if chromePath, ok := launcher.LookPath(); ok {
			bin = chromePath
		}
	}
	if bin != "" {
		l = l.Bin(bin)
		reportInfo(a.reporter, "browser_using_system_chrome", bin)
	} else {
		reportInfo(a.reporter, "browser_chrome_not_found")
	}

	a.launcher = l
	a.log.WithField("args", l.FormatArgs()).Debug("launching browser")

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	a.browser = browser

	err = proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath:  downloadDir,
		EventsEnabled: true,
	}.Call(browser)
	if err != nil {
		return fmt.Errorf("failed to set download behavior: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}
	a.page = page.Context(ctx)
	a.log.Debug("stealth page ready")

	reportInfo(a.reporter, "browser_launched", downloadDir)
	return nil
}

// Close tears down the tab, the browser and the launcher's profile dir.
func (a *Automation) Close() error {
	var errs []error

	if a.page != nil {
		if err := a.page.Context(context.Background()).Close(); err != nil {
			a.log.WithError(err).Debug("page close failed")
		}
		a.page = nil
	}

	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		a.browser = nil
	}

	if a.launcher != nil {
		if len(errs) > 0 {
			a.launcher.Kill()
		}
		a.launcher.Cleanup()
		a.launcher = nil
	}

	return errors.Join(errs...)
}

// Navigate opens url and waits for its load event, both within LoadTimeout.
func (a *Automation) Navigate(url string) error {
	page := a.page.Timeout(a.opts.LoadTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return waitError(err, "navigation to "+url, a.opts.LoadTimeout)
	}
	if err := page.WaitLoad(); err != nil {
		return waitError(err, "load of "+url, a.opts.LoadTimeout)
	}
	return nil
}

func (a *Automation) URL() (string, error) {
	info, err := a.page.Info()
	if err != nil {
		return "", fmt.Errorf("read page url: %w", err)
	}
	return info.URL, nil
}

func (a *Automation) WaitElement(xpath string, timeout time.Duration) (Element, error) {
	page := a.page.Timeout(timeout)

	el, err := page.ElementX(xpath)
	if err != nil {
		page.CancelTimeout()
		return nil, waitError(err, xpath, timeout)
	}
	return a.wrap(el.CancelTimeout()), nil
}

func (a *Automation) WaitClickable(xpath string, timeout time.Duration) (Element, error) {
	page := a.page.Timeout(timeout)

	el, err := page.ElementX(xpath)
	if err == nil {
		err = el.WaitVisible()
	}
	if err == nil {
		err = el.WaitEnabled()
	}
	if err != nil {
		page.CancelTimeout()
		return nil, waitError(err, xpath, timeout)
	}
	return a.wrap(el.CancelTimeout()), nil
}

func (a *Automation) Elements(xpath string) ([]Element, error) {
	els, err := a.page.ElementsX(xpath)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", xpath, err)
	}

	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, a.wrap(el))
	}
	return out, nil
}

func (a *Automation) Settle(timeout time.Duration) error {
	page := a.page.Timeout(timeout)
	defer page.CancelTimeout()

	err := page.WaitStable(stableWindow)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.WithField("bound", timeout).Debug("page still busy at settle bound")
		return nil
	}
	return err
}

func (a *Automation) wrap(el *rod.Element) Element {
	return &rodElement{el: el, clickTimeout: a.opts.ClickTimeout}
}
