package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Authenticator brings a fresh session to the signed-in order listing.
type Authenticator struct {
	page     Page
	config   *Config
	reporter Reporter
	log      *logrus.Logger
}

func NewAuthenticator(page Page, config *Config, reporter Reporter, log *logrus.Logger) *Authenticator {
	return &Authenticator{
		page:     page,
		config:   config,
		reporter: reporter,
		log:      log,
	}
}

// Authenticate opens ordersURL, signs in when redirected, and waits for the
// order list. Every error is an *AuthError.
func (a *Authenticator) Authenticate(ordersURL, email, password string) error {
	reportInfo(a.reporter, "navigating_orders")
	if err := a.page.Navigate(ordersURL); err != nil {
		return &AuthError{Step: "navigate", Err: err}
	}

	current, err := a.page.URL()
	if err != nil {
		return &AuthError{Step: "navigate", Err: err}
	}
	a.log.WithField("url", current).Debug("landed after navigation")

	if strings.Contains(current, a.config.SignInMarker) {
		reportWarn(a.reporter, "login_required")
		if err := a.signIn(email, password); err != nil {
			return err
		}
		reportSuccess(a.reporter, "login_success")
	}

	sel := a.config.Selectors
	if _, err := a.page.WaitElement(sel.OrderList, seconds(a.config.ElementTimeout)); err != nil {
		return &AuthError{Step: "order_list", Err: err}
	}
	reportInfo(a.reporter, "orders_loaded")
	return nil
}

func (a *Authenticator) signIn(email, password string) error {
	sel := a.config.Selectors
	timeout := seconds(a.config.ElementTimeout)

	steps := []struct {
		name   string
		xpath  string
		action func(Element) error
	}{
		{"email", sel.EmailInput, func(el Element) error { return el.Input(email) }},
		{"continue", sel.ContinueButton, func(el Element) error { return el.Click() }},
		{"password", sel.PasswordInput, func(el Element) error { return el.Input(password) }},
		{"submit", sel.SubmitButton, func(el Element) error { return el.Click() }},
	}

	for _, step := range steps {
		el, err := a.page.WaitElement(step.xpath, timeout)
		if err != nil {
			return &AuthError{Step: step.name, Err: err}
		}
		if err := step.action(el); err != nil {
			return &AuthError{Step: step.name, Err: fmt.Errorf("%s: %w", step.xpath, err)}
		}
		a.log.WithField("step", step.name).Debug("sign-in step done")
	}

	// Submitting navigates; wait for that cycle instead of a blind pause.
	if err := a.page.Settle(seconds(a.config.SettleTimeout)); err != nil {
		return &AuthError{Step: "settle", Err: err}
	}
	return nil
}
