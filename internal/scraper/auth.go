package scraper

import (
	"context"
	"strings"

	"github.com/maltedev/nursery-importer/internal/browser"
	"github.com/maltedev/nursery-importer/internal/extract"
)

var (
	loggedInIndicators = []string{"log out", "logout", "sign out", "my account"}
	sessionCookieHints = []string{"session", "phpsessid", "customer", "auth"}
)

// login submits the sign-in form and reports whether the session is authenticated.
// Success is either leaving the login page with a signed-in marker (page text or
// session cookie) or prices showing up on a listing page.
func (s *Scraper) login(ctx context.Context) (bool, error) {
	driver, err := s.currentDriver()
	if err != nil {
		return false, err
	}

	form := browser.LoginForm{
		URL:              s.cfg.loginURL(),
		UsernameSelector: s.cfg.UsernameSelector,
		PasswordSelector: s.cfg.PasswordSelector,
		SubmitSelector:   s.cfg.SubmitSelector,
		Username:         s.cfg.Username,
		Password:         s.cfg.Password,
	}

	var snap *browser.Snapshot
	err = s.gate.Do(ctx, func(ctx context.Context) error {
		var submitErr error
		snap, submitErr = driver.SubmitLogin(ctx, form, s.cfg.SettleDelay)
		return submitErr
	})
	if err != nil {
		return false, err
	}

	if !strings.Contains(snap.URL, s.cfg.LoginPath) {
		if hasLoggedInText(snap.HTML) {
			return true, nil
		}
		if names, err := driver.CookieNames(ctx); err == nil && hasSessionCookie(names) {
			return true, nil
		}
	}

	s.logger.Debug("no login marker found, checking listing prices", "url", snap.URL)
	listing, err := s.load(ctx, s.cfg.listingURL(1, ""), browser.LoadOptions{Settle: s.cfg.SettleDelay})
	if err != nil {
		return false, err
	}
	doc, err := extract.Parse(listing.HTML)
	if err != nil {
		return false, err
	}
	return extract.HasPriceElements(doc), nil
}

func hasLoggedInText(html string) bool {
	doc, err := extract.Parse(html)
	if err != nil {
		return false
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, marker := range loggedInIndicators {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func hasSessionCookie(names []string) bool {
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, hint := range sessionCookieHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
	}
	return false
}
