package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps the Rod page showing the host application.
type Tab struct {
	Page    *rod.Page
	PageURL string
	manager *Manager
}

// OpenTab finds a tab already showing pageURL on a remote Chrome, or opens
// a new one (stealthed if configured) and navigates to it. setup runs on
// the blank page before navigation, so document-start scripts registered
// there apply to the first load.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, timeout time.Duration, setup func(*rod.Page) error) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	if page := findTab(b, pageURL); page != nil {
		mgr.cfg.Logger.Info("browser: reusing open tab", "url", pageURL)
		if setup != nil {
			if err := setup(page); err != nil {
				return nil, fmt.Errorf("browser: setup tab: %w", err)
			}
		}
		return &Tab{Page: page, PageURL: pageURL, manager: mgr}, nil
	}

	var page *rod.Page
	var err error

	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	if setup != nil {
		if err := setup(page); err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: setup tab: %w", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{Page: page, PageURL: pageURL, manager: mgr}, nil
}

// findTab returns an existing page whose URL starts with pageURL.
func findTab(b *rod.Browser, pageURL string) *rod.Page {
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if sameTarget(info.URL, pageURL) {
			return p
		}
	}
	return nil
}

func sameTarget(have, want string) bool {
	if want == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSuffix(have, "/"), strings.TrimSuffix(want, "/"))
}

// Close closes the tab. Reused tabs on a remote Chrome are left open.
func (t *Tab) Close() error {
	if t.Page == nil || t.manager.cfg.RemoteURL != "" {
		return nil
	}
	return t.Page.Close()
}
