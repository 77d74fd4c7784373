package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// portalSession drives the voter-list form through one rod page. Not
// safe for concurrent callers; the pipeline is strictly sequential per
// session.
type portalSession struct {
	page   *rod.Page
	sel    Selectors
	cfg    BrowserConfig
	logger *slog.Logger
}

func (s *portalSession) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.NavTimeout)
}

func (s *portalSession) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	p := s.page.Context(opCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("session: wait load %s: %w", url, err)
	}
	// The form populates its selects after load.
	return sleepCtx(ctx, s.cfg.SettleDelay)
}

func (s *portalSession) SelectOption(ctx context.Context, field, value string) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.page.Context(opCtx).Element(field)
	if err != nil {
		return fmt.Errorf("session: select %s: %w", field, err)
	}
	if err := el.Select([]string{fmt.Sprintf(`[value=%q]`, value)}, true, rod.SelectorTypeCSSSector); err != nil {
		return fmt.Errorf("session: select %s value %s: %w", field, value, err)
	}
	// Dependent selects repopulate over AJAX after the change.
	return sleepCtx(ctx, s.cfg.SettleDelay)
}

func (s *portalSession) Options(ctx context.Context, field string) ([]Choice, error) {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	els, err := s.page.Context(opCtx).Elements(field + " option")
	if err != nil {
		return nil, fmt.Errorf("session: options %s: %w", field, err)
	}

	var out []Choice
	for _, el := range els {
		val, err := el.Attribute("value")
		if err != nil || val == nil || *val == "" {
			continue // placeholder option
		}
		label, err := el.Text()
		if err != nil {
			return nil, fmt.Errorf("session: option label %s: %w", field, err)
		}
		out = append(out, Choice{Value: *val, Label: label})
	}
	return out, nil
}

func (s *portalSession) Fill(ctx context.Context, field, value string) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.page.Context(opCtx).Element(field)
	if err != nil {
		return fmt.Errorf("session: fill %s: %w", field, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("session: fill %s: %w", field, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("session: fill %s: %w", field, err)
	}
	return nil
}

func (s *portalSession) CaptureElement(ctx context.Context, selector string) ([]byte, error) {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.page.Context(opCtx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("session: capture %s: %w", selector, err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("session: screenshot %s: %w", selector, err)
	}
	return png, nil
}

func (s *portalSession) ReloadCaptcha(ctx context.Context) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	has, el, err := s.page.Context(opCtx).Has(s.sel.CaptchaReload)
	if err != nil {
		return fmt.Errorf("session: captcha reload: %w", err)
	}
	if !has {
		// Some portal revisions rotate the image on their own.
		return nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: captcha reload click: %w", err)
	}
	return sleepCtx(ctx, s.cfg.SettleDelay)
}

func (s *portalSession) ClearResult(ctx context.Context) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	has, el, err := s.page.Context(opCtx).Has(s.sel.ResultBox)
	if err != nil {
		return fmt.Errorf("session: clear result: %w", err)
	}
	if !has {
		return nil
	}
	if _, err := el.Eval(`() => { this.innerHTML = "" }`); err != nil {
		return fmt.Errorf("session: clear result: %w", err)
	}
	return nil
}

func (s *portalSession) Submit(ctx context.Context) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.page.Context(opCtx).Element(s.sel.SubmitButton)
	if err != nil {
		return fmt.Errorf("session: submit button: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: submit: %w", err)
	}
	return nil
}

func (s *portalSession) PageKind(ctx context.Context) (PageKind, error) {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	p := s.page.Context(opCtx)

	has, el, err := p.Has(s.sel.ResultBox)
	if err != nil {
		return KindUnknown, fmt.Errorf("session: page kind: %w", err)
	}
	if has {
		html, err := el.HTML()
		if err != nil {
			return KindUnknown, fmt.Errorf("session: result box HTML: %w", err)
		}
		if kind := classifyResult(html); kind != KindForm {
			return kind, nil
		}
	}

	hasCaptcha, _, err := p.Has(s.sel.CaptchaImage)
	if err != nil {
		return KindUnknown, fmt.Errorf("session: page kind: %w", err)
	}
	if hasCaptcha {
		return KindForm, nil
	}
	return KindUnknown, nil
}

func (s *portalSession) ReadTable(ctx context.Context) ([]Row, error) {
	html, err := s.resultHTML(ctx)
	if err != nil {
		return nil, err
	}
	return parseResultRows(html)
}

func (s *portalSession) HasNextPage(ctx context.Context) (bool, error) {
	html, err := s.resultHTML(ctx)
	if err != nil {
		return false, err
	}
	return hasNextLink(html, s.sel.NextPage)
}

func (s *portalSession) NextPage(ctx context.Context) error {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.page.Context(opCtx).Element(s.sel.NextPage)
	if err != nil {
		return fmt.Errorf("session: next page link: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: next page: %w", err)
	}
	return sleepCtx(ctx, s.cfg.SettleDelay)
}

// Close closes the underlying page. Not part of the Session interface;
// the owner that opened the portal closes it.
func (s *portalSession) Close() error {
	return s.page.Close()
}

func (s *portalSession) resultHTML(ctx context.Context) (string, error) {
	opCtx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.page.Context(opCtx).Element(s.sel.ResultBox)
	if err != nil {
		return "", fmt.Errorf("session: result box: %w", err)
	}
	html, err := el.HTML()
	if err != nil {
		return "", fmt.Errorf("session: result box HTML: %w", err)
	}
	return html, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
