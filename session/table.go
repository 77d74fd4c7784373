package session

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result-box classification and table parsing are pure functions over
// the result container's HTML so they can be tested without a browser.
// The portal renders rejected CAPTCHAs and empty result sets inside the
// same container as real data.

// classifyResult inspects the result container HTML.
// Returns KindError for an invalid-captcha message, KindResults for a
// rendered table or an explicit no-data message, KindForm otherwise
// (the container is present but still empty: the form did not submit
// yet or the portal is still loading).
func classifyResult(html string) PageKind {
	lower := strings.ToLower(html)

	if strings.Contains(lower, "invalid") && strings.Contains(lower, "captcha") {
		return KindError
	}
	if strings.Contains(html, "No data") || strings.Contains(lower, "not found") {
		return KindResults
	}
	if strings.Contains(lower, "<table") {
		return KindResults
	}
	return KindForm
}

// parseResultRows extracts the data rows from the result container
// HTML. Header rows (th cells) and the portal's banner rows ("WARD:",
// "POLLING STATION:") are skipped; every remaining row with at least
// three cells is returned in document order.
func parseResultRows(html string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("session: parse result HTML: %w", err)
	}

	var rows []Row
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		cells := tr.Find("td")
		if cells.Length() < 3 {
			return
		}

		row := make(Row, 0, cells.Length())
		banner := false
		cells.Each(func(_ int, td *goquery.Selection) {
			text := strings.Join(strings.Fields(td.Text()), " ")
			if strings.Contains(text, "WARD:") || strings.Contains(text, "POLLING STATION:") {
				banner = true
			}
			row = append(row, text)
		})
		if banner {
			return
		}
		rows = append(rows, row)
	})

	return rows, nil
}

// hasNextLink reports whether the container HTML carries a usable
// pagination link matching the given selector's class part. goquery
// sees only the fragment, so the selector is reduced to its last
// simple part.
func hasNextLink(html, selector string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("session: parse result HTML: %w", err)
	}
	parts := strings.Fields(selector)
	sel := selector
	if len(parts) > 0 {
		sel = parts[len(parts)-1]
	}
	found := false
	doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
		if _, disabled := a.Attr("disabled"); disabled {
			return
		}
		if a.HasClass("disabled") {
			return
		}
		found = true
	})
	return found, nil
}
