// Package session is the pipeline's only boundary to the live portal:
// a controllable web-page session that can navigate, fill the cascading
// voter-list form, capture the CAPTCHA image, submit, and read back the
// result table.
//
// The engines depend on the Session interface, not on any automation
// technology. The production implementation runs on go-rod; tests use
// in-memory stubs. A Session is not safe for concurrent callers: one
// page, one cookie jar, one sequential flow.
package session

import "context"

// PageKind classifies what the portal is currently showing.
type PageKind int

const (
	KindUnknown PageKind = iota
	KindForm             // the search form, no result yet
	KindResults          // a result table (possibly empty of rows)
	KindError            // the form re-rendered with an error indicator
)

func (k PageKind) String() string {
	switch k {
	case KindForm:
		return "form"
	case KindResults:
		return "results"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Choice is one option of a form select.
type Choice struct {
	Value string
	Label string
}

// Row is one data row of the result table, cells in document order.
type Row []string

// Session drives one live portal page. All methods enforce bounded
// waits internally; a portal that stops responding surfaces as an
// error, never as an indefinite hang.
type Session interface {
	// Navigate loads the given URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// SelectOption picks the option with the given value on a form
	// select and waits for the portal's dependent-field refresh.
	SelectOption(ctx context.Context, field, value string) error

	// Options lists the non-empty options of a form select.
	Options(ctx context.Context, field string) ([]Choice, error)

	// Fill types text into a form input.
	Fill(ctx context.Context, field, value string) error

	// CaptureElement screenshots a single element, PNG bytes.
	CaptureElement(ctx context.Context, selector string) ([]byte, error)

	// ReloadCaptcha requests a fresh CAPTCHA image from the form.
	ReloadCaptcha(ctx context.Context) error

	// ClearResult empties the result container, so the next PageKind
	// reflects only what the portal renders after this point. The
	// container can still hold a previous submission's error markup.
	ClearResult(ctx context.Context) error

	// Submit submits the form.
	Submit(ctx context.Context) error

	// PageKind reports what the portal is currently showing. It is a
	// single check; callers poll it under their own deadline.
	PageKind(ctx context.Context) (PageKind, error)

	// ReadTable returns the data rows of the current result page.
	ReadTable(ctx context.Context) ([]Row, error)

	// HasNextPage reports whether the result view offers another page.
	HasNextPage(ctx context.Context) (bool, error)

	// NextPage follows the pagination control to the next result page.
	NextPage(ctx context.Context) error
}

// Selectors are the portal's structural markers. The defaults match the
// Kerala SEC voter-list form; they are configurable because the portal
// has changed shape between elections before.
type Selectors struct {
	District       string `yaml:"district"`
	LocalBody      string `yaml:"local_body"`
	Ward           string `yaml:"ward"`
	PollingStation string `yaml:"polling_station"`
	Language       string `yaml:"language"`
	CaptchaInput   string `yaml:"captcha_input"`
	CaptchaImage   string `yaml:"captcha_image"`
	CaptchaReload  string `yaml:"captcha_reload"`
	SubmitButton   string `yaml:"submit_button"`
	ResultBox      string `yaml:"result_box"`
	NextPage       string `yaml:"next_page"`
}

// DefaultSelectors returns the marker set for the current portal.
func DefaultSelectors() Selectors {
	return Selectors{
		District:       "#view_voters_list_district",
		LocalBody:      "#view_voters_list_localBody",
		Ward:           "#view_voters_list_ward",
		PollingStation: "#view_voters_list_pollingStation",
		Language:       "#view_voters_list_language",
		CaptchaInput:   "#view_voters_list_captcha",
		CaptchaImage:   `img[id^="captcha_"]`,
		CaptchaReload:  ".gcaptcha-reload",
		SubmitButton:   "button.btn-pgfsv3",
		ResultBox:      ".voters_list_search_result",
		NextPage:       ".voters_list_search_result a.next",
	}
}

func (s *Selectors) applyDefaults() {
	d := DefaultSelectors()
	if s.District == "" {
		s.District = d.District
	}
	if s.LocalBody == "" {
		s.LocalBody = d.LocalBody
	}
	if s.Ward == "" {
		s.Ward = d.Ward
	}
	if s.PollingStation == "" {
		s.PollingStation = d.PollingStation
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.CaptchaInput == "" {
		s.CaptchaInput = d.CaptchaInput
	}
	if s.CaptchaImage == "" {
		s.CaptchaImage = d.CaptchaImage
	}
	if s.CaptchaReload == "" {
		s.CaptchaReload = d.CaptchaReload
	}
	if s.SubmitButton == "" {
		s.SubmitButton = d.SubmitButton
	}
	if s.ResultBox == "" {
		s.ResultBox = d.ResultBox
	}
	if s.NextPage == "" {
		s.NextPage = d.NextPage
	}
}
