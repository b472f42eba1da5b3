package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/leadnexus/internal/apperr"
)

const (
	maxBodyBytes = 5 << 20
	maxRedirects = 5
)

// Direct fetches pages itself and converts them to text: HTML becomes
// Markdown, PDFs become plain text. Connections to non-public addresses are
// refused after DNS resolution unless AllowPrivateNetworks is given.
type Direct struct {
	httpClient    *http.Client
	userAgent     string
	checkRedirect func(rawURL string) error
}

func NewDirect(timeout time.Duration, opts ...Option) *Direct {
	o := applyOptions(opts)
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !o.allowPrivate {
		dialer.Control = dialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	d := &Direct{userAgent: "leadnexus/1.0 (+https://github.com/kalambet/leadnexus)"}
	d.httpClient = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: d.redirectPolicy,
	}
	return d
}

// CheckRedirects makes every redirect target pass fn before it is followed.
// Guard.Check is the usual argument.
func (d *Direct) CheckRedirects(fn func(rawURL string) error) {
	d.checkRedirect = fn
}

func (d *Direct) redirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return apperr.New(apperr.UpstreamProviderFailure, "stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return apperr.New(apperr.ValidationFailure, "redirect to unsupported scheme %q", req.URL.Scheme)
	}
	if d.checkRedirect != nil {
		return d.checkRedirect(req.URL.String())
	}
	return nil
}

func (d *Direct) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, apperr.Wrap(apperr.ValidationFailure, err, "invalid URL %s", url)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.5")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlockedAddress) {
			return Page{}, apperr.Wrap(apperr.ValidationFailure, err, "URL %s resolves to a non-public address", url)
		}
		if apperr.Is(err, apperr.ValidationFailure) {
			return Page{}, apperr.Wrap(apperr.ValidationFailure, err, "redirect from %s rejected", url)
		}
		return Page{}, apperr.Wrap(apperr.UpstreamProviderFailure, err, "failed to fetch URL %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, apperr.New(apperr.UpstreamProviderFailure, "failed to fetch URL %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, apperr.Wrap(apperr.UpstreamProviderFailure, err, "reading body of %s", url)
	}

	mtype := mimetype.Detect(body)
	page := Page{
		URL:      url,
		Metadata: map[string]string{"contentType": mtype.String(), "sourceURL": url},
	}

	switch {
	case mtype.Is("text/html") || mtype.Is("application/xhtml+xml"):
		page.Title, page.Content, err = convertHTML(body)
	case mtype.Is("application/pdf"):
		page.Content, err = pdfText(body)
	case strings.HasPrefix(mtype.String(), "text/"):
		page.Content = string(body)
	default:
		return Page{}, apperr.New(apperr.ValidationFailure, "unsupported content type %s at %s", mtype.String(), url)
	}
	if err != nil {
		return Page{}, fmt.Errorf("converting %s: %w", url, err)
	}
	if page.Title != "" {
		page.Metadata["title"] = page.Title
	}
	return page, nil
}

// convertHTML returns the document title and a Markdown rendering of the
// page. If Markdown conversion fails the visible text is used instead.
func convertHTML(body []byte) (title, content string, err error) {
	title, text, err := scanHTML(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	md, mdErr := htmltomarkdown.ConvertString(string(body))
	if mdErr != nil || strings.TrimSpace(md) == "" {
		return title, text, nil
	}
	return title, md, nil
}

// scanHTML walks the token stream once, collecting the <title> and all text
// outside script and style elements.
func scanHTML(r io.Reader) (title, text string, err error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	var inScript, inStyle, inTitle bool

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return strings.TrimSpace(title), strings.TrimSpace(sb.String()), nil
			}
			return "", "", z.Err()
		case html.StartTagToken, html.EndTagToken:
			tn, _ := z.TagName()
			open := tt == html.StartTagToken
			switch string(tn) {
			case "script":
				inScript = open
			case "style":
				inStyle = open
			case "title":
				inTitle = open
			}
		case html.TextToken:
			if inScript || inStyle {
				continue
			}
			t := strings.TrimSpace(string(z.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				title += t
				continue
			}
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	}
}

func pdfText(body []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", apperr.Wrap(apperr.ValidationFailure, err, "unreadable PDF")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", apperr.Wrap(apperr.ValidationFailure, err, "extracting PDF text")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(plain, maxBodyBytes)); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
