package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"thoth/internal/thotherr"
)

// WebResult is one candidate source discovered by a web search, with
// its rendered page already reduced to markdown for relevance
// scoring.
type WebResult struct {
	URL      string
	Title    string
	Markdown string
}

// WebSearch drives a headless Chrome instance to run query against
// DuckDuckGo's lite frontend and render each result page, converting
// the rendered DOM to markdown so the discovery filter can score each
// candidate's content, not just its link text.
func (g *Gateway) WebSearch(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.UserAgent(`Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36`),
		)...,
	)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancelTimeout()

	var nodes []*cdp.Node
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(`https://lite.duckduckgo.com/lite/`),
		chromedp.WaitReady(`input[name="q"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="q"]`, query+kb.Enter, chromedp.ByQuery),
		chromedp.WaitReady(`a.result-link`, chromedp.ByQuery),
		chromedp.Nodes(`a.result-link`, &nodes, chromedp.ByQueryAll),
	); err != nil {
		return nil, thotherr.New(thotherr.Transient, "gateway.WebSearch", err)
	}

	seen := map[string]struct{}{}
	var urls []string
	for _, n := range nodes {
		href := n.AttributeValue("href")
		if !strings.HasPrefix(href, "http") {
			continue
		}
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}
		urls = append(urls, href)
		if len(urls) >= maxResults {
			break
		}
	}

	results := make([]WebResult, 0, len(urls))
	for _, u := range urls {
		wr, err := g.renderToMarkdown(ctx, u)
		if err != nil {
			continue // one bad result page shouldn't sink the whole search
		}
		results = append(results, wr)
	}
	return results, nil
}

// renderToMarkdown navigates a fresh tab to url, grabs the rendered
// DOM (post-JS, unlike a plain net/http GET), and converts it to
// markdown.
func (g *Gateway) renderToMarkdown(ctx context.Context, pageURL string) (WebResult, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))...,
	)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 15*time.Second)
	defer cancelTimeout()

	var title, outerHTML string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &outerHTML, chromedp.ByQuery),
	); err != nil {
		return WebResult{}, fmt.Errorf("render %s: %w", pageURL, err)
	}

	md, err := htmltomarkdown.ConvertString(outerHTML, converter.WithDomain(baseOrigin(pageURL)))
	if err != nil {
		return WebResult{}, fmt.Errorf("html to markdown %s: %w", pageURL, err)
	}

	return WebResult{URL: pageURL, Title: strings.TrimSpace(title), Markdown: strings.TrimSpace(md)}, nil
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
