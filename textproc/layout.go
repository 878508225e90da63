package textproc

import (
	"fmt"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/embereye/docpilot/utils"
	"strings"
)

const pageTokenBudget = 512

type Layout struct {
	Title string
	Pages []string
}

// RenderLayout turns a raw document body into paged markdown. HTML bodies are
// stripped of script/style/nav noise and converted; plain text passes through.
// Pages are cut on a token budget so the UI can window them cheaply.
func RenderLayout(docId string, body string) (*Layout, error) {
	title := ""
	markdown := body

	if looksLikeHtml(body) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("error parsing html for doc %s: %v", docId, err)
		}

		title = strings.TrimSpace(doc.Find("title").First().Text())
		doc.Find("script,style,nav,iframe").Remove()

		html, err := doc.Find("body").Html()
		if err != nil || html == "" {
			html, _ = doc.Html()
		}

		converter := md.NewConverter("", true, nil)
		markdown, err = converter.ConvertString(html)
		if err != nil {
			return nil, fmt.Errorf("error converting doc %s to markdown: %v", docId, err)
		}
	}

	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return &Layout{Title: title, Pages: []string{}}, nil
	}

	return &Layout{
		Title: title,
		Pages: utils.SplitByTokens(markdown, pageTokenBudget),
	}, nil
}

func looksLikeHtml(body string) bool {
	probe := strings.ToLower(body)
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	return strings.Contains(probe, "<html") ||
		strings.Contains(probe, "<!doctype") ||
		strings.Contains(probe, "<body")
}
