package pipelines

import (
	"fmt"
	"github.com/flosch/pongo2/v6"
	"strings"
)

var queryPromptTemplate = `You are a retrieval assistant. A user wants a summary of the document titled "{{ title }}".
Document opening:
{{ head }}

Write a single search query that would retrieve the passages most important for a faithful summary.
Respond with JSON only:
` + "```json\n" + `{"query": "<search query>"}
` + "```"

var summaryPromptTemplate = `You are a summarization assistant. Summarize the document "{{ title }}"{% if language != "und" %} (language: {{ language }}){% endif %} using only the evidence below.

Evidence passages:
{% for passage in evidence %}### Passage {{ forloop.Counter }}
{{ passage }}

{% endfor %}Respond with JSON only:
` + "```json\n" + `{"summary": "<three to six sentence summary>"}
` + "```"

var entitiesPromptTemplate = `Extract the named entities (people, organizations, places, dates) from the text below.

{{ text }}

Respond with JSON only:
` + "```json\n" + `{"entities": ["<entity>", "..."]}
` + "```"

func RenderQueryPrompt(title, head string) (string, error) {
	return render(queryPromptTemplate, pongo2.Context{
		"title": title,
		"head":  head,
	})
}

func RenderSummaryPrompt(title, language string, evidence []string) (string, error) {
	return render(summaryPromptTemplate, pongo2.Context{
		"title":    title,
		"language": language,
		"evidence": evidence,
	})
}

func RenderEntitiesPrompt(text string) (string, error) {
	return render(entitiesPromptTemplate, pongo2.Context{
		"text": text,
	})
}

func render(template string, vars pongo2.Context) (string, error) {
	tpl, err := pongo2.FromString(template)
	if err != nil {
		return "", fmt.Errorf("error compiling prompt template: %v", err)
	}

	rendered, err := tpl.Execute(vars)
	if err != nil {
		return "", fmt.Errorf("error rendering prompt template: %v", err)
	}

	return strings.TrimSpace(rendered), nil
}
