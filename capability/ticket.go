package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v57/github"

	"github.com/poiesic/conductor/core"
)

const maxTitleLength = 80

// TicketExecutor files a GitHub issue.
//
// The title comes from the "title" input, else the first line of upstream
// output, else the "text" input. Upstream outputs form the body.
type TicketExecutor struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
}

// NewTicketExecutor creates a ticket executor filing issues in owner/repo.
func NewTicketExecutor(client *github.Client, owner, repo string, labels ...string) (*TicketExecutor, error) {
	if client == nil {
		return nil, ErrGitHubClientRequired
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("%w: owner and repo are required", core.ErrValidation)
	}
	return &TicketExecutor{client: client, owner: owner, repo: repo, labels: labels}, nil
}

// Capability implements Executor.
func (e *TicketExecutor) Capability() core.Capability { return core.CapabilityCreateTicket }

// Invoke implements Executor.
func (e *TicketExecutor) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	material := upstreamText(inv)
	title := ticketTitle(input(inv, "title"), material, input(inv, "text"), inv.Message)

	var body strings.Builder
	if material != "" {
		body.WriteString(material)
		body.WriteString("\n\n")
	}
	fmt.Fprintf(&body, "Requested: %s", inv.Message)

	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body.String()),
	}
	if len(e.labels) > 0 {
		req.Labels = &e.labels
	}

	issue, _, err := e.client.Issues.Create(ctx, e.owner, e.repo, req)
	if err != nil {
		return nil, classifyGitHubError(err)
	}

	number := strconv.Itoa(issue.GetNumber())
	return &core.Output{
		Text:          fmt.Sprintf("Created ticket #%s: %s", number, issue.GetHTMLURL()),
		CitedChunkIDs: upstreamCitations(inv),
		Data: map[string]string{
			"ticket_number": number,
			"ticket_url":    issue.GetHTMLURL(),
		},
	}, nil
}

func ticketTitle(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if nl := strings.IndexByte(c, '\n'); nl >= 0 {
			c = strings.TrimSpace(c[:nl])
		}
		if len(c) > maxTitleLength {
			cut := maxTitleLength
			for cut > 0 && !utf8.RuneStart(c[cut]) {
				cut--
			}
			c = strings.TrimSpace(c[:cut]) + "…"
		}
		return c
	}
	return "New ticket"
}
