package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
)

// maxDiffBytes limits how much of a diff is sent to the model.
const maxDiffBytes = 24000

const reviewSystemPrompt = `You are a careful code reviewer. Review the diff below.
List concrete problems first (bugs, missing error handling, concurrency issues), then smaller suggestions.
Reference files and lines from the diff. If the diff looks good, say so briefly.`

// ReviewExecutor fetches a pull request diff from GitHub and asks a
// completion model to review it.
//
// Inputs: "number" (required), "owner" and "repo" (default to the executor's
// repository) and "text" with any reviewer instructions.
type ReviewExecutor struct {
	client    *github.Client
	completer ai.Completer
	owner     string
	repo      string
	maxTokens int
}

// NewReviewExecutor creates a review executor.
func NewReviewExecutor(client *github.Client, completer ai.Completer, owner, repo string, maxTokens int) (*ReviewExecutor, error) {
	if client == nil {
		return nil, ErrGitHubClientRequired
	}
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	return &ReviewExecutor{client: client, completer: completer, owner: owner, repo: repo, maxTokens: maxTokens}, nil
}

// Capability implements Executor.
func (e *ReviewExecutor) Capability() core.Capability { return core.CapabilityReviewCode }

// Invoke implements Executor.
func (e *ReviewExecutor) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	owner, repo := input(inv, "owner"), input(inv, "repo")
	if owner == "" {
		owner = e.owner
	}
	if repo == "" {
		repo = e.repo
	}
	number, err := strconv.Atoi(input(inv, "number"))
	if err != nil || number <= 0 || owner == "" || repo == "" {
		return nil, fmt.Errorf("%w: review needs owner, repo and a pull request number", core.ErrInvalidRequest)
	}

	diff, _, err := e.client.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return nil, classifyGitHubError(err)
	}
	truncated := len(diff) > maxDiffBytes
	if truncated {
		diff = diff[:maxDiffBytes]
	}

	var prompt strings.Builder
	if instructions := input(inv, "text"); instructions != "" {
		fmt.Fprintf(&prompt, "Instructions: %s\n\n", instructions)
	}
	if material := upstreamText(inv); material != "" {
		fmt.Fprintf(&prompt, "Context:\n%s\n\n", material)
	}
	fmt.Fprintf(&prompt, "Diff for %s/%s#%d:\n%s", owner, repo, number, diff)
	if truncated {
		prompt.WriteString("\n[diff truncated]")
	}

	review, err := e.completer.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: reviewSystemPrompt},
			{Role: ai.RoleUser, Content: prompt.String()},
		},
		MaxTokens:   e.maxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	return &core.Output{
		Text:          strings.TrimSpace(review),
		CitedChunkIDs: upstreamCitations(inv),
		Data: map[string]string{
			"pull_request": fmt.Sprintf("%s/%s#%d", owner, repo, number),
			"truncated":    strconv.FormatBool(truncated),
		},
	}, nil
}
