package planner

import (
	"fmt"
	"strings"

	"github.com/poiesic/conductor/core"
)

const planResponseSchema = `{
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "capability": {"type": "string"},
          "input": {"type": "object", "additionalProperties": {"type": "string"}},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "optional_depends_on": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["id", "capability"]
      }
    }
  },
  "required": ["steps"]
}`

const planPromptTemplate = `You plan how an assistant answers a user's request. Break the request into steps,
each using exactly one capability, and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble or
explanation. Start your response directly with the opening brace { and end with the closing brace }.

%s

Rules:
- capability must be one of: %s.
- retrieve steps take an input "query"; other steps take an input "text" describing what to do.
- review-code steps may add inputs "owner", "repo" and "number" naming a pull request.
- Use depends_on when a step needs the output of an earlier step and must not run if it fails.
- Use optional_depends_on when earlier output is useful context but not required.
- Steps with no relationship must not depend on each other.
- Never create a cycle. Use ids "n01", "n02", ... in order.
- A purely informational question is a single retrieve step.

Example:
Input: "Summarize yesterday's thread, then create a ticket from it"
Output:
{
  "steps": [
    {"id":"n01","capability":"summarize","input":{"text":"Summarize yesterday's thread"}},
    {"id":"n02","capability":"create-ticket","input":{"text":"create a ticket from it"},"depends_on":["n01"]}
  ]
}`

func buildSystemPrompt() string {
	names := make([]string, 0, len(core.Capabilities()))
	for _, c := range core.Capabilities() {
		names = append(names, string(c))
	}
	return fmt.Sprintf(planPromptTemplate, planResponseSchema, strings.Join(names, ", "))
}

func buildUserPrompt(message string, conversation []core.ConversationTurn) string {
	if len(conversation) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, turn := range conversation {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.UserMessage, turn.FinalAnswer)
	}
	b.WriteString("\nRequest: ")
	b.WriteString(message)
	return b.String()
}
