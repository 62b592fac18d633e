package message

import "strings"

// AIPrefix marks a message body as a request for an AI reply.
const AIPrefix = "/ai "

// AIPrompt returns the prompt carried by an AI command. ok is false when the
// body does not start with AIPrefix or the remaining prompt is blank.
func AIPrompt(body string) (prompt string, ok bool) {
	if !strings.HasPrefix(body, AIPrefix) {
		return "", false
	}
	prompt = strings.TrimSpace(body[len(AIPrefix):])
	return prompt, prompt != ""
}
