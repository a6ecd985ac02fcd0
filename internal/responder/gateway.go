// Package responder generates replies for automated contacts. The text
// gateway is an external collaborator; everything here degrades to a
// canned fallback rather than surfacing transport failures to the user.
package responder

import "context"

// Fallback is appended in place of a reply when the gateway fails.
const Fallback = "Signal's unstable, I didn't catch that. Could you say it again?"

// Turn is one prior exchange in a conversation, role "user" (the local
// human) or "model" (the automated contact).
type Turn struct {
	Role string
	Text string
}

// Gateway produces a reply for an automated contact given the persona it
// plays, the recent history window and the latest user text.
type Gateway interface {
	Reply(ctx context.Context, persona string, history []Turn, message string) (string, error)
}
