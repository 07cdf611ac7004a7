// Package agent implements the tool-calling conversation session at the heart
// of VWork: a bounded round loop that drives an LLM provider, dispatches the
// tool calls it requests, and folds results back into the transcript.
//
// Invariants:
// - A session's transcript is append-only and owned exclusively by the session.
// - Rounds are strictly sequential; tool calls within a round run concurrently.
// - Tool failures never escape a round; they become error-flagged results.
//
// Usage:
//
//	sess, _ := agent.NewSession(agent.SessionConfig{
//		Provider:     provider,
//		Dispatcher:   dispatcher,
//		SystemPrompt: "You are VWork, a personal productivity assistant.",
//	})
//	result, _ := sess.Send(ctx, "what is on my todo list today?")
//	_ = result
package agent
