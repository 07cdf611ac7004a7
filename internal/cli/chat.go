package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
	"github.com/Voyage-Pet-AI/vwork/pkg/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Start an interactive chat session in the terminal. Type a message
and press enter. Use /clear to reset the conversation and /quit to exit.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logg, err := setup()
	if err != nil {
		return err
	}
	defer logg.Close()
	log := logg.Zerolog()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	sess, err := rt.newSession()
	if err != nil {
		return err
	}
	sessionKey := session.NewSessionKey()

	fmt.Printf("vwork %s  (model %s, %d tools)\n", version, cfg.Provider.Model, len(sess.Catalog()))
	fmt.Println("Type /clear to reset, /quit to exit.")

	cb := &agent.StreamCallbacks{
		OnText: func(delta string) {
			fmt.Print(delta)
		},
		OnToolStart: func(call agent.ToolCall) {
			fmt.Printf("\n[%s]\n", call.Name)
		},
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			sess.Clear()
			sessionKey = session.NewSessionKey()
			fmt.Println("Conversation cleared.")
			continue
		}

		result, err := sess.SendStream(ctx, line, cb)
		if err != nil {
			if agent.IsAborted(err) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}
		fmt.Println()
		if result.RoundsExhausted {
			fmt.Fprintln(os.Stderr, "note: the assistant hit its tool round limit")
		}

		archiveChatTurn(rt.store, sessionKey, line, result.Text, log)
	}

	return scanner.Err()
}

func archiveChatTurn(store *session.Store, key, userText, assistantText string, log zerolog.Logger) {
	if err := store.Append(key, session.Turn{Role: "user", Content: userText}); err != nil {
		log.Warn().Str("session_key", key).Err(err).Msg("Failed to archive user turn")
		return
	}
	if assistantText == "" {
		return
	}
	if err := store.Append(key, session.Turn{Role: "assistant", Content: assistantText}); err != nil {
		log.Warn().Str("session_key", key).Err(err).Msg("Failed to archive assistant turn")
	}
}
