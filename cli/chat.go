package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/model"
	"github.com/spf13/cobra"
)

func chatCMD(flags *rootFlags) *cobra.Command {
	var (
		agentID string
		chatID  string
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the configured model and tools",
		Long: `Chat sends one message when given as arguments, otherwise it reads one
message per line from stdin until EOF or /exit. Tool calls requested by the
model are executed between completions. After every turn the token count of
the active conversation is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			rec, store, err := openChat(cmd, app, chatID, agentID)
			if err != nil {
				return err
			}

			turn := func(content string) error {
				return chatTurn(cmd, app, rec, store, content)
			}
			if len(args) > 0 {
				err = turn(strings.Join(args, " "))
			} else {
				err = chatLoop(cmd.InOrStdin(), cmd.OutOrStdout(), turn)
			}

			if save {
				rec.Capture(store)
				if saveErr := app.Chats.Save(cmd.Context(), rec.ID, *rec); saveErr != nil {
					return saveErr
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved chat %s\n", rec.ID)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default agent when empty)")
	cmd.Flags().StringVar(&chatID, "chat", "", "continue a stored chat")
	cmd.Flags().BoolVar(&save, "save", true, "store the chat when done")
	return cmd
}

func chatLoop(in io.Reader, out io.Writer, turn func(string) error) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := turn(line); err != nil {
			return err
		}
	}
}

// chatTurn runs one turn and prints every message it appended after the
// user message.
func chatTurn(cmd *cobra.Command, app *flowmesh.App, rec *chat.Record, store *message.Store, content string) error {
	before := store.Len()
	out := cmd.OutOrStdout()

	_, err := app.ChatTurn(cmd.Context(), rec.ID, rec.AgentID, store, content, nil)
	msgs := store.Messages()
	if len(msgs) > before+1 {
		printMessages(out, msgs[before+1:])
	}
	fmt.Fprintf(out, "[tokens: %d]\n", countTokens(app, store))
	return err
}

func countTokens(app *flowmesh.App, store *message.Store) int {
	var n int
	for _, e := range store.ActiveSequence() {
		n += app.Counter.Count(e.Content)
	}
	return n
}

func regenerateCMD(flags *rootFlags) *cobra.Command {
	var (
		agentID string
		chatID  string
	)
	cmd := &cobra.Command{
		Use:   "regenerate <message> [content]",
		Short: "Add an alternative to a stored chat message and regenerate the rest",
		Long: `Regenerate adds a new alternative to a message of a stored chat and
regenerates every message after it. The message is given by id or by its
1-based position on the active path. For a user message the content
arguments become the new variant (the current text when omitted); an
assistant message is answered again by the model.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == "" {
				return fmt.Errorf("--chat is required")
			}
			app, err := flags.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			rec, store, err := openChat(cmd, app, chatID, agentID)
			if err != nil {
				return err
			}
			pos, msgID, err := resolveMessage(store, args[0])
			if err != nil {
				return err
			}

			_, alt, turnErr := app.Regenerate(cmd.Context(), rec.ID, rec.AgentID, store, msgID, strings.Join(args[1:], " "), nil)
			if alt.Count > 0 {
				printMessages(cmd.OutOrStdout(), store.Messages()[pos:])
				fmt.Fprintf(cmd.OutOrStdout(), "[tokens: %d]\n", countTokens(app, store))
				rec.Capture(store)
				if err := app.Chats.Save(cmd.Context(), rec.ID, *rec); err != nil {
					return err
				}
			}
			return turnErr
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (chat agent when empty)")
	cmd.Flags().StringVar(&chatID, "chat", "", "stored chat id")
	return cmd
}

// resolveMessage finds a message by id or 1-based position and returns its
// 0-based position and id.
func resolveMessage(store *message.Store, ref string) (int, string, error) {
	msgs := store.Messages()
	for i, m := range msgs {
		if m.ID == ref {
			return i, m.ID, nil
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(msgs) {
		return n - 1, msgs[n-1].ID, nil
	}
	return 0, "", fmt.Errorf("message %s: %w", ref, core.ErrNotFound)
}

func modelsCMD(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models served by the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := flags.openApp(cmd, func(o *flowmesh.Options) { o.SkipMCP = true })
			if err != nil {
				return err
			}
			defer app.Close()

			ids := []string{app.Model.Info().Name}
			if l, ok := app.Model.(model.Lister); ok {
				if ids, err = l.ListModels(cmd.Context()); err != nil {
					return err
				}
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
