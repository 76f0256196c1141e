package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/message"
	"github.com/spf13/cobra"
)

func runCMD(flags *rootFlags) *cobra.Command {
	var (
		agentID string
		entry   string
		chatID  string
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "run <flow-file>",
		Short: "Run a flow file (JSON or YAML) against a chat",
		Long: `Run executes a flow to completion and prints the resulting conversation.

Without --chat the flow runs against a new, empty chat. With --save the
chat and the flow are written to the configured store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readFlowFile(args[0])
			if err != nil {
				return err
			}
			app, err := flags.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			rec, store, err := openChat(cmd, app, chatID, agentID)
			if err != nil {
				return err
			}

			stderr := cmd.ErrOrStderr()
			run, runErr := app.RunFlow(ctx, f, store, rec.AgentID, func(o *flow.RunOptions) {
				o.EntryStepID = entry
				o.OnStep = func(ev flow.StepEvent) {
					fmt.Fprintf(stderr, "step %s (%s) -> %s in %s\n", ev.StepID, ev.Type, strings.Join(ev.Outputs, ","), ev.Duration.Round(time.Millisecond))
				}
			})

			out := cmd.OutOrStdout()
			printMessages(out, store.Messages())
			if run != nil {
				st := run.Status()
				fmt.Fprintf(stderr, "run %s: steps=%d messages=%d", st.State, st.Steps, st.Messages)
				if st.Reason != "" {
					fmt.Fprintf(stderr, " reason=%s", st.Reason)
				}
				fmt.Fprintln(stderr)
			}

			if save {
				if err := app.Flows.Save(ctx, f.ID(), f.ToData()); err != nil {
					return err
				}
				rec.Capture(store)
				if err := app.Chats.Save(ctx, rec.ID, *rec); err != nil {
					return err
				}
				fmt.Fprintf(stderr, "saved flow %s and chat %s\n", f.ID(), rec.ID)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default agent when empty)")
	cmd.Flags().StringVar(&entry, "entry", "", "start at this step id")
	cmd.Flags().StringVar(&chatID, "chat", "", "continue a stored chat")
	cmd.Flags().BoolVar(&save, "save", false, "store the flow and the chat")
	return cmd
}

func exportCMD(flags *rootFlags) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <flow-id>",
		Short: "Export a stored flow as YAML or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.openApp(cmd, func(o *flowmesh.Options) { o.SkipMCP = true })
			if err != nil {
				return err
			}
			defer app.Close()

			data, err := app.Flows.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f, err := flow.FromData(data)
			if err != nil {
				return err
			}

			var b []byte
			switch format {
			case "yaml", "yml":
				b, err = flow.EncodeYAML(f)
			case "json":
				b, err = json.MarshalIndent(f, "", "  ")
				b = append(b, '\n')
			default:
				return fmt.Errorf("unknown format %q (yaml, json)", format)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(output, b, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout when empty)")
	return cmd
}

func importCMD(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <flow-file>",
		Short: "Store a flow file and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readFlowFile(args[0])
			if err != nil {
				return err
			}
			app, err := flags.openApp(cmd, func(o *flowmesh.Options) { o.SkipMCP = true })
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Flows.Save(cmd.Context(), f.ID(), f.ToData()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f.ID())
			return nil
		},
	}
}

// readFlowFile decodes YAML for .yaml/.yml files and JSON otherwise.
func readFlowFile(path string) (*flow.Flow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return flow.DecodeYAML(b)
	default:
		return flow.DecodeJSON(b)
	}
}

// openChat loads a stored chat or starts a new one for agentID.
func openChat(cmd *cobra.Command, app *flowmesh.App, chatID, agentID string) (*chat.Record, *message.Store, error) {
	if chatID == "" {
		return &chat.Record{ID: util.NewID(), AgentID: agentID}, message.NewStore(), nil
	}
	rec, err := app.Chats.Load(cmd.Context(), chatID)
	if err != nil {
		return nil, nil, err
	}
	if agentID != "" {
		rec.AgentID = agentID
	}
	store, err := rec.Restore()
	if err != nil {
		return nil, nil, err
	}
	return &rec, store, nil
}

// printMessages writes one block per message: role, alternative counter
// when there is more than one, then the active content.
func printMessages(w io.Writer, msgs []message.Message) {
	for _, m := range msgs {
		label := string(m.Role)
		if len(m.Alternatives) > 1 {
			label += " " + message.Alternative{Index: m.ActiveAlternative, Count: len(m.Alternatives)}.String()
		}
		fmt.Fprintf(w, "[%s]\n%s\n\n", label, m.Content())
	}
}
