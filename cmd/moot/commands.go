package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
)

func nodeCmd() *cobra.Command {
	node := &cobra.Command{Use: "node", Short: "Author dialogue nodes"}
	node.AddCommand(nodeAddCmd())
	node.AddCommand(nodeListCmd())
	node.AddCommand(nodeUpdateCmd())
	node.AddCommand(nodeDeleteCmd())
	return node
}

func nodeAddCmd() *cobra.Command {
	var dialogueID, kind, title, body, menuLabel, role, precond, effects string
	var initial, final bool
	var posX, posY float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a node to a draft dialogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddNode(ctx, engine.NodeCreateOptions{
					DialogueID:     dialogueID,
					Kind:           domain.NodeKind(kind),
					Title:          title,
					Body:           body,
					MenuLabel:      menuLabel,
					SpeakingRoleID: role,
					PosX:           posX,
					PosY:           posY,
					IsInitial:      initial,
					IsFinal:        final,
					PrecondJSON:    precond,
					EffectsJSON:    effects,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&dialogueID, "dialogue", "", "dialogue id")
	cmd.Flags().StringVar(&kind, "kind", "development", "node kind (start, development, decision, final, group, response)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&body, "body", "", "spoken text")
	cmd.Flags().StringVar(&menuLabel, "menu-label", "", "label shown in choice menus")
	cmd.Flags().StringVar(&role, "role", "", "speaking role id")
	cmd.Flags().StringVar(&precond, "preconditions", "", "preconditions JSON")
	cmd.Flags().StringVar(&effects, "effects", "", "effects JSON")
	cmd.Flags().BoolVar(&initial, "initial", false, "mark as initial node")
	cmd.Flags().BoolVar(&final, "final", false, "mark as final node")
	cmd.Flags().Float64Var(&posX, "x", 0, "canvas x")
	cmd.Flags().Float64Var(&posY, "y", 0, "canvas y")
	_ = cmd.MarkFlagRequired("dialogue")
	return cmd
}

func nodeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <dialogue-id>",
		Short: "List nodes of a dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				nodes, err := e.Repo.ListNodes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nodes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Role", "Initial", "Final"})
				for _, n := range nodes {
					role := ""
					if n.SpeakingRoleID != nil {
						role = *n.SpeakingRoleID
					}
					tw.AppendRow(table.Row{n.ID, n.Kind, n.Title, role, n.IsInitial, n.IsFinal})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func nodeUpdateCmd() *cobra.Command {
	var title, body, menuLabel, role, kind, precond, effects string
	var clearRole bool
	cmd := &cobra.Command{
		Use:   "update <node-id>",
		Short: "Update a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.NodeUpdateOptions{ID: args[0], ClearRole: clearRole}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("body") {
				opts.Body = &body
			}
			if cmd.Flags().Changed("menu-label") {
				opts.MenuLabel = &menuLabel
			}
			if cmd.Flags().Changed("role") {
				opts.SpeakingRoleID = &role
			}
			if cmd.Flags().Changed("kind") {
				k := domain.NodeKind(kind)
				opts.Kind = &k
			}
			if cmd.Flags().Changed("preconditions") {
				opts.PrecondJSON = &precond
			}
			if cmd.Flags().Changed("effects") {
				opts.EffectsJSON = &effects
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.UpdateNode(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&body, "body", "", "spoken text")
	cmd.Flags().StringVar(&menuLabel, "menu-label", "", "menu label")
	cmd.Flags().StringVar(&role, "role", "", "speaking role id")
	cmd.Flags().StringVar(&kind, "kind", "", "node kind")
	cmd.Flags().StringVar(&precond, "preconditions", "", "preconditions JSON")
	cmd.Flags().StringVar(&effects, "effects", "", "effects JSON")
	cmd.Flags().BoolVar(&clearRole, "clear-role", false, "remove the speaking role")
	return cmd
}

func nodeDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Delete a node and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteNode(ctx, args[0])
			})
		},
	}
	return cmd
}

func responseCmd() *cobra.Command {
	resp := &cobra.Command{Use: "response", Short: "Author response edges"}
	resp.AddCommand(responseAddCmd())
	resp.AddCommand(responseListCmd())
	resp.AddCommand(responseDeleteCmd())
	return resp
}

func responseAddCmd() *cobra.Command {
	var dialogueID, sourceID, targetID, label, desc, color, roles, precond, effects string
	var sortOrder, scoreDelta int
	var registeredOnly, isDefault bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Connect two nodes with a response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				re, err := e.AddResponse(ctx, engine.ResponseCreateOptions{
					DialogueID:     dialogueID,
					SourceID:       sourceID,
					TargetID:       targetID,
					Label:          label,
					Description:    desc,
					SortOrder:      sortOrder,
					ScoreDelta:     scoreDelta,
					Color:          color,
					RegisteredOnly: registeredOnly,
					IsDefault:      isDefault,
					RolesJSON:      roles,
					PrecondJSON:    precond,
					EffectsJSON:    effects,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(re)
			})
		},
	}
	cmd.Flags().StringVar(&dialogueID, "dialogue", "", "dialogue id")
	cmd.Flags().StringVar(&sourceID, "from", "", "source node id")
	cmd.Flags().StringVar(&targetID, "to", "", "target node id (may be empty for a dangling edge)")
	cmd.Flags().StringVar(&label, "label", "", "choice label")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().StringVar(&roles, "roles", "", "allowed roles JSON array")
	cmd.Flags().StringVar(&precond, "preconditions", "", "preconditions JSON")
	cmd.Flags().StringVar(&effects, "effects", "", "effects JSON")
	cmd.Flags().IntVar(&sortOrder, "order", 0, "sort order")
	cmd.Flags().IntVar(&scoreDelta, "score", 0, "score delta")
	cmd.Flags().BoolVar(&registeredOnly, "registered-only", false, "restrict to users holding a role")
	cmd.Flags().BoolVar(&isDefault, "default", false, "mark as default choice")
	_ = cmd.MarkFlagRequired("dialogue")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func responseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <dialogue-id>",
		Short: "List responses of a dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edges, err := e.Repo.ListResponses(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(edges)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "From", "To", "Label", "Score", "Default"})
				for _, re := range edges {
					target := "-"
					if re.TargetID != nil {
						target = *re.TargetID
					}
					tw.AppendRow(table.Row{re.ID, re.SourceID, target, re.Label, re.ScoreDelta, re.IsDefault})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func responseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <response-id>",
		Short: "Delete a response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteResponse(ctx, args[0])
			})
		},
	}
	return cmd
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Run and steer sessions"}
	sess.AddCommand(sessionStartCmd())
	sess.AddCommand(sessionStateCmd("pause", "Pause a running session", func(e engine.Engine) func(context.Context, string, string) (domain.SessionExecution, error) {
		return e.PauseSession
	}))
	sess.AddCommand(sessionStateCmd("resume", "Resume a paused session", func(e engine.Engine) func(context.Context, string, string) (domain.SessionExecution, error) {
		return e.ResumeSession
	}))
	sess.AddCommand(sessionStateCmd("finish", "Finish a session", func(e engine.Engine) func(context.Context, string, string) (domain.SessionExecution, error) {
		return e.FinishSession
	}))
	sess.AddCommand(sessionClaimCmd())
	sess.AddCommand(sessionReleaseCmd())
	sess.AddCommand(sessionNowCmd())
	sess.AddCommand(sessionShowCmd())
	sess.AddCommand(sessionSubmitCmd())
	sess.AddCommand(sessionAdvanceCmd())
	return sess
}

func sessionStartCmd() *cobra.Command {
	var dialogueID string
	cmd := &cobra.Command{
		Use:   "start <session-id>",
		Short: "Start a session on an active dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ex, err := e.StartSession(ctx, engine.StartSessionOptions{
					SessionID:  args[0],
					DialogueID: dialogueID,
					ActorID:    viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ex)
			})
		},
	}
	cmd.Flags().StringVar(&dialogueID, "dialogue", "", "dialogue id")
	_ = cmd.MarkFlagRequired("dialogue")
	return cmd
}

func sessionStateCmd(use, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.SessionExecution, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ex, err := pick(e)(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ex)
			})
		},
	}
}

func sessionClaimCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "claim <session-id>",
		Short: "Claim a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ClaimRole(ctx, args[0], role, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id from the catalog")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func sessionReleaseCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "release <session-id>",
		Short: "Release a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReleaseRole(ctx, args[0], role, viper.GetString("user-id"), viper.GetBool("force"))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func sessionNowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "now <session-id>",
		Short: "Show the current node and playable responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				avail, err := e.SessionAvailability(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(avail)
				}
				if avail.CurrentNode != nil {
					fmt.Printf("At: %s (%s) %s\n", avail.CurrentNode.ID, avail.CurrentNode.Kind, avail.CurrentNode.Title)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Response", "Label", "Allowed", "Reason"})
				for _, r := range avail.Responses {
					tw.AppendRow(table.Row{r.Response.ID, r.Response.Label, r.Allowed, r.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show execution history and score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				readout, err := e.SessionHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(readout)
			})
		},
	}
	return cmd
}

func sessionSubmitCmd() *cobra.Command {
	var responseID, role, annex string
	var latency int
	cmd := &cobra.Command{
		Use:   "submit <session-id>",
		Short: "Play a response as the current speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dec, ex, err := e.SubmitDecision(ctx, engine.SubmitOptions{
					SessionID:  args[0],
					ResponseID: responseID,
					UserID:     viper.GetString("user-id"),
					RoleID:     role,
					AnnexText:  annex,
					LatencyMs:  latency,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"decision": dec, "execution": ex})
			})
		},
	}
	cmd.Flags().StringVar(&responseID, "response", "", "response id")
	cmd.Flags().StringVar(&role, "role", "", "role you act as")
	cmd.Flags().StringVar(&annex, "annex", "", "free-form annex text")
	cmd.Flags().IntVar(&latency, "latency-ms", 0, "client-measured decision latency")
	_ = cmd.MarkFlagRequired("response")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func sessionAdvanceCmd() *cobra.Command {
	var toNodeID string
	cmd := &cobra.Command{
		Use:   "advance <session-id>",
		Short: "Force the pointer to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ex, err := e.AdvanceManual(ctx, args[0], toNodeID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ex)
			})
		},
	}
	cmd.Flags().StringVar(&toNodeID, "to", "", "target node id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Read session event logs"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var cursor int64
	var limit int
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Read events past a cursor, optionally following",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for {
					evts, err := e.EventsSince(ctx, args[0], cursor, limit)
					if err != nil {
						return err
					}
					for _, evt := range evts {
						cursor = evt.Seq
						if viper.GetBool("json") {
							if err := printJSON(evt); err != nil {
								return err
							}
							continue
						}
						fmt.Printf("%6d  %-24s %-20s %s\n", evt.Seq, evt.TS, evt.Type, evt.Payload)
					}
					if !follow {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
				}
			})
		},
	}
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "start after this seq")
	cmd.Flags().IntVar(&limit, "n", 100, "page size")
	cmd.Flags().BoolVar(&follow, "follow", false, "poll for new events")
	return cmd
}
