package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mootcourt/internal/config"
	"mootcourt/internal/db"
	"mootcourt/internal/engine"
	"mootcourt/internal/migrate"
	"mootcourt/internal/repo"
	"mootcourt/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "moot",
	Short: "Mootcourt CLI",
	Long: `Mootcourt runs branching trial simulations.
Core concepts:
- Workspace: your .mootcourt directory with the database; runtime config lives in mootcourt.yml.
- Dialogue: a directed graph of scripted moments; draft -> active -> archived.
- Nodes: start, development, decision, final, group, response; decisions fan out into choices.
- Responses: the edges. Labels, roles, score deltas, preconditions, effects.
- Session: one courtroom playing one active dialogue; at most one live execution at a time.
- Roles: claimed one user per role from the catalog; the turn gate checks them on every decision.
- Event log: per-session diary with integer cursors, view with 'moot log tail' or follow it live.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MOOTCOURT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(dialogueCmd())
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(responseCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var courtroomID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(courtroomID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&courtroomID, "id", "courtroom-1", "courtroom id")
	return cmd
}

func dialogueCmd() *cobra.Command {
	dlg := &cobra.Command{Use: "dialogue", Short: "Manage dialogue graphs"}
	dlg.AddCommand(dialogueListCmd())
	dlg.AddCommand(dialogueCreateCmd())
	dlg.AddCommand(dialogueShowCmd())
	dlg.AddCommand(dialogueValidateCmd())
	dlg.AddCommand(dialogueActivateCmd())
	dlg.AddCommand(dialogueRevertCmd())
	dlg.AddCommand(dialogueArchiveCmd())
	dlg.AddCommand(dialogueDuplicateCmd())
	dlg.AddCommand(dialogueDeleteCmd())
	dlg.AddCommand(dialogueExportCmd())
	dlg.AddCommand(dialogueImportCmd())
	return dlg
}

func dialogueListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dialogues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDialogues(ctx, repo.DialogueFilters{State: state})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Visibility", "Owner", "Version"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.State, d.Visibility, d.OwnerID, d.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (draft, active, archived)")
	return cmd
}

func dialogueCreateCmd() *cobra.Command {
	var name, desc, visibility string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create dialogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDialogue(ctx, engine.DialogueCreateOptions{
					Name:        name,
					Description: desc,
					Visibility:  visibility,
					OwnerID:     viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "dialogue name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&visibility, "visibility", "private", "private or public")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func dialogueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a dialogue with its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDialogue(ctx, args[0])
				if err != nil {
					return err
				}
				nodes, err := e.Repo.ListNodes(ctx, d.ID)
				if err != nil {
					return err
				}
				edges, err := e.Repo.ListResponses(ctx, d.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"dialogue":  d,
					"nodes":     nodes,
					"responses": edges,
				})
			})
		},
	}
	return cmd
}

func dialogueValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate a dialogue graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.ValidateDialogue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func dialogueActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Validate and activate a dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, rep, err := e.ActivateDialogue(ctx, args[0])
				if err != nil {
					var ge engine.GraphInvalidError
					if errors.As(err, &ge) {
						_ = printJSONOrTable(ge.Report)
					}
					return err
				}
				return printJSONOrTable(map[string]any{"dialogue": d, "report": rep})
			})
		},
	}
	return cmd
}

func dialogueRevertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <id>",
		Short: "Revert a dialogue to draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RevertDialogue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func dialogueArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ArchiveDialogue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func dialogueDuplicateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Duplicate a dialogue as a fresh draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.DuplicateDialogue(ctx, args[0], name, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the copy")
	return cmd
}

func dialogueDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDialogue(ctx, args[0])
			})
		},
	}
	return cmd
}

func dialogueExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a dialogue bundle to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bundle, err := e.ExportDialogue(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(bundle, "", "  ")
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Println(string(data))
					return nil
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&out, "file", "", "write bundle to file instead of stdout")
	return cmd
}

func dialogueImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a dialogue bundle from JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var bundle engine.DialogueBundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("invalid bundle: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ImportDialogue(ctx, bundle, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "bundle JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("courtroom-1")
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("MOOTCOURT_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MOOTCOURT_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Mootcourt API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
