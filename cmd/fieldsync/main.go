package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/db"
	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
	"fieldsync/internal/repo"
	"fieldsync/internal/server"
	"fieldsync/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "FieldSync offline synchronization server",
	Long: `FieldSync is the offline-sync backend for field technicians: they download
a working set of assigned items with their workflow templates, work
disconnected, capture photo/audio evidence, and push accumulated changes
back in one batch. The server reconciles each batch update by update,
records conflicts instead of aborting, and keeps an audit trail of every
sync attempt.`,
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
	viper.SetEnvPrefix("FIELDSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("org-id", app.DefaultOrgID, "organization identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("org-id", rootCmd.PersistentFlags().Lookup("org-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(synclogCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(seedCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if secret := viper.GetString("jwt-secret"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			pool := worker.NewPool(cfg.Worker.Count, log.Default())
			defer pool.Stop()
			e := engine.New(conn, cfg, cfg.MediaDir(workspace), pool)
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:         cfg.Auth.JWTSecret,
					AllowLegacyHeader: cfg.Auth.AllowLegacyHeader,
				},
			})
			if err != nil {
				return err
			}
			log.Printf("fieldsync listening on %s%s", addr, basePath)
			return http.ListenAndServe(addr, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().String("jwt-secret", "", "JWT signing secret (overrides config)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, _, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Println("migrated", db.Path(workspace))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default fieldsync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Inspect work items"}
	item.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List work items in the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrgWorkItems(ctx, viper.GetString("org-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Due"})
				for _, it := range items {
					assignee, due := "", ""
					if it.AssignedTo != nil {
						assignee = *it.AssignedTo
					}
					if it.DueDate != nil {
						due = *it.DueDate
					}
					tw.AppendRow(table.Row{it.ID, it.Title, it.Status, assignee, due})
				}
				tw.Render()
				return nil
			})
		},
	})
	return item
}

func synclogCmd() *cobra.Command {
	sl := &cobra.Command{Use: "synclog", Short: "Inspect sync activity"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent sync log entries for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListSyncLogs(ctx, viper.GetString("org-id"), viper.GetString("user-id"), limit, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Outcome", "Total", "OK", "Failed", "At"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.Kind, e.Outcome, e.Total, e.Succeeded, e.Failed, e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of entries")
	sl.AddCommand(tail)
	sl.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one sync log entry with its detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entry, err := r.GetSyncLog(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(entry)
			})
		},
	})
	return sl
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    viper.GetString("user-id"),
					OrgID:     viper.GetString("org-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				fmt.Println(raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	ak.AddCommand(create)
	ak.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys in the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("org-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	ak.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return ak
}

func tokenCmd() *cobra.Command {
	var secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("no JWT secret configured; pass --secret")
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub": viper.GetString("user-id"),
				"org": viper.GetString("org-id"),
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			}
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
			signed, err := token.SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default from config)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert sample data for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Open(ctx, workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.Repo{DB: conn}
			orgID := viper.GetString("org-id")
			userID := viper.GetString("user-id")
			now := time.Now().UTC().Format(time.RFC3339)

			stepsJSON, _ := json.Marshal([]map[string]any{
				{
					"title":    "Inspect cabinet",
					"stepType": "checklist",
					"required": true,
					"checklistItems": []map[string]any{
						{"id": "c1", "label": "Door closes", "required": true},
						{"id": "c2", "label": "No corrosion"},
					},
				},
				{
					"title":    "Photograph meter",
					"stepType": "photo",
					"photoConfig": map[string]any{
						"minPhotos": 1,
					},
				},
			})
			tmpl := domain.WorkflowTemplate{
				ID:        uuid.NewString(),
				OrgID:     orgID,
				Name:      "Cabinet inspection",
				StepsJSON: string(stepsJSON),
				CreatedAt: now,
			}
			if err := r.InsertWorkflowTemplate(ctx, tmpl); err != nil {
				return err
			}

			team := domain.Team{ID: uuid.NewString(), OrgID: orgID, Name: "Field crew A", CreatedAt: now}
			if err := r.InsertTeam(ctx, team); err != nil {
				return err
			}
			if err := r.AddTeamMember(ctx, team.ID, userID); err != nil {
				return err
			}

			due := time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339)
			item := domain.WorkItem{
				ID:                 uuid.NewString(),
				OrgID:              orgID,
				Title:              "Inspect cabinet 14",
				Status:             "assigned",
				Priority:           "high",
				AssignedTo:         &userID,
				TeamID:             &team.ID,
				DueDate:            &due,
				WorkflowTemplateID: &tmpl.ID,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if err := r.InsertWorkItem(ctx, nil, item); err != nil {
				return err
			}
			e := engine.New(conn, cfg, cfg.MediaDir(workspace), nil)
			if err := e.InitExecution(ctx, item); err != nil {
				return err
			}
			fmt.Println("seeded template", tmpl.ID, "and work item", item.ID)
			return nil
		},
	}
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, _, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
