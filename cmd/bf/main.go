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

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/migrate"
	"briefline/internal/provider"
	"briefline/internal/repo"
	"briefline/internal/server"

	"gopkg.in/yaml.v3"
)

var rootCmd = &cobra.Command{
	Use:   "bf",
	Short: "Briefline CLI",
	Long: `Briefline runs creative briefs through staged agent workflows.
Core concepts:
- Workspace: your .briefline directory holding the database; config lives in briefline.yml.
- Brief: a client request (title, objectives, audience, budget, timeline) attached to a flow.
- Flow: an ordered list of steps defining which agents act, plus the stages the brief moves through.
- Stage: a phase marker (Concept, Copy, Review...); processing a stage runs every flow step in order.
- Agent: a persona with skills that shape its system prompt.
- Output: the aggregated result of processing a stage; conversations record each step's raw reply.
- Feedback: client notes on a stage, parsed into structured points; reprocess a stage against feedback
  to get a revised output linked to the original.
- Event log: diary of changes, view with 'bf log tail'.`,
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
	viper.SetEnvPrefix("BRIEFLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(briefCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(outputCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config is the rulebook (briefline.yml): project id, provider (stub or openai), retry policy, and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default briefline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "briefline", "project id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config YAML into the workspace and DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			if err := os.WriteFile(config.Path(workspace), data, 0o644); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.UpsertConfig(ctx, cfg.Project.ID, string(data), now); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func briefCmd() *cobra.Command {
	brief := &cobra.Command{
		Use:   "brief",
		Short: "Manage briefs",
		Long:  "Briefs are the client requests. Attach a flow at creation, then run 'bf process' to move them through its stages.",
	}
	brief.AddCommand(briefCreateCmd())
	brief.AddCommand(briefListCmd())
	brief.AddCommand(briefShowCmd())
	brief.AddCommand(briefUpdateCmd())
	brief.AddCommand(briefDeleteCmd())
	return brief
}

func briefCreateCmd() *cobra.Command {
	var opts engine.BriefCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.CreateBrief(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "brief id (optional)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Objectives, "objectives", "", "objectives")
	cmd.Flags().StringVar(&opts.TargetAudience, "target-audience", "", "target audience")
	cmd.Flags().StringVar(&opts.Budget, "budget", "", "budget")
	cmd.Flags().StringVar(&opts.Timeline, "timeline", "", "timeline")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "flow id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func briefListCmd() *cobra.Command {
	var f repo.BriefFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List briefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				briefs, err := r.ListBriefs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(briefs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Flow", "Current Stage", "Created"})
				for _, b := range briefs {
					tw.AppendRow(table.Row{b.ID, b.Title, deref(b.FlowID), deref(b.CurrentStageID), b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.FlowID, "flow", "", "flow filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func briefShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				b, err := r.GetBrief(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func briefUpdateCmd() *cobra.Command {
	var title, description, objectives, audience, budget, timeline, flowID string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.BriefUpdateOptions
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("objectives") {
				opts.Objectives = &objectives
			}
			if cmd.Flags().Changed("target-audience") {
				opts.TargetAudience = &audience
			}
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			if cmd.Flags().Changed("timeline") {
				opts.Timeline = &timeline
			}
			if cmd.Flags().Changed("flow") {
				opts.FlowID = &flowID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.UpdateBrief(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&objectives, "objectives", "", "objectives")
	cmd.Flags().StringVar(&audience, "target-audience", "", "target audience")
	cmd.Flags().StringVar(&budget, "budget", "", "budget")
	cmd.Flags().StringVar(&timeline, "timeline", "", "timeline")
	cmd.Flags().StringVar(&flowID, "flow", "", "flow id (empty clears)")
	return cmd
}

func briefDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteBrief(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// flowFile is the YAML shape accepted by 'bf flow import'.
type flowFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Stages      []string `yaml:"stages"`
	Steps       []struct {
		AgentID      string   `yaml:"agent_id"`
		Requirements string   `yaml:"requirements"`
		Outputs      []string `yaml:"outputs"`
	} `yaml:"steps"`
}

func flowCmd() *cobra.Command {
	flow := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
		Long:  "Flows define the stage sequence and which agents act. Import from YAML with stages and steps.",
	}
	flow.AddCommand(flowImportCmd())
	flow.AddCommand(flowListCmd())
	flow.AddCommand(flowShowCmd())
	return flow
}

func flowImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a flow from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var ff flowFile
			if err := yaml.Unmarshal(data, &ff); err != nil {
				return fmt.Errorf("invalid flow yaml: %w", err)
			}
			opts := engine.FlowCreateOptions{
				ID:          ff.ID,
				Name:        ff.Name,
				Description: ff.Description,
				Stages:      ff.Stages,
				ActorID:     viper.GetString("actor-id"),
			}
			for _, s := range ff.Steps {
				opts.Steps = append(opts.Steps, engine.FlowStepSpec{
					AgentID:      s.AgentID,
					Requirements: s.Requirements,
					Outputs:      s.Outputs,
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.CreateFlow(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to flow YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func flowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				flows, err := r.ListFlows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(flows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Steps", "Created"})
				for _, f := range flows {
					tw.AppendRow(table.Row{f.ID, f.Name, len(f.Steps), f.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func flowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a flow with its stages and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f, err := r.GetFlow(ctx, args[0])
				if err != nil {
					return err
				}
				stages, err := r.ListStages(ctx, f.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"flow": f, "stages": stages})
			})
		},
	}
	return cmd
}

// agentFile is the YAML shape accepted by 'bf agent import'.
type agentFile struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Temperature float64 `yaml:"temperature"`
	Skills      []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Content     string `yaml:"content"`
	} `yaml:"skills"`
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Agents are the personas doing the work. Their skills become the system prompt when a stage is processed.",
	}
	agent.AddCommand(agentImportCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	return agent
}

func agentImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an agent from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var af agentFile
			if err := yaml.Unmarshal(data, &af); err != nil {
				return fmt.Errorf("invalid agent yaml: %w", err)
			}
			opts := engine.AgentCreateOptions{
				ID:          af.ID,
				Name:        af.Name,
				Description: af.Description,
				Temperature: af.Temperature,
				ActorID:     viper.GetString("actor-id"),
			}
			for _, s := range af.Skills {
				opts.Skills = append(opts.Skills, engine.SkillSpec{
					Name:        s.Name,
					Description: s.Description,
					Content:     s.Content,
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.Temperature == 0 {
					opts.Temperature = e.Config.Provider.Temperature
				}
				a, err := e.CreateAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to agent YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				agents, err := r.ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Temperature", "Skills"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Temperature, len(a.Skills)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func processCmd() *cobra.Command {
	var stage, feedbackID string
	cmd := &cobra.Command{
		Use:   "process <brief-id>",
		Short: "Process a brief's stage",
		Long:  "Runs every flow step at the given stage (name, prefix, or id; defaults to the brief's current stage). With --feedback, reprocesses against that feedback and links the new output to the original.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.OnRetry = func(err error, attempt int) {
					fmt.Fprintf(os.Stderr, "retry %d: %v\n", attempt, err)
				}
				res, err := e.Process(ctx, engine.ProcessOptions{
					BriefID:    args[0],
					Stage:      stage,
					FeedbackID: feedbackID,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Output %s (stage %s)\n", res.Output.ID, res.Output.StageID)
				fmt.Println(domain.Normalize(res.Output.ContentJSON).Response)
				for _, c := range res.Conversations {
					if c.Saved {
						fmt.Printf("conversation %s saved\n", c.Conversation.ID)
					} else {
						fmt.Printf("conversation for step %s not saved: %s\n", c.Conversation.FlowStepID, c.FailReason)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage name, prefix, or id")
	cmd.Flags().StringVar(&feedbackID, "feedback", "", "feedback id to reprocess against")
	return cmd
}

func feedbackCmd() *cobra.Command {
	fb := &cobra.Command{
		Use:   "feedback",
		Short: "Manage feedback",
		Long:  "Feedback captures client notes on a stage's output. Content is parsed into structured points; 'bf feedback index' embeds unprocessed items for retrieval.",
	}
	fb.AddCommand(feedbackAddCmd())
	fb.AddCommand(feedbackListCmd())
	fb.AddCommand(feedbackIndexCmd())
	return fb
}

func feedbackAddCmd() *cobra.Command {
	var opts engine.FeedbackCreateOptions
	var rating int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add feedback on a brief's stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("rating") {
				opts.Rating = &rating
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.CreateFeedback(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.BriefID, "brief", "", "brief id")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage name, prefix, or id")
	cmd.Flags().StringVar(&opts.Content, "content", "", "feedback text")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	cmd.Flags().BoolVar(&opts.RequiresRevision, "requires-revision", false, "flag output for revision")
	cmd.Flags().BoolVar(&opts.IsPermanent, "permanent", false, "keep as a standing preference")
	_ = cmd.MarkFlagRequired("brief")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func feedbackListCmd() *cobra.Command {
	var briefID, stageID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFeedback(ctx, briefID, stageID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Stage", "Rating", "Revision", "Indexed", "Content"})
				for _, f := range items {
					rating := ""
					if f.Rating != nil {
						rating = fmt.Sprint(*f.Rating)
					}
					tw.AppendRow(table.Row{f.ID, f.StageID, rating, f.RequiresRevision, f.ProcessedForRAG, truncate(f.Content, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&briefID, "brief", "", "brief id")
	cmd.Flags().StringVar(&stageID, "stage-id", "", "stage id filter")
	_ = cmd.MarkFlagRequired("brief")
	return cmd
}

func feedbackIndexCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed unindexed feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.IndexFeedback(ctx, limit, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"indexed": n})
				}
				fmt.Printf("indexed %d feedback item(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max items to index")
	return cmd
}

func outputCmd() *cobra.Command {
	out := &cobra.Command{
		Use:   "output",
		Short: "Inspect outputs",
	}
	out.AddCommand(outputListCmd())
	out.AddCommand(outputShowCmd())
	out.AddCommand(outputSpeakCmd())
	return out
}

func outputListCmd() *cobra.Command {
	var f repo.OutputFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outputs for a brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				outputs, err := r.ListOutputs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(outputs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Stage", "Reprocessed", "Created"})
				for _, o := range outputs {
					tw.AppendRow(table.Row{o.ID, o.StageID, o.IsReprocessed, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.BriefID, "brief", "", "brief id")
	cmd.Flags().StringVar(&f.StageID, "stage-id", "", "stage id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	_ = cmd.MarkFlagRequired("brief")
	return cmd
}

func outputShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOutput(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(o)
				}
				fmt.Println(domain.Normalize(o.ContentJSON).Response)
				return nil
			})
		},
	}
	return cmd
}

func outputSpeakCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "speak <id>",
		Short: "Synthesize speech for an output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				audio, err := e.Speak(ctx, args[0])
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, audio, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %d bytes to %s\n", len(audio), outFile)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "output.mp3", "destination file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: briefs, flows, processing runs, and feedback.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var briefID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, briefID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Brief", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.BriefID, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&briefID, "brief", "", "brief filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("BRIEFLINE_JWT_SECRET"),
					AllowLegacyActorHeader: allowLegacy,
				}
				if authCfg.JWTSecret == "" && !allowLegacy {
					return fmt.Errorf("BRIEFLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Briefline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials")
	return cmd
}

// --- helpers ---

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
	r := repo.Repo{DB: conn}
	cfg, err := resolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	gen, err := provider.FromConfig(cfg)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, gen)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveConfig prefers the workspace briefline.yml, then the copy stored
// in the DB by 'bf config import', then built-in defaults.
func resolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	projectID := strings.TrimSpace(viper.GetString("project"))
	if projectID == "" {
		projectID = "briefline"
	}
	raw, err := r.GetConfig(ctx, projectID)
	if err == nil && raw != "" {
		return config.FromYAML([]byte(raw))
	}
	return config.Default(projectID), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
