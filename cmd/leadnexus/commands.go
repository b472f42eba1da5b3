package main

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadnexus/internal/config"
	"github.com/kalambet/leadnexus/internal/ingest"
	"github.com/kalambet/leadnexus/internal/leads"
	"github.com/kalambet/leadnexus/internal/retrieval"
	"github.com/kalambet/leadnexus/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <url>...",
	Short: "Fetch pages and turn them into leads",
	Long: `Fetch one or more public pages, extract a lead from each and store it.

Examples:
  leadnexus ingest https://example.com/about
  leadnexus ingest --async https://a.example/team https://b.example/host`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("at least one URL is required")
		}
		return ingest.ValidateURLs(args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		async, _ := cmd.Flags().GetBool("async")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/leads/ingest"
		if async {
			path += "?async=true"
		}
		resp, err := client.post(cmd.Context(), path, map[string]any{"urls": args})
		if err != nil {
			return err
		}

		if async {
			var queued struct {
				JobID  string `json:"jobId"`
				Status string `json:"status"`
			}
			if err := decodeJSON(resp, &queued); err != nil {
				return err
			}
			printSuccess("Queued job %s", queued.JobID)
			printStep("check progress with: leadnexus jobs get %s", queued.JobID)
			return nil
		}

		var result ingest.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printIngestResult(result)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("async", false, "queue the batch and return a job id")
}

func printIngestResult(r ingest.Result) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case ingest.StatusSucceeded:
			for _, l := range o.Leads {
				printSuccess("%s: %s <%s> [%s]", o.URL, l.Name, l.Email, l.Category)
			}
		case ingest.StatusFailed:
			printError("%s: %s", o.URL, o.Error)
		default:
			msg := string(o.Status)
			if o.Error != "" {
				msg += ": " + o.Error
			}
			printWarning("%s: %s", o.URL, msg)
		}
	}
	printStatus("Processed", "%d", r.Processed)
	printStatus("Successful", "%d", r.Successful)
	printStatus("Failed", "%d", r.Failed)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over leads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/leads/search", map[string]any{
			"query":    strings.Join(args, " "),
			"category": category,
			"page":     page,
			"pageSize": pageSize,
		})
		if err != nil {
			return err
		}

		var result retrieval.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, result)
		}

		if len(result.Items) == 0 {
			printWarning("No matching leads")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tNAME\tCATEGORY\tEMAIL\tID")
		for _, l := range result.Items {
			fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%s\n", l.Similarity, l.Name, l.Category, l.Email, l.ID)
		}
		tw.Flush()

		p := result.Pagination
		printStatus("Page", "%d of %d (%d results)", p.Page, p.TotalPages, p.TotalItems)
		if result.MemoryContext != "" {
			printStatus("Memory context", "\n%s", result.MemoryContext)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("category", "", "restrict to one category")
	searchCmd.Flags().Int("page", 1, "page number")
	searchCmd.Flags().Int("page-size", retrieval.DefaultPageSize, "results per page")
	searchCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- lead ---

var leadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Manage individual leads",
}

var leadGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a lead with its memories and relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/leads/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var detail leads.Detail
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}
		return printJSON(os.Stdout, detail)
	},
}

var leadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		if category != "" {
			q.Set("category", category)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/leads?"+q.Encode())
		if err != nil {
			return err
		}
		var page leads.Page
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tEMAIL\tCREATED")
		for _, l := range page.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.Category, l.Email, l.CreatedAt.Format(time.DateOnly))
		}
		tw.Flush()
		printStatus("Showing", "%d of %d", len(page.Items), page.Total)
		return nil
	},
}

var leadAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a lead directly",
	RunE: func(cmd *cobra.Command, args []string) error {
		var in leads.Input
		in.Name, _ = cmd.Flags().GetString("name")
		in.Email, _ = cmd.Flags().GetString("email")
		in.Bio, _ = cmd.Flags().GetString("bio")
		category, _ := cmd.Flags().GetString("category")
		in.Category = storage.Category(category)
		in.SourceURL, _ = cmd.Flags().GetString("source-url")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/leads", in)
		if err != nil {
			return err
		}
		var created storage.Lead
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Created lead %s (%s)", created.ID, created.Name)
		return nil
	},
}

var leadDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a lead and its relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/leads/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted lead %s", args[0])
		return nil
	},
}

var leadSimilarCmd = &cobra.Command{
	Use:   "similar <id>",
	Short: "Show the leads closest to a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/leads/%s/similar?limit=%d", url.PathEscape(args[0]), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var body struct {
			Items []storage.ScoredLead `json:"items"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tNAME\tCATEGORY\tID")
		for _, l := range body.Items {
			fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n", l.Similarity, l.Name, l.Category, l.ID)
		}
		return tw.Flush()
	},
}

var leadRelationshipsCmd = &cobra.Command{
	Use:   "relationships <id>",
	Short: "List a lead's relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/leads/"+url.PathEscape(args[0])+"/relationships")
		if err != nil {
			return err
		}
		var body struct {
			Items []storage.Relationship `json:"items"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFROM\tTYPE\tTO")
		for _, r := range body.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.LeadID, r.RelationshipType, r.RelatedLeadID)
		}
		return tw.Flush()
	},
}

func init() {
	leadListCmd.Flags().String("category", "", "restrict to one category")
	leadListCmd.Flags().Int("limit", leads.DefaultListLimit, "maximum number of leads")
	leadListCmd.Flags().Int("offset", 0, "number of leads to skip")

	leadAddCmd.Flags().String("name", "", "full name")
	leadAddCmd.Flags().String("email", "", "contact email")
	leadAddCmd.Flags().String("bio", "", "short biography")
	leadAddCmd.Flags().String("category", "", "lead category")
	leadAddCmd.Flags().String("source-url", "", "where the lead was found")
	leadAddCmd.MarkFlagRequired("name")
	leadAddCmd.MarkFlagRequired("email")
	leadAddCmd.MarkFlagRequired("category")

	leadSimilarCmd.Flags().Int("limit", retrieval.DefaultSimilar, "maximum number of similar leads")

	leadCmd.AddCommand(leadGetCmd)
	leadCmd.AddCommand(leadListCmd)
	leadCmd.AddCommand(leadAddCmd)
	leadCmd.AddCommand(leadDeleteCmd)
	leadCmd.AddCommand(leadSimilarCmd)
	leadCmd.AddCommand(leadRelationshipsCmd)
}

// --- relationships ---

var relateCmd = &cobra.Command{
	Use:   "relate <lead-id-1> <lead-id-2> <type>",
	Short: "Record a typed relationship between two leads",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/relationships", map[string]string{
			"leadId1":          args[0],
			"leadId2":          args[1],
			"relationshipType": args[2],
		})
		if err != nil {
			return err
		}
		var res leads.RelationshipResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("%s (%s)", res.Message, res.ID)
		return nil
	},
}

var unrelateCmd = &cobra.Command{
	Use:   "unrelate <relationship-id>",
	Short: "Delete a relationship",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/relationships/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted relationship %s", args[0])
		return nil
	},
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph <query>",
	Short: "Query the knowledge graph built from lead memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/graph/query", map[string]any{
			"query":        strings.Join(args, " "),
			"maxDepth":     maxDepth,
			"leadCategory": category,
		})
		if err != nil {
			return err
		}
		var g leads.GraphResult
		if err := decodeJSON(resp, &g); err != nil {
			return err
		}
		return printJSON(os.Stdout, g)
	},
}

func init() {
	graphCmd.Flags().String("category", "", "restrict to one lead category")
	graphCmd.Flags().Int("max-depth", 0, "traversal depth hint (0-5)")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect background ingestion jobs",
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a job's status and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(os.Stdout, job)
	},
}

func init() {
	jobsCmd.AddCommand(jobsGetCmd)
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the local store with demo leads",
	Long: `Generate demo leads for every category and link some of them with
random relationships. Runs in-process against the configured store, so the
server does not need to be running. Existing emails are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		perCategory, _ := cmd.Flags().GetInt("per-category")
		relationships, _ := cmd.Flags().GetInt("relationships")
		seed, _ := cmd.Flags().GetUint64("seed")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log, os.Stderr)

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := leads.SeedOptions{PerCategory: perCategory, Relationships: relationships}
		if seed != 0 {
			opts.Rand = rand.New(rand.NewPCG(seed, seed))
		}
		printStep("Seeding %d leads per category", perCategory)
		res, err := a.service.Seed(cmd.Context(), opts)
		if err != nil {
			return err
		}
		printSuccess("Created %d leads (%d skipped), %d relationships", res.Created, res.Skipped, res.Relationships)
		return nil
	},
}

func init() {
	seedCmd.Flags().Int("per-category", 5, "leads to generate per category")
	seedCmd.Flags().Int("relationships", 10, "random relationships to add")
	seedCmd.Flags().Uint64("seed", 0, "random seed for reproducible data (0 = random)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Key, k.Value, k.EnvVar)
		}
		return tw.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
