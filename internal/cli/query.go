package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/inklingd/inkling/internal/config"
	"github.com/inklingd/inkling/internal/query"
	"github.com/inklingd/inkling/internal/store"
	"github.com/spf13/cobra"
)

var (
	queryLimit int
	queryMode  string
	querySince string
	queryUntil string
	queryJSON  bool
	showJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the proposition model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one proposition with lineage and observations",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "Maximum results")
	queryCmd.Flags().StringVar(&queryMode, "mode", "or", "Term matching: or|and")
	queryCmd.Flags().StringVar(&querySince, "since", "", "Only propositions updated at or after this RFC3339 time")
	queryCmd.Flags().StringVar(&queryUntil, "until", "", "Only propositions updated at or before this RFC3339 time")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Output machine-readable JSON")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output machine-readable JSON")
}

// openEngine loads config and opens the store read side for one-shot commands.
func openEngine() (*query.Engine, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	dbPath, err := config.ResolvePath(cfg.Paths.DBPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewStore(store.StoreOptions{
		Path: dbPath,
		Weights: store.Weights{
			Text:       cfg.Query.TextWeight,
			Confidence: cfg.Query.ConfidenceWeight,
			Recency:    cfg.Query.RecencyWeight,
			HalfLife:   cfg.Query.HalfLife(),
		},
		CandidateFactor: cfg.Query.CandidateFactor,
	})
	if err != nil {
		return nil, nil, err
	}
	return query.NewEngine(st), st, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	req := query.Request{
		Text:  strings.Join(args, " "),
		Limit: queryLimit,
		Mode:  queryMode,
	}
	if querySince != "" {
		t, err := time.Parse(time.RFC3339, querySince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		req.Start = &t
	}
	if queryUntil != "" {
		t, err := time.Parse(time.RFC3339, queryUntil)
		if err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
		req.End = &t
	}

	results, err := eng.Query(context.Background(), req)
	if err != nil {
		return err
	}
	if queryJSON {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	if len(results) == 0 {
		fmt.Println("No propositions matched.")
		return nil
	}
	for _, r := range results {
		printResult(r)
	}
	return nil
}

func printResult(r query.Result) {
	p := r.Proposition
	fmt.Printf("%s  #%d v%d  %s\n", color.CyanString("%.3f", r.Score), p.ID, p.Version, p.Text)
	if p.Confidence != nil || p.Decay != nil {
		line := "       "
		if p.Confidence != nil {
			line += fmt.Sprintf(" confidence %d/10", *p.Confidence)
		}
		if p.Decay != nil {
			line += fmt.Sprintf(" decay %d/10", *p.Decay)
		}
		fmt.Println(line)
	}
	if len(r.ParentIDs) > 0 {
		fmt.Printf("        revised from %s\n", idList(r.ParentIDs))
	}
	for _, o := range r.Observations {
		fmt.Printf("        ↳ [%s] %s\n", o.Observer, firstLine(o.Content))
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid proposition id %q", args[0])
	}
	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	detail, err := eng.Describe(context.Background(), id)
	if err != nil {
		return err
	}
	if showJSON {
		data, _ := json.MarshalIndent(detail, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	p := detail.Proposition
	fmt.Printf("%s v%d (group %s)\n", color.CyanString("#%d", p.ID), p.Version, p.RevisionGroup)
	fmt.Printf("Text:       %s\n", p.Text)
	if p.Reasoning != "" {
		fmt.Printf("Reasoning:  %s\n", p.Reasoning)
	}
	if p.Confidence != nil {
		fmt.Printf("Confidence: %d/10\n", *p.Confidence)
	}
	if p.Decay != nil {
		fmt.Printf("Decay:      %d/10\n", *p.Decay)
	}
	fmt.Printf("Updated:    %s\n", p.UpdatedAt.Format(time.RFC3339))
	if len(detail.ParentIDs) > 0 {
		fmt.Printf("Parents:    %s\n", idList(detail.ParentIDs))
	}
	if len(detail.ChildIDs) > 0 {
		fmt.Printf("Children:   %s\n", idList(detail.ChildIDs))
	}
	if len(detail.Lineage) > 1 {
		fmt.Println("Lineage:")
		for _, v := range detail.Lineage {
			marker := " "
			if v.ID == p.ID {
				marker = "*"
			}
			fmt.Printf("  %s v%d #%d  %s\n", marker, v.Version, v.ID, v.Text)
		}
	}
	if len(detail.Observations) > 0 {
		fmt.Println("Observations:")
		for _, o := range detail.Observations {
			fmt.Printf("  [%s] %s %s: %s\n", o.Observer, o.CreatedAt.Format("2006-01-02 15:04"), o.ContentType, firstLine(o.Content))
		}
	}
	return nil
}

func idList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
