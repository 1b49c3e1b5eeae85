package main

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"epic-issues/internal/export"
	"epic-issues/internal/intent"
	"epic-issues/internal/matcher"
	"epic-issues/internal/observability"
	"epic-issues/internal/pagination"
	"epic-issues/internal/server"
	"epic-issues/internal/service"
	"epic-issues/pkg/mq"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if addr == "" {
				addr = e.cfg.HTTPAddr
			}

			broker := mq.NewBroker()
			metrics := observability.NewMetrics(nil)
			svc := service.New(e.st, e.cfg, service.Options{
				Publisher: broker,
				Metrics:   metrics,
				Logger:    e.log.Named("service"),
			})
			srv := server.New(svc, server.Options{
				Config:   e.cfg,
				Exporter: export.NewExporter(e.st),
				Metrics:  metrics,
				Events:   broker,
				Logger:   e.log.Named("http"),
			})
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func seedCmd() *cobra.Command {
	var n int
	var seed uint64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create random sample issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if n > 0 {
				e.cfg.SampleCount = n
			}
			svc := service.New(e.st, e.cfg, service.Options{Logger: e.log, SampleSeed: seed})
			res, err := svc.Apply(cmd.Context(), intent.CreateSamples{}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Toast.Description)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 0, "number of issues (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 uses the clock)")
	return cmd
}

func lsCmd() *cobra.Command {
	var q matcher.Query
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List issues as a paged table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			q.Skip, q.Take = max(q.Skip, 0), max(q.Take, 0)
			svc := service.New(e.st, e.cfg, service.Options{Logger: e.log})
			page, err := svc.List(cmd.Context(), q, 0)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page, e.cfg.DefaultTake)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&q.Skip, "skip", 0, "issues to skip")
	f.IntVar(&q.Take, "take", 10, "page size, 0 lists everything")
	f.StringVar(&q.Filter.Title, "title", "", "title contains")
	f.StringVar(&q.Filter.Status, "status", "", "status, or any")
	f.StringVar(&q.Filter.Priority, "priority", "", "priority, or any")
	return cmd
}

var (
	tagColor   = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint      = color.New(color.Faint).SprintFunc()
	activePage = color.New(color.ReverseVideo).SprintFunc()
)

func statusColor(status string) string {
	switch status {
	case "done":
		return color.GreenString(status)
	case "in-progress", "testing":
		return color.YellowString(status)
	}
	return status
}

func priorityColor(priority string) string {
	switch priority {
	case "urgent":
		return color.New(color.FgRed, color.Bold).Sprint(priority)
	case "high":
		return color.RedString(priority)
	}
	return priority
}

func printPage(w io.Writer, page service.Page, defaultTake int) {
	if len(page.Issues) == 0 {
		fmt.Fprintln(w, faint("No issues found"))
		return
	}
	for _, it := range page.Issues {
		fmt.Fprintf(w, "%s  %-11s  %-6s  %s\n",
			tagColor(it.Tag().Display()),
			statusColor(it.Status),
			priorityColor(it.Priority),
			truncate(it.Title, 72),
		)
	}
	if page.Pagination == nil {
		fmt.Fprintln(w, faint(fmt.Sprintf("%d issues", page.Total)))
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, pageBar(*page.Pagination, page.Query, defaultTake))
}

func pageBar(r pagination.Range, q matcher.Query, defaultTake int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "page %d of %d (%d issues)  ", r.CurrentPage, r.TotalPages, r.Total)
	for i, l := range r.Pages {
		if i > 0 {
			b.WriteByte(' ')
		}
		label := strconv.Itoa(l.Page)
		if l.Active {
			b.WriteString(activePage(" " + label + " "))
			continue
		}
		b.WriteString(label)
	}
	if r.CanPageForward {
		next := r.Next.Query(q.Values(defaultTake))
		fmt.Fprintf(&b, "  %s", faint("next: --"+flagArgs(next)))
	}
	return b.String()
}

// flagArgs renders query values as ls flags.
func flagArgs(v url.Values) string {
	var parts []string
	for _, k := range []string{"skip", "take", "title", "status", "priority"} {
		if s := v.Get(k); s != "" {
			parts = append(parts, k+"="+s)
		}
	}
	return strings.Join(parts, " --")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func exportCmd() *cobra.Command {
	var format, out string
	var filter matcher.Filter
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export issues as json, csv or pdf",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			b, err := export.NewExporter(e.st).Export(cmd.Context(), format, filter)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if out == "" {
				out = "issues." + strings.ToLower(format)
			}
			if err := atomic.WriteFile(out, bytes.NewReader(b)); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			e.log.Info("exported issues", zap.String("path", out), zap.String("format", format))
			fmt.Fprintf(cmd.OutOrStdout(), "Exported -> %s\n", out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&format, "format", "json", "json|csv|pdf")
	f.StringVarP(&out, "out", "o", "", "output path (default issues.<format>)")
	f.StringVar(&filter.Title, "title", "", "title contains")
	f.StringVar(&filter.Status, "status", "", "status, or any")
	f.StringVar(&filter.Priority, "priority", "", "priority, or any")
	return cmd
}
