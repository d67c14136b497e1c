package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"timeline-rag-api/internal/application/ingest"
	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/wire"
)

var (
	ingestFile      string
	ingestURL       string
	ingestName      string
	ingestQuestions []string
	ingestTimeout   time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document from a file or a video link",
	Example: `  timelinectl ingest --file 抗日战争.txt
  timelinectl ingest --url https://www.bilibili.com/video/BV1xx --name 九一八
  timelinectl ingest --file 东北史.txt --ask "九一八事变和卢沟桥事变有什么关系？"`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "plain text document")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "douyin or bilibili link")
	ingestCmd.Flags().StringVarP(&ingestName, "name", "n", "", "document name (defaults to the file name)")
	ingestCmd.Flags().StringArrayVar(&ingestQuestions, "ask", nil, "question to answer after ingestion, repeatable")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "maximum time to wait for the job")
	ingestCmd.MarkFlagsMutuallyExclusive("file", "url")
	ingestCmd.MarkFlagsOneRequired("file", "url")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	req := ingest.SubmitRequest{Name: ingestName, URL: ingestURL}
	if ingestFile != "" {
		raw, err := os.ReadFile(ingestFile)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		req.Text = string(raw)
		if req.Name == "" {
			req.Name = strings.TrimSuffix(filepath.Base(ingestFile), filepath.Ext(ingestFile))
		}
	}
	if req.Name == "" {
		return fmt.Errorf("--name is required for links")
	}

	app, cleanup, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	job, err := app.Ingest.Submit(ctx, tenantID, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "job %s submitted, waiting...\n", job.ID)

	job, err = waitForJob(ctx, app, job.ID, func(label string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", label)
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if job.Status == entity.JobStatusFailed {
		return fmt.Errorf("ingestion failed: %s", job.ErrorMessage)
	}
	fmt.Fprintf(out, "segments: %d  events: %d  relations: %d  failed events: %d\n",
		job.Segments, len(job.EventTitles), job.Relations, job.FailedEvents)
	for _, title := range job.EventTitles {
		fmt.Fprintf(out, "  - %s\n", title)
	}

	for _, q := range ingestQuestions {
		ans, err := app.Reasoner.Ask(ctx, tenantID, q, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nQ: %s\nA: %s\n", q, ans.Text)
	}
	return nil
}

// waitForJob 轮询任务直到结束，状态标签变化时回调
func waitForJob(ctx context.Context, app *wire.App, jobID string, onStatus func(string)) (*entity.IngestionJob, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		if st, err := app.Data.Status.Read(ctx, tenantID); err == nil && st != nil && st.Label != last {
			last = st.Label
			onStatus(last)
		}

		job, err := app.Ingest.Job(ctx, tenantID, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status == entity.JobStatusCompleted || job.Status == entity.JobStatusFailed {
			return job, nil
		}
	}
}
