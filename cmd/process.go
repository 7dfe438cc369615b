package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/model"
)

var (
	processSource      string
	processCase        string
	processName        string
	processContentType string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a single document through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		name := processName
		if name == "" {
			name = processSource
		}

		doc, err := env.Store.CreateDocument(ctx, model.Document{
			CaseID:      processCase,
			Name:        name,
			Source:      processSource,
			ContentType: processContentType,
		})
		if err != nil {
			return eris.Wrap(err, "create document")
		}

		run, err := env.Store.CreateRun(ctx, doc.ID)
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		if err := env.Orchestrator.Execute(ctx, run.ID); err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		final, err := env.Store.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "load run result")
		}

		zap.L().Info("processing complete",
			zap.String("run_id", final.ID),
			zap.String("doc_type", final.ClassifiedDocType),
			zap.Int("findings", final.FindingsCount),
			zap.Int("actions", final.ActionsCount),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	},
}

func init() {
	processCmd.Flags().StringVar(&processSource, "source", "", "document source: path, file://, http(s)://, or ftp:// URL (required)")
	processCmd.Flags().StringVar(&processCase, "case", "", "case ID the document belongs to (required)")
	processCmd.Flags().StringVar(&processName, "name", "", "document name (default: source)")
	processCmd.Flags().StringVar(&processContentType, "content-type", "", "content type override")
	_ = processCmd.MarkFlagRequired("source")
	_ = processCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(processCmd)
}
