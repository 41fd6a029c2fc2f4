// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Store a document and embed it",
		Long: "Read a document from a file (or - for stdin), store it, and embed its chunks. " +
			"With --id the existing document is updated and its embeddings regenerated.",
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	f := cmd.Flags()
	f.Int64("id", 0, "update this document instead of creating one")
	f.String("title", "", "document title (defaults to the file name)")
	f.String("type", "note", "document type, e.g. discharge_summary")
	f.String("department", "", "owning department")
	f.Int64("patient", 0, "patient the document belongs to")
	f.Bool("sensitive", false, "mark the document sensitive")
	f.Int64("author", 0, "author user ID")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	text, err := readDocument(cmd, args[0])
	if err != nil {
		return err
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx := runContext(cmd)
	doc := &store.Document{}
	if id, _ := cmd.Flags().GetInt64("id"); id != 0 {
		if doc, err = app.Stores.Documents.Get(ctx, id); err != nil {
			return err
		}
	}
	applyDocumentFlags(cmd, doc, args[0])

	report, err := app.RAG.SaveDocument(ctx, doc, text)
	if report == nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	if err != nil {
		return mederr.Wrapf(err, mederr.CodeIngestEmbeddingFailure,
			"document %d saved but not embedded; run `medrag regenerate %d`", doc.ID, doc.ID)
	}
	return nil
}

func readDocument(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", mederr.Errorf(mederr.CodeCLIInputInvalid, "reading %s: %w", path, err)
	}
	return string(data), nil
}

// applyDocumentFlags copies explicitly set flags onto doc; new documents
// also take the defaults.
func applyDocumentFlags(cmd *cobra.Command, doc *store.Document, path string) {
	f := cmd.Flags()
	isNew := doc.ID == 0

	if isNew || f.Changed("title") {
		doc.Title, _ = f.GetString("title")
		if doc.Title == "" && path != "-" {
			doc.Title = path
		}
	}
	if isNew || f.Changed("type") {
		doc.DocumentType, _ = f.GetString("type")
	}
	if isNew || f.Changed("department") {
		doc.Department, _ = f.GetString("department")
	}
	if f.Changed("patient") {
		p, _ := f.GetInt64("patient")
		doc.PatientID = &p
	}
	if isNew || f.Changed("sensitive") {
		doc.Sensitive, _ = f.GetBool("sensitive")
	}
	if isNew || f.Changed("author") {
		doc.AuthorID, _ = f.GetInt64("author")
	}
}

func newRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Re-embed a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			app, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := runContext(cmd)
			doc, err := app.Stores.Documents.Get(ctx, id)
			if err != nil {
				return err
			}
			report, err := app.RAG.Regenerate(ctx, doc)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			app, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.RAG.RemoveDocument(runContext(cmd), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %d\n", id)
			return nil
		},
	}
}

func parseDocumentID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, mederr.Errorf(mederr.CodeCLIInputInvalid, "invalid document id %q", s)
	}
	return id, nil
}

func printReport(w io.Writer, r *rag.IngestReport) {
	verb := "Ingested"
	if r.Replaced {
		verb = "Regenerated"
	}
	_, _ = fmt.Fprintf(w, "%s document %d: %d/%d chunks embedded (run %s)\n",
		verb, r.DocumentID, r.Embedded, r.Chunks, r.RunID)
	if len(r.Failed) > 0 {
		_, _ = fmt.Fprintf(w, "Failed chunks: %v\n", r.Failed)
	}
}

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Browse stored documents",
	}
	cmd.AddCommand(newDocumentsListCmd())
	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the documents the subject may read",
		Args:  cobra.NoArgs,
		RunE:  runDocumentsList,
	}

	f := cmd.Flags()
	addSubjectFlags(f)
	f.StringSlice("type", nil, "only these document types")
	f.String("department", "", "only this department")
	f.Int("skip", 0, "documents to skip")
	f.Int("limit", 100, "maximum documents")

	return cmd
}

func runDocumentsList(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	req := rag.ListRequest{Subject: subjectFromFlags(f)}
	req.DocumentTypes, _ = f.GetStringSlice("type")
	req.Department, _ = f.GetString("department")
	req.Offset, _ = f.GetInt("skip")
	req.Limit, _ = f.GetInt("limit")
	if req.Offset < 0 || req.Limit < 1 {
		return mederr.Errorf(mederr.CodeCLIInputInvalid,
			"skip must not be negative and limit must be positive, got skip=%d limit=%d", req.Offset, req.Limit)
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	docs, err := app.RAG.ListDocuments(runContext(cmd), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := f.GetBool("json"); asJSON {
		return writeJSON(out, docs)
	}
	if len(docs) == 0 {
		_, _ = fmt.Fprintln(out, "No documents.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tDEPARTMENT\tTITLE")
	for _, d := range docs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.DocumentType, d.Department, d.Title)
	}
	return tw.Flush()
}
