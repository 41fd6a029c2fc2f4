// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/rag"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// addSubjectFlags registers the flags naming whom a query runs as.
func addSubjectFlags(f *pflag.FlagSet) {
	f.String("as", "cli", "subject ID the query runs as")
	f.String("role", "administrator", "subject role (clinician, nurse, administrator or an alias)")
	f.String("subject-department", "", "subject department")
	f.Int64Slice("assigned-patients", nil, "patient IDs assigned to the subject")
	f.Bool("json", false, "print JSON")
}

func subjectFromFlags(f *pflag.FlagSet) authz.Subject {
	id, _ := f.GetString("as")
	role, _ := f.GetString("role")
	dept, _ := f.GetString("subject-department")
	patients, _ := f.GetInt64Slice("assigned-patients")
	return authz.Subject{ID: id, Role: role, Department: dept, PatientIDs: patients}
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the documents the subject may read",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	f := cmd.Flags()
	addSubjectFlags(f)
	f.Int64("patient", 0, "narrow retrieval to one patient's documents")
	f.String("department", "", "narrow retrieval to one department")
	f.Int("max-results", 0, "number of chunks to retrieve (0 uses rag.max_results)")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	req := rag.AnswerRequest{
		Question: strings.Join(args, " "),
		Subject:  subjectFromFlags(f),
	}
	req.MaxResults, _ = f.GetInt("max-results")
	req.Department, _ = f.GetString("department")
	if f.Changed("patient") {
		p, _ := f.GetInt64("patient")
		req.PatientID = &p
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	answer, err := app.RAG.Answer(runContext(cmd), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := f.GetBool("json"); asJSON {
		return writeJSON(out, answer)
	}

	_, _ = fmt.Fprintln(out, answer.Text)
	if len(answer.Sources) > 0 {
		_, _ = fmt.Fprintln(out, "\nSources:")
		printResults(out, answer.Sources)
	}
	return nil
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over the documents the subject may read",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	f := cmd.Flags()
	addSubjectFlags(f)
	f.StringSlice("type", nil, "only these document types")
	f.String("department", "", "only this department")
	f.Int("limit", 10, "maximum results")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	req := rag.SearchRequest{
		Query:   strings.Join(args, " "),
		Subject: subjectFromFlags(f),
	}
	req.DocumentTypes, _ = f.GetStringSlice("type")
	req.Department, _ = f.GetString("department")
	req.Limit, _ = f.GetInt("limit")
	if req.Limit < 0 {
		return mederr.Errorf(mederr.CodeCLIInputInvalid, "limit must not be negative, got %d", req.Limit)
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	results, err := app.RAG.Search(runContext(cmd), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := f.GetBool("json"); asJSON {
		if results == nil {
			results = []store.SearchResult{}
		}
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No matching documents.")
		return nil
	}
	printResults(out, results)
	return nil
}

func printResults(w io.Writer, results []store.SearchResult) {
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "  [%.3f] #%d %s (chunk %d)\n", r.Similarity, r.DocumentID, r.Title, r.ChunkIndex)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
