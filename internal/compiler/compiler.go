// Package compiler implements the final pipeline stage (spec §4.8): it
// assembles every synthesized section into one report, performs the second
// citation remap pass (section-local numbers to report-global numbers, in
// order of first appearance across the whole document), and renders the
// result to Markdown, HTML, and (optionally) PDF.
//
// Grounded on tarsy's pkg/runbook rendering path for "walk a completed
// dataset once, assemble a document, write it to disk" shape; HTML and PDF
// rendering follow yuin/goldmark's and jung-kurt/gofpdf's own documented
// APIs directly, since no pack repo exercises either library's call
// pattern beyond its go.mod (see DESIGN.md).
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/yuin/goldmark"

	"github.com/codeready-toolchain/deepcite/internal/citation"
	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/models"
)

// Result is what Compile produces: the three artifact paths plus the final
// word count and distinct cited-source count used to update the session's
// counters.
type Result struct {
	MarkdownPath string
	HTMLPath     string
	PDFPath      string
	WordCount    int
	SourceCount  int
}

// Compile assembles sections (already synthesized, in position order) plus
// the executive summary, conclusion, and glossary into a single report, and
// writes it to output.directory as "<session-id>.md" (+ .html, + .pdf when
// enabled).
func Compile(ctx context.Context, session *models.Session, sections []*models.Section, glossary []*models.GlossaryTerm, led *ledger.Ledger, cfg config.OutputConfig) (Result, error) {
	globalIndex := make(map[int64]int)
	var globalSources []*models.Source
	compiledSections := make([]*models.Section, len(sections))

	for i, sec := range sections {
		distinct, err := led.SourcesForSection(ctx, sec.ID)
		if err != nil {
			return Result{}, fmt.Errorf("listing sources for section %q: %w", sec.Title, err)
		}
		localToGlobal := make(map[int]int, len(distinct))
		for j, src := range distinct {
			g, ok := globalIndex[src.ID]
			if !ok {
				g = len(globalSources) + 1
				globalIndex[src.ID] = g
				globalSources = append(globalSources, src)
			}
			localToGlobal[j+1] = g
		}

		remapped, _ := citation.Remap(sec.Content, localToGlobal)
		compiled := *sec
		compiled.Content = remapped
		compiledSections[i] = &compiled
	}

	markdown := assembleMarkdown(session, compiledSections, glossary, globalSources)

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating output directory: %w", err)
	}
	base := sanitizeSessionID(session.ID)

	mdPath := filepath.Join(cfg.Directory, base+".md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing markdown report: %w", err)
	}

	htmlPath := filepath.Join(cfg.Directory, base+".html")
	htmlDoc, err := renderHTML(markdown)
	if err != nil {
		return Result{}, fmt.Errorf("rendering HTML report: %w", err)
	}
	if err := os.WriteFile(htmlPath, []byte(htmlDoc), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing HTML report: %w", err)
	}

	result := Result{
		MarkdownPath: mdPath,
		HTMLPath:     htmlPath,
		WordCount:    len(strings.Fields(markdown)),
		SourceCount:  len(globalSources),
	}

	if cfg.EnablePDF {
		pdfPath := filepath.Join(cfg.Directory, base+".pdf")
		if err := renderPDF(session, compiledSections, glossary, globalSources, pdfPath); err != nil {
			return Result{}, fmt.Errorf("rendering PDF report: %w", err)
		}
		result.PDFPath = pdfPath
	}

	return result, nil
}

func assembleMarkdown(session *models.Session, sections []*models.Section, glossary []*models.GlossaryTerm, sources []*models.Source) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", reportTitle(session.Query))
	fmt.Fprintf(&b, "_Generated %s_\n\n", time.Now().UTC().Format("2006-01-02"))

	if session.ExecutiveSummary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(session.ExecutiveSummary)
		b.WriteString("\n\n")
	}

	b.WriteString("## Table of Contents\n\n")
	for _, sec := range sections {
		fmt.Fprintf(&b, "- [%s](#%s)\n", sec.Title, anchor(sec.Title))
	}
	b.WriteString("\n")

	for _, sec := range sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Title, strings.TrimSpace(sec.Content))
	}

	if session.Conclusion != "" {
		b.WriteString("## Conclusion\n\n")
		b.WriteString(session.Conclusion)
		b.WriteString("\n\n")
	}

	if len(glossary) > 0 {
		b.WriteString("## Glossary\n\n")
		for _, gt := range glossary {
			fmt.Fprintf(&b, "**%s** — %s\n\n", gt.Term, gt.Definition)
		}
	}

	if len(sources) > 0 {
		b.WriteString("## Sources\n\n")
		for i, src := range sources {
			academic := ""
			if src.Academic {
				academic = " — academic"
			}
			fmt.Fprintf(&b, "%d. [%s](%s) (%s)%s\n", i+1, sourceLabel(src), src.URL, src.Domain, academic)
		}
	}

	return b.String()
}

func sourceLabel(src *models.Source) string {
	if src.Title != "" {
		return src.Title
	}
	return src.URL
}

func reportTitle(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return "Research Report"
	}
	return q
}

var anchorReplacer = strings.NewReplacer(" ", "-", "'", "", `"`, "")

func anchor(title string) string {
	return strings.ToLower(anchorReplacer.Replace(strings.TrimSpace(title)))
}

func sanitizeSessionID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// renderHTML wraps goldmark.Convert's output in a minimal standalone
// document so the HTML artifact is viewable on its own.
func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Research Report</title></head><body>\n")
	doc.Write(buf.Bytes())
	doc.WriteString("\n</body></html>\n")
	return doc.String(), nil
}

// renderPDF lays the report out as a simple single-column PDF: a title
// page, then one multi-cell block of text per section/summary/glossary
// entry. It does not attempt rich Markdown rendering (headings, links);
// gofpdf has no Markdown parser, so formatting is kept to font-size breaks.
func renderPDF(session *models.Session, sections []*models.Section, glossary []*models.GlossaryTerm, sources []*models.Source, path string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(reportTitle(session.Query), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, reportTitle(session.Query), "", "C", false)
	pdf.Ln(4)

	writeHeading := func(text string) {
		pdf.SetFont("Arial", "B", 14)
		pdf.MultiCell(0, 8, text, "", "L", false)
		pdf.Ln(2)
	}
	writeBody := func(text string) {
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 6, text, "", "L", false)
		pdf.Ln(4)
	}

	if session.ExecutiveSummary != "" {
		writeHeading("Executive Summary")
		writeBody(session.ExecutiveSummary)
	}
	for _, sec := range sections {
		writeHeading(sec.Title)
		writeBody(strings.TrimSpace(sec.Content))
	}
	if session.Conclusion != "" {
		writeHeading("Conclusion")
		writeBody(session.Conclusion)
	}
	if len(glossary) > 0 {
		writeHeading("Glossary")
		for _, gt := range glossary {
			writeBody(fmt.Sprintf("%s — %s", gt.Term, gt.Definition))
		}
	}
	if len(sources) > 0 {
		writeHeading("Sources")
		for i, src := range sources {
			academic := ""
			if src.Academic {
				academic = ", academic"
			}
			writeBody(fmt.Sprintf("%d. %s (%s, %s%s)", i+1, sourceLabel(src), src.URL, src.Domain, academic))
		}
	}

	return pdf.OutputFileAndClose(path)
}
