// Package report renders fetch summaries and transfer history.
//
//   - TextWriter: aligned plain text for the terminal
//   - JSONWriter: the summary as JSON for other tools
//   - MarkdownWriter: tables and a mermaid pie chart of outcomes
//
// All writers implement Writer; MultiWriter fans a summary out to several.
package report
