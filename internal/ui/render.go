// Package ui renders the CLI's tabular output: the canonicalized type
// listing and the live address-space map.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"memscope/internal/allocindex"
)

// sizePrinter groups large byte counts for the human-facing map; the
// machine-parsed summary lines stay ungrouped.
var sizePrinter = message.NewPrinter(language.English)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	symbolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const symbolColWidth = 44

// TypeRow is one line of the type listing.
type TypeRow struct {
	Symbol string
	Kind   string
	Size   string
	Owner  string
}

// RenderTypeTable lays out the canonicalized descriptors, one per row.
// colored selects styled output; plain output stays grep-friendly.
func RenderTypeTable(rows []TypeRow, colored bool) string {
	var sb strings.Builder
	head := fmt.Sprintf("%s %-12s %8s  %s",
		pad("SYMBOL", symbolColWidth), "KIND", "SIZE", "CANONICAL IN")
	if colored {
		head = headerStyle.Render(head)
	}
	sb.WriteString(head)
	sb.WriteByte('\n')
	for _, r := range rows {
		sym := pad(r.Symbol, symbolColWidth)
		owner := r.Owner
		if colored {
			sym = symbolStyle.Render(sym)
			owner = dimStyle.Render(owner)
		}
		fmt.Fprintf(&sb, "%s %-12s %8s  %s\n", sym, r.Kind, r.Size, owner)
	}
	return sb.String()
}

// RenderAddressMap lays out the live allocations in ascending address
// order.
func RenderAddressMap(recs []allocindex.Record, colored bool) string {
	var sb strings.Builder
	head := fmt.Sprintf("%-18s %-18s %10s  %s", "START", "END", "SIZE", "TYPE")
	if colored {
		head = headerStyle.Render(head)
	}
	sb.WriteString(head)
	sb.WriteByte('\n')
	for _, r := range recs {
		typ := "?"
		if r.Type != nil {
			typ = r.Type.Name
		}
		line := fmt.Sprintf("%#-18x %#-18x %10s  %s",
			r.Start, r.End(), sizePrinter.Sprintf("%d", r.Size), pad(typ, symbolColWidth))
		if colored && r.Type == nil {
			line = dimStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// pad truncates or right-fills to the column width, counting display cells
// rather than bytes.
func pad(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}
