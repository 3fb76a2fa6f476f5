package printx

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const barWidth = 80

func PrintStandardHeader(w io.Writer, header string) {
	hBar := strings.Repeat("-", barWidth)
	fmt.Fprintln(w, "\n"+hBar+"\n"+header+"\n"+hBar)
}

// PrintTable writes tab-aligned rows under a header row.
func PrintTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
