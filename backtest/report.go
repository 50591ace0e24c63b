package backtest

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/sinalbot/signals/shared"
)

// WriteReport writes one line per signal to the provided file, ordered by entry
// time and then by line. An existing report is replaced.
func WriteReport(path string, signals []shared.Signal) error {
	lines := make([]string, 0, len(signals))
	ordered := slices.Clone(signals)
	slices.SortStableFunc(ordered, func(a, b shared.Signal) int {
		if c := a.EntryTime.Compare(b.EntryTime); c != 0 {
			return c
		}
		return strings.Compare(a.ReportLine(), b.ReportLine())
	})
	for idx := range ordered {
		lines = append(lines, ordered[idx].ReportLine())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		_, err = w.WriteString(line + "\n")
		if err != nil {
			f.Close()
			return fmt.Errorf("writing report line: %w", err)
		}
	}

	err = w.Flush()
	if err != nil {
		f.Close()
		return fmt.Errorf("flushing report: %w", err)
	}

	return f.Close()
}
