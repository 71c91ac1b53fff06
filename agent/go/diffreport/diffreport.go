// Package diffreport compares a gold file against a newly produced file and
// writes an HTML report with two views: a side-by-side table and a unified
// listing. A zero-length report file means the files were identical; any
// other report means differences were found — downstream code relies on that
// contract.
package diffreport

import (
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/encoding/htmlindex"

	"go.testfarm.build/infra/go/skerr"
)

const (
	// contextLines is how much unchanged context the unified diff carries
	// around each change.
	contextLines = 10

	// maxDiffLines caps how many diff lines are consumed before the report is
	// truncated with a marker row.
	maxDiffLines = 5000

	// compactRunThreshold is the context-run length at which runs are
	// compacted to their first and last compactRunEdge lines.
	compactRunThreshold = 10
	compactRunEdge      = 5
)

// WriteReport diffs goldPath against newPath and writes the HTML report to
// reportPath. If the files are identical the report is created empty. The
// report bytes are a function only of the file contents and encoding.
func WriteReport(goldPath, newPath, reportPath, encoding string) error {
	goldContent, err := readText(goldPath, encoding)
	if err != nil {
		return err
	}
	newContent, err := readText(newPath, encoding)
	if err != nil {
		return err
	}

	diffText, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(goldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: goldPath,
		ToFile:   newPath,
		Context:  contextLines,
	})
	if err != nil {
		return skerr.Wrapf(err, "Failed to diff %s vs %s", goldPath, newPath)
	}
	diffLines := stripHeaders(diffText)

	if len(diffLines) == 0 {
		// Identical: the zero-length report is the signal.
		f, err := os.Create(reportPath)
		if err != nil {
			return skerr.Wrapf(err, "Failed to create report file %s", reportPath)
		}
		return skerr.Wrap(f.Close())
	}

	report := renderReport(diffLines)
	return skerr.Wrap(os.WriteFile(reportPath, []byte(report), 0644))
}

// readText reads the file as text in the given encoding, substituting the
// replacement character for undecodable input. An empty or unknown encoding
// falls back to UTF-8.
func readText(path, encoding string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", skerr.Wrapf(err, "Failed to read %s", path)
	}
	if encoding != "" {
		if enc, err := htmlindex.Get(encoding); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(b); err == nil {
				b = decoded
			}
		}
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// stripHeaders splits the diff text into lines and drops the ---/+++ header
// lines.
func stripHeaders(diffText string) []string {
	var lines []string
	for _, line := range strings.Split(diffText, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// A rendered side-by-side table row.
type row struct {
	left  string
	right string
}

func removedCell(line string) string {
	return `<td class="removed">- ` + html.EscapeString(strings.TrimRight(line[1:], " \t\r\n")) + `</td>`
}

func addedCell(line string) string {
	return `<td class="added">+ ` + html.EscapeString(strings.TrimRight(line[1:], " \t\r\n")) + `</td>`
}

func contextCell(line string) string {
	return `<td class="context">` + html.EscapeString(line) + `</td>`
}

const limitMarker = "... diff content is limited to 5000 ..."

// buildSideBySide turns diff lines into table rows, compacting long context
// runs and truncating at maxDiffLines.
func buildSideBySide(diffLines []string) []row {
	rows := []row{}
	identical := []string{}
	flush := func() {
		rows = appendIdenticalRows(rows, identical)
		identical = identical[:0]
	}
	for i, line := range diffLines {
		switch {
		case strings.HasPrefix(line, "-"):
			flush()
			rows = append(rows, row{left: removedCell(line), right: "<td></td>"})
		case strings.HasPrefix(line, "+"):
			flush()
			rows = append(rows, row{left: "<td></td>", right: addedCell(line)})
		default:
			identical = append(identical, line)
		}
		if i+1 >= maxDiffLines {
			cell := contextCell(limitMarker)
			return append(rows, row{left: cell, right: cell})
		}
	}
	flush()
	return rows
}

// appendIdenticalRows renders a run of identical context lines. Runs of
// compactRunThreshold or more are compacted to the first and last
// compactRunEdge lines around an elision marker.
func appendIdenticalRows(rows []row, identical []string) []row {
	if len(identical) == 0 {
		return rows
	}
	both := func(line string) {
		cell := contextCell(line)
		rows = append(rows, row{left: cell, right: cell})
	}
	if len(identical) < compactRunThreshold {
		for _, line := range identical {
			both(line)
		}
		return rows
	}
	for i := 0; i < compactRunEdge; i++ {
		both(identical[i])
	}
	elided := len(identical) - 2*compactRunEdge
	both(fmt.Sprintf("... %d more identical lines ...", elided))
	for i := len(identical) - compactRunEdge; i < len(identical); i++ {
		both(identical[i])
	}
	return rows
}

// buildUnified renders the single-column view, truncating at the same cap as
// the side-by-side view.
func buildUnified(diffLines []string) []string {
	cells := make([]string, 0, len(diffLines))
	for i, line := range diffLines {
		switch {
		case strings.HasPrefix(line, "-"):
			cells = append(cells, removedCell(line))
		case strings.HasPrefix(line, "+"):
			cells = append(cells, addedCell(line))
		default:
			cells = append(cells, contextCell(line))
		}
		if i+1 >= maxDiffLines {
			return append(cells, contextCell(limitMarker))
		}
	}
	return cells
}

// renderReport builds the HTML document. It carries no file paths, so its
// bytes depend only on the diff lines.
func renderReport(diffLines []string) string {
	var sb strings.Builder
	sb.WriteString("<html>\n<head>\n")
	sb.WriteString("<title>File Differences [Gold File vs New File]</title>\n")
	sb.WriteString(reportStyle)
	sb.WriteString(reportScript)
	sb.WriteString("</head>\n<body>\n<h2>File Difference Report</h2>\n")
	sb.WriteString(`<div class="view-buttons">
<button id="side-by-side-btn" class="active-view" onclick="switchView('side-by-side-view')">Side by Side View</button>
<button id="unified-btn" class="inactive-view" onclick="switchView('unified-view')">Unified View</button>
</div>
`)

	sb.WriteString("<div id=\"side-by-side-view\">\n<table>\n")
	sb.WriteString("<tr><th>Gold File</th><th>New File</th></tr>\n")
	for _, r := range buildSideBySide(diffLines) {
		sb.WriteString("<tr>")
		sb.WriteString(r.left)
		sb.WriteString(r.right)
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</table>\n</div>\n")

	sb.WriteString("<div id=\"unified-view\" class=\"hidden\">\n<table>\n<tr><th>Unified Diff View</th></tr>\n")
	for _, cell := range buildUnified(diffLines) {
		sb.WriteString("<tr>")
		sb.WriteString(cell)
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</table>\n</div>\n</body>\n</html>\n")
	return sb.String()
}

const reportStyle = `<style>
body { font-family: Arial, sans-serif; margin: 20px; }
table { width: 100%; border: 1px solid #ddd; }
th, td { padding: 2px; font-family: monospace; white-space: pre; }
th { background-color: #f4f4f4; }
.added { background-color: #d4fcbc; }
.removed { background-color: #ffdddd; }
.context { background-color: #f8f8f8; }
.view-buttons { margin-bottom: 15px; }
.view-buttons button { padding: 8px 15px; margin-right: 10px; cursor: pointer; }
.active-view { background-color: #007bff; color: white; border: none; }
.inactive-view { background-color: #f8f8f8; border: 1px solid #ddd; }
.hidden { display: none; }
</style>
`

const reportScript = `<script>
function switchView(viewName) {
    document.getElementById('side-by-side-view').classList.add('hidden');
    document.getElementById('unified-view').classList.add('hidden');
    document.getElementById(viewName).classList.remove('hidden');
    if (viewName === 'side-by-side-view') {
        document.getElementById('side-by-side-btn').classList.add('active-view');
        document.getElementById('side-by-side-btn').classList.remove('inactive-view');
        document.getElementById('unified-btn').classList.add('inactive-view');
        document.getElementById('unified-btn').classList.remove('active-view');
    } else {
        document.getElementById('unified-btn').classList.add('active-view');
        document.getElementById('unified-btn').classList.remove('inactive-view');
        document.getElementById('side-by-side-btn').classList.add('inactive-view');
        document.getElementById('side-by-side-btn').classList.remove('active-view');
    }
}
</script>
`
