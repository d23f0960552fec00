package harness

import (
	"fmt"
	"regexp"
	"strings"
)

// changelogColumns maps changelog column names to release platforms.
var changelogColumns = []struct{ name, platform string }{ //nolint:gochecknoglobals // table
	{"js", PlatformJS},
	{"mac-arm64", "darwin-arm64"},
	{"mac-x64", "darwin-x64"},
	{"linux-arm64", "linux-arm64"},
	{"linux-x64", "linux-x64"},
	{"win-x64", "win32-x64"},
	{"win-arm64", "win32-arm64"},
}

// changelogScan is how many rows below the header are searched for an
// existing entry.
const changelogScan = 13

const changelogIntro = "# Local Changelog & Testing State\n\nAutomated testing history for new Claude Code versions.\n\n"

// ChangelogRow renders one table row. The js column uses jsVersion and
// the others binVersion; a cell with no result is shown as ignored.
func ChangelogRow(jsVersion, binVersion, date string, results []UnitResult) string {
	cells := []string{jsVersion, date}
	for _, col := range changelogColumns {
		v := binVersion
		if col.platform == PlatformJS {
			v = jsVersion
		}
		cells = append(cells, lookup(results, v, col.platform).Symbol())
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

func lookup(results []UnitResult, version, platform string) Status {
	for _, r := range results {
		if r.Version == version && r.Platform == platform {
			return r.Status
		}
	}
	return StatusIgnored
}

func changelogHeader() (string, string) {
	names := []string{"version", "date"}
	for _, col := range changelogColumns {
		names = append(names, col.name)
	}
	header := "| " + strings.Join(names, " | ") + " |"
	sep := strings.TrimSuffix(strings.Repeat("| --- ", len(names)), " ") + " |"
	return header, sep
}

// UpdateChangelog returns content with row for version either replacing
// the existing row of that version near the top of the table or inserted
// as the first row. A missing table is created.
func UpdateChangelog(content, version, row string) string {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	start := -1
	for i, l := range lines {
		if strings.Contains(l, "| version |") && strings.Contains(l, "| js |") {
			start = i
			break
		}
	}
	if start < 0 {
		header, sep := changelogHeader()
		return changelogIntro + header + "\n" + sep + "\n" + row + "\n"
	}

	first := start + 2
	if first > len(lines) {
		first = len(lines)
	}
	needle := "| " + version + " |"
	for i := first; i < min(first+changelogScan, len(lines)); i++ {
		if strings.Contains(lines[i], needle) {
			lines[i] = row + "\n"
			return strings.Join(lines, "")
		}
	}
	if first > 0 && !strings.HasSuffix(lines[first-1], "\n") {
		lines[first-1] += "\n"
	}
	lines = append(lines[:first], append([]string{row + "\n"}, lines[first:]...)...)
	return strings.Join(lines, "")
}

var (
	readmeBlock    = regexp.MustCompile(`(?s)\*\*Phiên bản đã test:\*\*\n.*?\n\(.*?\[CHANGELOG\.md\]\(\./CHANGELOG\.md\)\)`) //nolint:gochecknoglobals // compiled once
	readmeFallback = regexp.MustCompile(`(?s)\*\*Phiên bản đã test:\*\*.*?\n\n`)                                                   //nolint:gochecknoglobals // compiled once
)

// UpdateReadme rewrites the tested versions block of the README. It
// reports false when the block is missing or already current.
func UpdateReadme(content, jsVersion, binVersion string) (string, bool) {
	block := fmt.Sprintf("**Phiên bản đã test:**\n- npm: v%s\n- binary: v%s\n(Chi tiết tại [CHANGELOG.md](./CHANGELOG.md))", jsVersion, binVersion)

	re := readmeBlock
	if !re.MatchString(content) {
		re = readmeFallback
		if !re.MatchString(content) {
			return content, false
		}
		block += "\n\n"
	}
	loc := re.FindStringIndex(content)
	out := content[:loc[0]] + block + content[loc[1]:]
	return out, out != content
}
