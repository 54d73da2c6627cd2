package builtin

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/odvcencio/quill/pkg/tool"
)

const diffPreviewLines = 20

// buildDiff produces the diff metadata attached to editing-tool results.
func buildDiff(path, oldContent, newContent string, isNew bool) *tool.DiffInfo {
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		unified = ""
	}

	added, removed := 0, 0
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
		}
	}

	preview := unified
	if lines := strings.Split(unified, "\n"); len(lines) > diffPreviewLines {
		preview = strings.Join(lines[:diffPreviewLines], "\n") + "\n..."
	}

	return &tool.DiffInfo{
		FilePath:     path,
		IsNew:        isNew,
		LinesAdded:   added,
		LinesRemoved: removed,
		UnifiedDiff:  unified,
		Preview:      preview,
	}
}
