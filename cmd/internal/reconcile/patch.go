package reconcile

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// localPatch renders the rejected text as a line-mode patch against serverText.
// Empty when the texts match.
func localPatch(serverText, localText string) string {
	if serverText == localText {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(serverText, localText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	return dmp.PatchToText(dmp.PatchMake(serverText, diffs))
}

// ApplyPatch reapplies a PendingMerge patch onto text. ok is false when any hunk failed
// to apply, in which case merged holds whatever did apply.
func ApplyPatch(text, patch string) (merged string, ok bool, err error) {
	if patch == "" {
		return text, true, nil
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patch)
	if err != nil {
		return "", false, err
	}
	merged, applied := dmp.PatchApply(patches, text)
	ok = true
	for _, a := range applied {
		ok = ok && a
	}
	return merged, ok, nil
}
