package scheduler

// CanonicalOrder returns the subtype walk order for a bundle type
// (spec.md §4.8 step 3). The edit_line sequence is taken verbatim from
// original_source/src/files_editline.c's EDITLINETYPESEQUENCE (with
// "classes" prepended, since the source's elp_classes enum member is
// evaluated as a banner pass ahead of the array the rest of the
// sequence walks). The agent/common sequence has no single source-file
// table in the retrieval pack; it is this package's own formalization
// of the general CFEngine subtype ordering spec.md's promiser-common
// and external-collaborator sections name throughout (vars and
// defaults first so later subtypes can reference them, classes before
// anything that might guard on them, reports last).
//
// Subtypes absent from a bundle's canonical list are walked afterward
// in source order, so an unrecognized or custom subtype is never
// silently dropped.
func CanonicalOrder(bundleType string) []string {
	switch bundleType {
	case "edit_line":
		return []string{"classes", "delete_lines", "column_edits", "replace_patterns", "insert_lines", "reports"}
	case "edit_xml":
		return []string{"classes", "build_xpath", "delete_tree", "set_values", "insert_tree", "reports"}
	default: // agent, common, and any other bundle type
		return []string{
			"vars", "defaults", "classes", "methods", "processes",
			"services", "storage", "packages", "files", "commands",
			"databases", "reports",
		}
	}
}

// orderIndex builds a lookup from subtype name to its position in
// order, used to stable-sort a bundle's subtype blocks.
func orderIndex(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, s := range order {
		idx[s] = i
	}
	return idx
}
