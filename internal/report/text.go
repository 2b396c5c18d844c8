package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// RenderText writes a plain-text rendering of doc to w: one section
// per bundle (subtypes and promises in source order), one for bodies,
// then the flat classes and variables listings.
func RenderText(doc *Document, w io.Writer) error {
	for _, b := range doc.Bundles {
		fmt.Fprintf(w, "bundle %s %s", b.Type, b.Name)
		if len(b.Formals) > 0 {
			fmt.Fprintf(w, "(%s)", strings.Join(b.Formals, ", "))
		}
		fmt.Fprintln(w, ":")
		for _, sub := range b.Subtypes {
			fmt.Fprintf(w, "  %s:\n", sub.Subtype)
			for _, p := range sub.Promises {
				fmt.Fprintf(w, "    %q", p.Promiser)
				if p.ClassGuard != "" {
					fmt.Fprintf(w, " :: %s", p.ClassGuard)
				}
				fmt.Fprintln(w, ":")
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				for _, c := range p.Constraints {
					guard := ""
					if c.ClassGuard != "" {
						guard = " (" + c.ClassGuard + ")"
					}
					fmt.Fprintf(tw, "      %s\t=\t%s%s\n", c.Lval, c.Rval, guard)
				}
				tw.Flush()
			}
		}
		fmt.Fprintln(w)
	}

	for _, b := range doc.Bodies {
		fmt.Fprintf(w, "body %s %s", b.Type, b.Name)
		if len(b.Formals) > 0 {
			fmt.Fprintf(w, "(%s)", strings.Join(b.Formals, ", "))
		}
		fmt.Fprintln(w, ":")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range b.Constraints {
			fmt.Fprintf(tw, "  %s\t=\t%s\n", c.Lval, c.Rval)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "classes:")
	fmt.Fprintf(w, "  hard:    %s\n", strings.Join(doc.Classes.Hard, ", "))
	fmt.Fprintf(w, "  soft:    %s\n", strings.Join(doc.Classes.Soft, ", "))
	fmt.Fprintf(w, "  negated: %s\n", strings.Join(doc.Classes.Negated, ", "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "variables:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, v := range doc.Variables {
		fmt.Fprintf(tw, "  %s.%s\t(%s)\t= %s\n", v.Scope, v.Lval, v.Kind, v.Value)
	}
	return tw.Flush()
}
