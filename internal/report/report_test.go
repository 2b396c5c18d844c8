package report

import (
	"strings"
	"testing"

	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/domain"
	"github.com/cfengine-go/promise-engine/internal/vars"
)

func samplePolicy() *domain.Policy {
	return &domain.Policy{
		Bundles: []domain.Bundle{{
			Name: "main",
			Type: "agent",
			Subtypes: []domain.SubtypeBlock{{
				Subtype: "reports",
				Promises: []domain.Promise{{
					Type:     "reports",
					Promiser: "hello world",
					Constraints: []domain.Constraint{
						{Lval: "friend_pattern", Rval: domain.Scalar(".*")},
					},
				}},
			}},
		}},
		Bodies: []domain.Body{{
			Name:        "mog",
			Type:        "perms",
			Constraints: []domain.Constraint{{Lval: "mode", Rval: domain.Scalar("0644")}},
		}},
	}
}

func TestBuildRendersBundlesAndBodiesWithStableAnchors(t *testing.T) {
	doc := Build(samplePolicy(), nil, nil)
	if len(doc.Bundles) != 1 || doc.Bundles[0].Name != "main" {
		t.Fatalf("expected one bundle named main, got %+v", doc.Bundles)
	}
	b := doc.Bundles[0]
	if b.Anchor != "bundle--main" {
		t.Fatalf("unexpected bundle anchor %q", b.Anchor)
	}
	p := b.Subtypes[0].Promises[0]
	if p.Anchor != "bundle-main-reports-0" {
		t.Fatalf("unexpected promise anchor %q", p.Anchor)
	}
	if len(doc.Bodies) != 1 || doc.Bodies[0].Name != "mog" {
		t.Fatalf("expected one body named mog, got %+v", doc.Bodies)
	}
}

func TestBuildAnchorsAreStableAcrossRepeatedBuilds(t *testing.T) {
	policy := samplePolicy()
	d1 := Build(policy, nil, nil)
	d2 := Build(policy, nil, nil)
	if d1.Bundles[0].Anchor != d2.Bundles[0].Anchor {
		t.Fatalf("anchor changed between builds: %q vs %q", d1.Bundles[0].Anchor, d2.Bundles[0].Anchor)
	}
}

func TestBuildFlattensClassesPartitions(t *testing.T) {
	store := classes.NewStore()
	store.AddHard("linux")
	store.AddSoft("nightly", "")
	store.AddNegated("windows")

	doc := Build(&domain.Policy{}, store, nil)
	if len(doc.Classes.Hard) != 1 || doc.Classes.Hard[0] != "linux" {
		t.Fatalf("got hard classes %v", doc.Classes.Hard)
	}
	if len(doc.Classes.Soft) != 1 || doc.Classes.Soft[0] != "nightly" {
		t.Fatalf("got soft classes %v", doc.Classes.Soft)
	}
	if len(doc.Classes.Negated) != 1 || doc.Classes.Negated[0] != "windows" {
		t.Fatalf("got negated classes %v", doc.Classes.Negated)
	}
}

func TestBuildListsVariablesButOmitsThisScope(t *testing.T) {
	store := vars.NewStore()
	store.NewScope("main")
	store.Put(domain.VarRef{Scope: "main", Lval: "x"}, domain.Scalar("1"), vars.PolicyFree)
	store.NewScope("this")
	store.Put(domain.VarRef{Scope: "this", Lval: "promiser"}, domain.Scalar("/etc/hosts"), vars.PolicyFree)

	doc := Build(&domain.Policy{}, nil, store)
	if len(doc.Variables) != 1 {
		t.Fatalf("expected one variable (this.* omitted), got %+v", doc.Variables)
	}
	if doc.Variables[0].Scope != "main" || doc.Variables[0].Lval != "x" {
		t.Fatalf("got %+v", doc.Variables[0])
	}
}

func TestRenderTextIncludesPromiserAndConstraints(t *testing.T) {
	doc := Build(samplePolicy(), nil, nil)
	out, err := RenderString(doc, FormatText)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "hello world") || !strings.Contains(out, "friend_pattern") {
		t.Fatalf("text render missing expected content:\n%s", out)
	}
}

func TestRenderHTMLIncludesAnchorsAndEscapesContent(t *testing.T) {
	policy := samplePolicy()
	policy.Bundles[0].Subtypes[0].Promises[0].Promiser = "<script>alert(1)</script>"
	doc := Build(policy, nil, nil)

	out, err := RenderString(doc, FormatHTML)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `id="bundle--main"`) {
		t.Fatalf("html render missing bundle anchor:\n%s", out)
	}
	if strings.Contains(out, "<script>alert(1)</script>") {
		t.Fatalf("html render failed to escape promiser content")
	}
}

func TestRenderJSONRoundTripsThroughDocumentFields(t *testing.T) {
	doc := Build(samplePolicy(), nil, nil)
	out, err := RenderString(doc, FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `"promiser": "hello world"`) {
		t.Fatalf("json render missing promiser field:\n%s", out)
	}
}

func TestRenderYAMLIncludesClassesSection(t *testing.T) {
	store := classes.NewStore()
	store.AddHard("linux")
	doc := Build(&domain.Policy{}, store, nil)

	out, err := RenderString(doc, FormatYAML)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "linux") {
		t.Fatalf("yaml render missing hard class:\n%s", out)
	}
}

func TestParseFormatDefaultsToText(t *testing.T) {
	if ParseFormat("nonsense") != FormatText {
		t.Fatalf("expected unknown format string to default to text")
	}
	if ParseFormat("JSON") != FormatJSON {
		t.Fatalf("expected case-insensitive parse")
	}
}
