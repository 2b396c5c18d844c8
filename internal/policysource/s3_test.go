package policysource

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseAcceptsWellFormedURI(t *testing.T) {
	ref, err := Parse("s3://my-bucket/policies/main.tar.gz")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.Bucket != "my-bucket" || ref.Key != "policies/main.tar.gz" {
		t.Fatalf("got %+v", ref)
	}
}

func TestParseRejectsNonS3URI(t *testing.T) {
	_, err := Parse("/local/path/policy.yaml")
	if !errors.Is(err, ErrNotS3) {
		t.Fatalf("expected ErrNotS3, got %v", err)
	}
}

func TestParseRejectsMalformedReference(t *testing.T) {
	for _, uri := range []string{"s3://bucket-only", "s3:///no-bucket", "s3://bucket/"} {
		if _, err := Parse(uri); err == nil {
			t.Fatalf("expected an error for %q", uri)
		}
	}
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o600,
			Size: int64(len(body)),
		}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func TestExtractTarWritesOnlyYAMLFilesFlattened(t *testing.T) {
	dir := t.TempDir()
	archive := buildTarGz(t, map[string]string{
		"bundles/main.yaml":  "bundles: []\n",
		"bundles/extra.yml":  "bodies: []\n",
		"README.md":          "not a fixture\n",
		"bundles/sub/second.yaml": "bundles: []\n",
	})

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	extracted, err := extractTar(gz, dir)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(extracted) != 3 {
		t.Fatalf("expected 3 yaml files extracted, got %v", extracted)
	}
	for _, name := range []string{"main.yaml", "extra.yml", "second.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "README.md")); !os.IsNotExist(err) {
		t.Fatalf("expected README.md to be skipped")
	}
}

func TestExtractTarReturnsEmptyForArchiveWithNoYAML(t *testing.T) {
	dir := t.TempDir()
	archive := buildTarGz(t, map[string]string{"notes.txt": "hi\n"})

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	extracted, err := extractTar(gz, dir)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(extracted) != 0 {
		t.Fatalf("expected no files extracted, got %v", extracted)
	}
}
