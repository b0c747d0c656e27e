package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp csv: %v", err)
	}

	return path
}

func TestLoadSources(t *testing.T) {
	path := writeTempCSV(t, `source_name,source_link,tier,notes
MIT Tech Review,https://example.com/mit,A,weekly
Arxiv Digest,https://example.com/arxiv,b,
Random Blog,https://example.com/blog,,
`)

	sources, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}

	if len(sources) != 3 {
		t.Fatalf("Expected 3 sources, got %d", len(sources))
	}

	if sources[0].Name != "MIT Tech Review" || sources[0].Tier != "A" {
		t.Errorf("Unexpected first source: %+v", sources[0])
	}

	// Tier is uppercased.
	if sources[1].Tier != "B" {
		t.Errorf("Expected tier 'B', got %q", sources[1].Tier)
	}

	// Missing tier defaults to C.
	if sources[2].Tier != "C" {
		t.Errorf("Expected default tier 'C', got %q", sources[2].Tier)
	}

	if sources[0].Notes != "weekly" {
		t.Errorf("Expected notes column read, got %q", sources[0].Notes)
	}
}

func TestLoadSources_CaseInsensitiveHeader(t *testing.T) {
	path := writeTempCSV(t, `Source_Name,SOURCE_LINK,Tier
Example,https://example.com,A
`)

	sources, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}

	if len(sources) != 1 || sources[0].Name != "Example" {
		t.Errorf("Expected header lookup to be case-insensitive, got %+v", sources)
	}
}

func TestLoadSources_MissingColumns(t *testing.T) {
	path := writeTempCSV(t, `name,url
Example,https://example.com
`)

	if _, err := LoadSources(path); !errors.Is(err, ErrMissingSourceColumns) {
		t.Errorf("Expected ErrMissingSourceColumns, got %v", err)
	}
}

func TestLoadCorpus(t *testing.T) {
	path := writeTempCSV(t, `id,project_id,title,text,type,scope,dimension,tags
r1,proj-a,First,text one,S,signals,Energy,"[""ai"",""grid""]"
r2,proj-a,Second,text two,T,trends,Health,"ai, biotech"
r3,proj-b,Third,text three,S,signals,Energy,
`)

	corpus, err := LoadCorpus(path)
	if err != nil {
		t.Fatalf("LoadCorpus failed: %v", err)
	}

	if len(corpus.Records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(corpus.Records))
	}

	// Most frequent project id wins.
	if corpus.ProjectID != "proj-a" {
		t.Errorf("Expected project id 'proj-a', got %q", corpus.ProjectID)
	}

	if !reflect.DeepEqual(corpus.Dimensions, []string{"Energy", "Health"}) {
		t.Errorf("Expected sorted distinct dimensions, got %v", corpus.Dimensions)
	}

	if !reflect.DeepEqual(corpus.TagVocab, []string{"ai", "biotech", "grid"}) {
		t.Errorf("Expected sorted tag vocabulary, got %v", corpus.TagVocab)
	}

	if corpus.Records[1].Type != "T" || corpus.Records[1].Scope != "trends" {
		t.Errorf("Unexpected second record: %+v", corpus.Records[1])
	}
}

func TestLoadCorpus_Empty(t *testing.T) {
	path := writeTempCSV(t, "id,project_id,title\n")

	if _, err := LoadCorpus(path); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("Expected ErrEmptyCorpus, got %v", err)
	}
}

func TestLoadCorpus_MissingFile(t *testing.T) {
	if _, err := LoadCorpus(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}
