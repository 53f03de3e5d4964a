package repolist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/utilitywarehouse/repo-zoek/mirror"
)

func kb(v int64) *int64 { return &v }

func mustWriteFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repos.ndjson")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}
	return path
}

func readAll(path, field string) ([]mirror.Descriptor, error) {
	var got []mirror.Descriptor
	for d, err := range Read(path, field) {
		if err != nil {
			return got, err
		}
		got = append(got, d)
	}
	return got, nil
}

func TestRead(t *testing.T) {
	path := mustWriteFile(t,
		`{"name":"a","sshUrl":"git@github.com:org/a.git","url":"https://github.com/org/a","diskUsage":12}`,
		`{"name":"b","sshUrl":"git@github.com:org/b.git","diskUsage":null,"labels":{"nodes":[]}}`,
		`{"sshUrl":"git@github.com:org/c.git"}`,
		`{"name":null,"url":"https://github.com/org/d"}`,
		`{"name":"e","primaryLanguage":{"name":"Go"},"isEmpty":true}`,
	)

	tests := []struct {
		field string
		want  []mirror.Descriptor
	}{
		{
			CloneURLFieldSSH,
			[]mirror.Descriptor{
				{Name: "a", CloneURL: "git@github.com:org/a.git", DiskUsageKB: kb(12)},
				{Name: "b", CloneURL: "git@github.com:org/b.git"},
				{CloneURL: "git@github.com:org/c.git"},
				{},
				{Name: "e"},
			},
		},
		{
			CloneURLFieldHTTPS,
			[]mirror.Descriptor{
				{Name: "a", CloneURL: "https://github.com/org/a", DiskUsageKB: kb(12)},
				{Name: "b"},
				{},
				{CloneURL: "https://github.com/org/d"},
				{Name: "e"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, err := readAll(path, tt.field)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Read() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRead_malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{name: a}`},
		{"array", `["a"]`},
		{"string", `"a"`},
		{"null", `null`},
		{"empty line", ``},
		{"name is number", `{"name":1}`},
		{"clone url is object", `{"name":"x","sshUrl":{"a":1}}`},
		{"disk usage is string", `{"name":"x","diskUsage":"12"}`},
		{"disk usage is fraction", `{"name":"x","diskUsage":1.5}`},
		{"disk usage negative", `{"name":"x","diskUsage":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := mustWriteFile(t,
				`{"name":"first","sshUrl":"u"}`,
				tt.line,
				`{"name":"never","sshUrl":"u"}`,
			)

			got, err := readAll(path, CloneURLFieldSSH)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed got %v", err)
			}
			if !strings.Contains(err.Error(), ":2:") {
				t.Errorf("expected line number in error, got %v", err)
			}
			if diff := cmp.Diff([]mirror.Descriptor{{Name: "first", CloneURL: "u"}}, got); diff != "" {
				t.Errorf("Read() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRead_errors(t *testing.T) {
	if _, err := readAll(filepath.Join(t.TempDir(), "missing"), CloneURLFieldSSH); err == nil || errors.Is(err, ErrMalformed) {
		t.Errorf("expected open error got %v", err)
	}

	path := mustWriteFile(t, `{"name":"a"}`)
	if _, err := readAll(path, "cloneUrl"); err == nil {
		t.Errorf("expected invalid field error")
	}
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.ndjson")

	created := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	records := []Record{
		{
			Name:            "a",
			CreatedAt:       created,
			DiskUsage:       kb(100),
			Labels:          Labels{Nodes: []Label{{Name: "x"}}},
			PrimaryLanguage: &Language{Name: "Go"},
			SSHURL:          "git@github.com:org/a.git",
			URL:             "https://github.com/org/a",
		},
		{Name: "b", CreatedAt: created, IsEmpty: true, SSHURL: "git@github.com:org/b.git"},
	}

	t.Log("TEST-1: records are invisible until commit")
	if err := os.WriteFile(path, []byte(`{"name":"old"}`+"\n"), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}

	w, err := Create(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if w.Count() != 2 {
		t.Errorf("Count() got = %d, want 2", w.Count())
	}

	names, err := Names(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]bool{"old": true}, names); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	if err := w.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Log("TEST-2: committed records are readable")
	got, err := readAll(path, CloneURLFieldSSH)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []mirror.Descriptor{
		{Name: "a", CloneURL: "git@github.com:org/a.git", DiskUsageKB: kb(100)},
		{Name: "b", CloneURL: "git@github.com:org/b.git"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read file: %v", err)
	}
	firstLine := strings.SplitN(string(data), "\n", 2)[0]
	wantLine := `{"name":"a","createdAt":"2021-03-04T05:06:07Z","diskUsage":100,"isDisabled":false,"isEmpty":false,"labels":{"nodes":[{"name":"x"}]},"primaryLanguage":{"name":"Go"},"sshUrl":"git@github.com:org/a.git","url":"https://github.com/org/a"}`
	if firstLine != wantLine {
		t.Errorf("unexpected record line\ngot:  %s\nwant: %s", firstLine, wantLine)
	}

	t.Log("TEST-3: aborted writer leaves cache and no temp files behind")
	w, err = Create(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Write(Record{Name: "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Abort()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unable to read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "repos.ndjson" {
		t.Errorf("unexpected dir entries %v", entries)
	}
	names, err = Names(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]bool{"a": true, "b": true}, names); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestLookup(t *testing.T) {
	path := mustWriteFile(t,
		`{"name":"a","sshUrl":"sa","url":"ha"}`,
		`{"name":"b","sshUrl":"sb","url":"hb","diskUsage":5}`,
	)

	got, ok, err := Lookup(path, CloneURLFieldHTTPS, "b")
	if err != nil || !ok {
		t.Fatalf("Lookup() got ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(mirror.Descriptor{Name: "b", CloneURL: "hb", DiskUsageKB: kb(5)}, got); diff != "" {
		t.Errorf("Lookup() mismatch (-want +got):\n%s", diff)
	}

	if _, ok, err := Lookup(path, CloneURLFieldSSH, "z"); err != nil || ok {
		t.Errorf("Lookup() for missing name got ok=%v err=%v", ok, err)
	}
}
