package gitrepo

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseCommitRecord(t *testing.T) {
	record := strings.Join([]string{
		"abc123def456abc123def456abc123def456abc1",
		"4b825dc642cb6eb9a060e54bf8d69288fbee4904",
		"p1 p2",
		"Test Author",
		"test@example.com",
		"1700000000",
		"Subject line\n\nBody with \x1f-free text\n",
	}, fieldSeparator)

	commit, ok := parseCommitRecord(record)
	if !ok {
		t.Fatal("parseCommitRecord() returned false")
	}
	if commit.ID != "abc123def456abc123def456abc123def456abc1" {
		t.Errorf("ID = %q", commit.ID)
	}
	if commit.Tree != emptyTreeSHA {
		t.Errorf("Tree = %q, want %q", commit.Tree, emptyTreeSHA)
	}
	if len(commit.Parents) != 2 || commit.Parents[0] != "p1" || commit.Parents[1] != "p2" {
		t.Errorf("Parents = %v, want [p1 p2]", commit.Parents)
	}
	if commit.AuthorName != "Test Author" || commit.AuthorEmail != "test@example.com" {
		t.Errorf("author = %q <%q>", commit.AuthorName, commit.AuthorEmail)
	}
	if !commit.When.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("When = %v", commit.When)
	}
	if !strings.HasPrefix(commit.Message, "Subject line\n\nBody") {
		t.Errorf("Message = %q", commit.Message)
	}
}

func TestParseCommitRecord_RootAndBadTimestamp(t *testing.T) {
	record := strings.Join([]string{"sha", "tree", "", "n", "e", "not-a-number", ""}, fieldSeparator)

	commit, ok := parseCommitRecord(record)
	if !ok {
		t.Fatal("parseCommitRecord() returned false")
	}
	if len(commit.Parents) != 0 {
		t.Errorf("Parents = %v, want none", commit.Parents)
	}
	if commit.When.Unix() != 0 {
		t.Errorf("When = %v, want Unix epoch", commit.When)
	}
	if commit.Message != "" {
		t.Errorf("Message = %q, want empty", commit.Message)
	}
}

func TestParseCommitRecord_TooFewFields(t *testing.T) {
	if _, ok := parseCommitRecord("sha" + fieldSeparator + "tree"); ok {
		t.Error("parseCommitRecord() should fail with too few fields")
	}
}

func TestScanRecords(t *testing.T) {
	rec := func(sha string) string {
		return strings.Join([]string{sha, "t", "", "n", "e", "1", "msg\n"}, fieldSeparator) + string(recordSeparator)
	}
	input := rec("one") + "\n" + rec("two") + "\n" + rec("three")

	var got []string
	err := scanRecords(strings.NewReader(input), func(c *Commit) error {
		got = append(got, c.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("scanRecords() error = %v", err)
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("scanRecords() visited %v", got)
	}

	stop := errors.New("stop")
	err = scanRecords(strings.NewReader(input), func(*Commit) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("scanRecords() error = %v, want callback error", err)
	}
}

func TestParseDiffTree(t *testing.T) {
	out := ":100644 100644 aaaa bbbb M\x00dir/edit.txt\x00" +
		":000000 100644 0000 cccc A\x00new file.txt\x00" +
		":100644 000000 dddd 0000 D\x00gone.txt\x00" +
		":100644 120000 eeee ffff T\x00link\x00"

	changes, err := parseDiffTree([]byte(out))
	if err != nil {
		t.Fatalf("parseDiffTree() error = %v", err)
	}

	want := []Change{
		{Path: "dir/edit.txt", Action: Modify, Blob: "bbbb"},
		{Path: "new file.txt", Action: Insert, Blob: "cccc"},
		{Path: "gone.txt", Action: Delete},
		{Path: "link", Action: Modify, Blob: "ffff"},
	}
	if len(changes) != len(want) {
		t.Fatalf("parseDiffTree() returned %d changes, want %d", len(changes), len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}
}

func TestParseDiffTree_Malformed(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{name: "missing colon", out: "100644 100644 a b M\x00path\x00"},
		{name: "missing path", out: ":100644 100644 a b M"},
		{name: "short meta", out: ":100644 a M\x00path\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseDiffTree([]byte(tt.out)); err == nil {
				t.Error("parseDiffTree() expected error")
			}
		})
	}
}

func TestParseDiffTree_Empty(t *testing.T) {
	changes, err := parseDiffTree(nil)
	if err != nil {
		t.Fatalf("parseDiffTree() error = %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("parseDiffTree() = %v, want none", changes)
	}
}
