package discovery

import (
	"testing"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
)

func TestStampFromName(t *testing.T) {
	tests := []struct {
		name string
		file string
		want time.Time
		ok   bool
	}{
		{
			name: "plain stamp",
			file: "2025.06.03-01.45.48.csv",
			want: time.Date(2025, 6, 3, 1, 45, 48, 0, time.UTC),
			ok:   true,
		},
		{
			name: "stamp with prefix",
			file: "deathlog_2024.12.31-23.59.59.csv",
			want: time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			ok:   true,
		},
		{
			name: "no stamp",
			file: "readme.csv",
			ok:   false,
		},
		{
			name: "malformed stamp",
			file: "2025.13.99-77.88.99.csv",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StampFromName(tt.file)
			if ok != tt.ok {
				t.Fatalf("StampFromName() ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("StampFromName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindNewest_PicksMaxStampAcrossSubdirectories(t *testing.T) {
	fs := sftppool.NewMemClient()
	fs.WriteFile("deathlogs/2025.06.01-10.00.00.csv", []byte("a"))
	fs.WriteFile("deathlogs/world_1/2025.06.03-01.45.48.csv", []byte("b"))
	fs.WriteFile("deathlogs/world_2/2025.06.02-12.00.00.csv", []byte("c"))
	fs.WriteFile("deathlogs/world_1/notes.txt", []byte("ignored extension"))
	fs.WriteFile("deathlogs/world_1/no-stamp.csv", []byte("ignored name"))

	ref, ok, err := FindNewest(fs, "deathlogs", ".csv")
	if err != nil {
		t.Fatalf("FindNewest failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a file to be found")
	}
	if ref.Path != "deathlogs/world_1/2025.06.03-01.45.48.csv" {
		t.Errorf("unexpected newest file: %s", ref.Path)
	}
	if ref.Dir != "deathlogs/world_1" {
		t.Errorf("expected directory to be carried, got %s", ref.Dir)
	}
}

func TestFindNewest_TieBreaksByName(t *testing.T) {
	fs := sftppool.NewMemClient()
	fs.WriteFile("logs/a_2025.06.03-01.45.48.csv", []byte("a"))
	fs.WriteFile("logs/b_2025.06.03-01.45.48.csv", []byte("b"))

	ref, ok, err := FindNewest(fs, "logs", ".csv")
	if err != nil || !ok {
		t.Fatalf("FindNewest failed: ok=%v err=%v", ok, err)
	}
	if ref.Name != "b_2025.06.03-01.45.48.csv" {
		t.Errorf("expected lexicographically greater name on tie, got %s", ref.Name)
	}
}

func TestFindNewest_EmptyTree(t *testing.T) {
	fs := sftppool.NewMemClient()

	_, ok, err := FindNewest(fs, "missing", ".csv")
	if err == nil && ok {
		t.Error("expected no result for missing root")
	}
}

func TestListAll_SortedAscending(t *testing.T) {
	fs := sftppool.NewMemClient()
	fs.WriteFile("d/2025.06.02-00.00.00.csv", []byte("2"))
	fs.WriteFile("d/2025.06.01-00.00.00.csv", []byte("1"))
	fs.WriteFile("d/sub/2025.06.03-00.00.00.csv", []byte("3"))

	refs, err := ListAll(fs, "d", ".csv")
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 files, got %d", len(refs))
	}
	for i := 1; i < len(refs); i++ {
		if refs[i].Stamp.Before(refs[i-1].Stamp) {
			t.Errorf("files not sorted ascending at index %d", i)
		}
	}
}
