package migrations

import (
	"database/sql"
	"io/fs"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

func TestEmbeddedFilesPaired(t *testing.T) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		t.Fatalf("Glob() error: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	ups, downs := 0, 0
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups++
			if _, err := fs.Stat(files, strings.TrimSuffix(n, ".up.sql")+".down.sql"); err != nil {
				t.Errorf("%s has no down migration", n)
			}
		case strings.HasSuffix(n, ".down.sql"):
			downs++
		default:
			t.Errorf("unexpected file %s", n)
		}
	}
	if ups != downs {
		t.Errorf("up=%d down=%d, want equal", ups, downs)
	}
}

func TestRun(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := Run(url); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	// A second run is a no-op.
	if err := Run(url); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	for _, table := range []string{"concerns", "filtered_content", "roster_rooms", "roster_members"} {
		var exists bool
		err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		if err != nil || !exists {
			t.Errorf("table %s missing (err %v)", table, err)
		}
	}
}
