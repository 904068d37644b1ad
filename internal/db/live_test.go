package db

import (
	"fmt"
	"os"
	"testing"

	"github.com/jwulff/medibot/internal/settings"
)

// TestLiveDatabase reads the local history database. Skipped if it
// doesn't exist.
func TestLiveDatabase(t *testing.T) {
	dir, err := settings.DataDir()
	if err != nil {
		t.Skip(err)
	}
	dbPath := DefaultDBPath(dir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Skip("database not found at", dbPath)
	}

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	sess, err := store.LatestSession()
	if err != nil {
		t.Fatalf("LatestSession: %v", err)
	}
	if sess == nil {
		fmt.Println("No sessions in database")
		return
	}
	fmt.Printf("Latest session: id=%s status=%s started=%s turns=%d\n",
		sess.ID, sess.Status, sess.StartedAt.Format("2006-01-02 15:04:05"), sess.TurnCount)

	jobs, err := store.RecentJobs(5)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	for i, j := range jobs {
		fmt.Printf("  %d. %s %s %s\n", i+1, j.State, j.ID, j.ResultURL)
	}
}
