package bench

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikhailWahib/stablestore"
)

var writeCfg = &stablestore.Config{
	BucketSizeInPages: 128,
	LogLevel:          "error",
}

var readCfg = &stablestore.Config{
	BucketSizeInPages: 32,
	LogLevel:          "error",
}

func setupBenchDB(b *testing.B, cfg *stablestore.Config) (*stablestore.DB, func()) {
	tmpDir := filepath.Join(os.TempDir(), fmt.Sprintf("stablestore_bench_%d", rand.Int63()))
	db, err := stablestore.Open(filepath.Join(tmpDir, "tickets.db"), cfg)
	if err != nil {
		b.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func generatePayload(i int) stablestore.Payload {
	return stablestore.Payload{
		Event: fmt.Sprintf("event_%06d", i%1000),
		Price: uint64(rand.Intn(500)),
		Seat:  fmt.Sprintf("R%02dS%03d", i%40, i%200),
	}
}

func prepopulate(b *testing.B, db *stablestore.DB, n int) {
	for i := 0; i < n; i++ {
		if _, err := db.AddTicket(generatePayload(i)); err != nil {
			b.Fatalf("Pre-populate add failed: %v", err)
		}
	}
}

func BenchmarkAddTicket(b *testing.B) {
	db, cleanup := setupBenchDB(b, writeCfg)
	defer cleanup()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := db.AddTicket(generatePayload(i)); err != nil {
			b.Fatalf("AddTicket failed: %v", err)
		}
	}
}

func BenchmarkGetTicket(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	numTickets := 10000
	prepopulate(b, db, numTickets)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := db.GetTicket(uint64(i % numTickets)); err != nil {
			b.Fatalf("GetTicket failed: %v", err)
		}
	}
}

func BenchmarkRandomGetTicket(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	numTickets := 10000
	prepopulate(b, db, numTickets)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := db.GetTicket(uint64(rand.Intn(numTickets))); err != nil {
			b.Fatalf("GetTicket failed: %v", err)
		}
	}
}

func BenchmarkUpdateTicket(b *testing.B) {
	db, cleanup := setupBenchDB(b, writeCfg)
	defer cleanup()

	numTickets := 10000
	prepopulate(b, db, numTickets)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := db.UpdateTicket(uint64(i%numTickets), generatePayload(i)); err != nil {
			b.Fatalf("UpdateTicket failed: %v", err)
		}
	}
}

func BenchmarkListTickets(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	numTickets := 10000
	prepopulate(b, db, numTickets)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		from := uint64(rand.Intn(numTickets))
		if _, err := db.ListTickets(from, 100); err != nil {
			b.Fatalf("ListTickets failed: %v", err)
		}
	}
}

func BenchmarkConcurrentGetTicket(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	numTickets := 10000
	prepopulate(b, db, numTickets)

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := db.GetTicket(uint64(rand.Intn(numTickets))); err != nil {
				b.Fatalf("GetTicket failed: %v", err)
			}
		}
	})
}

func BenchmarkConcurrentAddTicket(b *testing.B) {
	db, cleanup := setupBenchDB(b, writeCfg)
	defer cleanup()

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := db.AddTicket(generatePayload(i)); err != nil {
				b.Fatalf("AddTicket failed: %v", err)
			}
			i++
		}
	})
}
