package pipeline

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pricewatch/harvester/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Listing
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(listings []*models.Listing) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.Listing, len(listings))
	copy(copyBatch, listings)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

func testListing(url string) *models.Listing {
	return &models.Listing{
		Title:           "Walnut Desk Organizer",
		PriceMinorUnits: 1999,
		Currency:        "USD",
		VendorDomain:    "shop.example.test",
		Available:       true,
		URL:             url,
		ScrapedAt:       time.Now().UTC(),
	}
}

func TestPipelineValidationAndDedup(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, 64, 16)
	p.Start(1)

	valid := testListing("http://shop.example.test/p/1")
	duplicate := testListing("http://shop.example.test/p/1")
	missingTitle := testListing("http://shop.example.test/p/2")
	missingTitle.Title = ""
	freePrice := testListing("http://shop.example.test/p/3")
	freePrice.PriceMinorUnits = 0

	if err := p.Process([]*models.Listing{valid, duplicate, missingTitle, freePrice}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written listings = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	dropped, ok := metrics["dropped"].(map[string]int)
	if !ok {
		t.Fatalf("expected dropped counter map")
	}
	if dropped["invalid_record"] != 2 {
		t.Fatalf("invalid_record = %d, want 2", dropped["invalid_record"])
	}
	if dropped["duplicate"] != 1 {
		t.Fatalf("duplicate = %d, want 1", dropped["duplicate"])
	}
}

func TestPipelineDedupWithoutURL(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, 64, 16)
	p.Start(1)

	first := testListing("")
	second := testListing("")
	other := testListing("")
	other.Title = "Brass Bookends"

	if err := p.Process([]*models.Listing{first, second, other}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// URL-less listings dedupe on vendor domain plus title.
	if got := writer.totalWritten(); got != 2 {
		t.Fatalf("written listings = %d, want 2", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, 256, 64)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process([]*models.Listing{testListing("http://shop.example.test/p/" + strconv.Itoa(i))}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, 512, 64)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process([]*models.Listing{testListing("http://shop.example.test/p/" + strconv.Itoa(i+200))}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written listings = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, 64, 16)
	p.Start(1)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process([]*models.Listing{testListing("http://shop.example.test/p/9")}); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineSurfacesWriterError(t *testing.T) {
	writer := &mockWriter{writeErr: errors.New("disk full")}
	p := NewPipeline(writer, 64, 1)
	p.Start(1)

	_ = p.Process([]*models.Listing{testListing("http://shop.example.test/p/1")})

	deadline := time.After(2 * time.Second)
	for p.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("writer error not surfaced")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if err := p.Err(); !errors.Is(err, writer.writeErr) {
		t.Fatalf("pipeline err = %v, want wrapped disk full", err)
	}
}
