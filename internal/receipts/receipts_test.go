package receipts

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"field-dispatch/internal/config"
)

func pngReceipt(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestStoreImageReceiptWithThumbnail(t *testing.T) {
	tempDir := t.TempDir()
	svc, err := NewService(context.Background(), config.Config{
		ReceiptOutputDir: tempDir,
		ReceiptMaxBytes:  1024 * 1024,
		ThumbnailWidth:   50,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	body := pngReceipt(t, 200, 100)
	url, err := svc.Store(context.Background(), "JOB-1042", "receipt.png", bytes.NewReader(body), "image/png")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if url == "" {
		t.Fatalf("empty receipt URL")
	}

	stored := filepath.Join(tempDir, "receipts", "JOB-1042", "receipt.png")
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("receipt not written: %v", err)
	}
	thumb := filepath.Join(tempDir, "receipts", "JOB-1042", "thumb_receipt.jpg")
	if _, err := os.Stat(thumb); err != nil {
		t.Fatalf("thumbnail not written: %v", err)
	}
}

func TestStoreNonImageSkipsThumbnail(t *testing.T) {
	tempDir := t.TempDir()
	svc, err := NewService(context.Background(), config.Config{
		ReceiptOutputDir: tempDir,
		ReceiptMaxBytes:  1024,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	body := []byte("%PDF-1.4 not really a pdf")
	if _, err := svc.Store(context.Background(), "JOB-7", "invoice.pdf", bytes.NewReader(body), "application/pdf"); err != nil {
		t.Fatalf("store pdf: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(tempDir, "receipts", "JOB-7"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "thumb_") {
			t.Fatalf("unexpected thumbnail %s for non-image upload", e.Name())
		}
	}
}

func TestStoreRejectsOversizedUpload(t *testing.T) {
	svc, err := NewService(context.Background(), config.Config{
		ReceiptOutputDir: t.TempDir(),
		ReceiptMaxBytes:  16,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Store(context.Background(), "JOB-1", "big.bin", strings.NewReader(strings.Repeat("x", 64)), "application/octet-stream")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestReceiptKeySanitized(t *testing.T) {
	key := receiptKey("JOB-9", "../../etc/passwd")
	if strings.Contains(key, "..") {
		t.Fatalf("traversal survived sanitizing: %q", key)
	}
	if !strings.HasPrefix(key, "receipts/JOB-9/") {
		t.Fatalf("key = %q, want receipts/JOB-9/ prefix", key)
	}
}
