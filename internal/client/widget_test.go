package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
)

// fakeUploader returns one URL per file and records delete calls.
type fakeUploader struct {
	mu         sync.Mutex
	uploadErr  error
	deleteErr  error
	urls       []string // returned instead of generated URLs when set
	uploads    [][]File
	deleted    []string
	onUpload   func()
	uploadedAs []string // carId/batchId pairs
}

func (f *fakeUploader) Upload(ctx context.Context, carID, batchID string, files []File) (*UploadResult, error) {
	if f.onUpload != nil {
		f.onUpload()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, files)
	f.uploadedAs = append(f.uploadedAs, carID+"/"+batchID)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	res := &UploadResult{BatchID: batchID}
	if f.urls != nil {
		for _, u := range f.urls {
			res.Images = append(res.Images, UploadedImage{URL: u})
		}
		return res, nil
	}
	for _, file := range files {
		res.Images = append(res.Images, UploadedImage{
			Key: "cars/temp_" + batchID + "/" + file.Name,
			URL: "https://bucket.s3.amazonaws.com/cars/temp_" + batchID + "/" + file.Name + "?X-Amz-Signature=x",
		})
	}
	return res, nil
}

func (f *fakeUploader) DeleteImageURL(ctx context.Context, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, imageURL)
	return nil
}

func jpeg(name string) File {
	return File{Name: name, ContentType: "image/jpeg", Data: []byte("data")}
}

// recorder captures widget callbacks.
type recorder struct {
	changes [][]string
	errs    []error
}

func (r *recorder) config(cfg WidgetConfig) WidgetConfig {
	cfg.OnChange = func(images []string) { r.changes = append(r.changes, images) }
	cfg.OnError = func(err error) { r.errs = append(r.errs, err) }
	return cfg
}

func TestWidget_ImmediateUpload(t *testing.T) {
	up := &fakeUploader{}
	var rec recorder
	w := NewWidget(up, rec.config(WidgetConfig{BatchID: "b1"}))

	w.BeginSelect()
	if w.State() != StateSelecting {
		t.Fatalf("state: got %s", w.State())
	}

	got, err := w.Select(context.Background(), []File{jpeg("a.jpg"), jpeg("b.jpg")})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0] != "https://bucket.s3.amazonaws.com/cars/temp_b1/a.jpg?X-Amz-Signature=x" {
		t.Errorf("committed: %v", got)
	}
	if w.State() != StateIdle {
		t.Errorf("state after upload: %s", w.State())
	}
	if len(w.Previews()) != 0 {
		t.Errorf("previews should be cleared: %v", w.Previews())
	}
	if len(rec.changes) != 1 || !slices.Equal(rec.changes[0], got) {
		t.Errorf("OnChange calls: %v", rec.changes)
	}
	if up.uploadedAs[0] != "new/b1" {
		t.Errorf("upload target: %v", up.uploadedAs)
	}
}

func TestWidget_UploadingStateAndPreviews(t *testing.T) {
	up := &fakeUploader{}
	w := NewWidget(up, WidgetConfig{})
	up.onUpload = func() {
		if w.State() != StateUploading {
			t.Errorf("state during upload: %s", w.State())
		}
		if p := w.Previews(); len(p) != 2 || p[0].Name != "a.jpg" || p[0].Ref == "" {
			t.Errorf("previews during upload: %+v", p)
		}
	}

	if _, err := w.Select(context.Background(), []File{jpeg("a.jpg"), jpeg("b.jpg")}); err != nil {
		t.Fatalf("Select: %v", err)
	}
}

func TestWidget_Deferred(t *testing.T) {
	up := &fakeUploader{}
	var rec recorder
	w := NewWidget(up, rec.config(WidgetConfig{Deferred: true, Existing: []string{"https://x/existing.jpg"}}))

	if _, err := w.Select(context.Background(), []File{jpeg("a.jpg")}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rec.changes) != 0 {
		t.Fatalf("deferred widget notified early: %v", rec.changes)
	}

	flushed := w.Flush()
	if len(flushed) != 2 || flushed[0] != "https://x/existing.jpg" {
		t.Errorf("Flush: %v", flushed)
	}
	if len(rec.changes) != 1 {
		t.Errorf("OnChange after Flush: %d calls", len(rec.changes))
	}
}

func TestWidget_Budget(t *testing.T) {
	up := &fakeUploader{}
	var rec recorder
	existing := []string{"https://x/1.jpg", "https://x/2.jpg", "https://x/3.jpg"}
	w := NewWidget(up, rec.config(WidgetConfig{MaxFiles: 4, Existing: existing}))

	got, err := w.Select(context.Background(), []File{jpeg("a.jpg"), jpeg("b.jpg")})
	if !errors.Is(err, ErrTooManyFiles) {
		t.Fatalf("expected ErrTooManyFiles, got %v", err)
	}
	if !slices.Equal(got, existing) || len(up.uploads) != 0 {
		t.Errorf("over-budget batch must be rejected whole: %v, %d uploads", got, len(up.uploads))
	}
	if len(rec.errs) != 1 {
		t.Errorf("OnError calls: %d", len(rec.errs))
	}
	if w.State() != StateIdle {
		t.Errorf("state: %s", w.State())
	}
}

func TestWidget_ClientValidation(t *testing.T) {
	up := &fakeUploader{}
	w := NewWidget(up, WidgetConfig{MaxFileBytes: 10})

	big := File{Name: "big.jpg", ContentType: "image/jpeg", Data: make([]byte, 11)}
	gif := File{Name: "anim.gif", ContentType: "image/gif", Data: []byte("x")}

	got, err := w.Select(context.Background(), []File{big, jpeg("ok.jpg"), gif})
	if !errors.Is(err, ErrFileTooLarge) || !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("expected both rejections, got %v", err)
	}
	if len(up.uploads) != 1 || len(up.uploads[0]) != 1 || up.uploads[0][0].Name != "ok.jpg" {
		t.Errorf("only the valid file should be uploaded: %+v", up.uploads)
	}
	if len(got) != 1 {
		t.Errorf("committed: %v", got)
	}

	if _, err := w.Select(context.Background(), []File{gif}); !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("all invalid: %v", err)
	}
	if len(up.uploads) != 1 {
		t.Error("nothing should be uploaded when every file is invalid")
	}
}

func TestWidget_DedupAndTruncate(t *testing.T) {
	up := &fakeUploader{urls: []string{"https://x/1.jpg", "https://x/new-a.jpg", "https://x/new-a.jpg", "https://x/new-b.jpg"}}
	w := NewWidget(up, WidgetConfig{MaxFiles: 3, Existing: []string{"https://x/1.jpg", "https://x/1.jpg"}})

	if got := w.Images(); len(got) != 1 {
		t.Fatalf("existing should be deduplicated: %v", got)
	}

	got, err := w.Select(context.Background(), []File{jpeg("a.jpg"), jpeg("b.jpg")})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := []string{"https://x/1.jpg", "https://x/new-a.jpg", "https://x/new-b.jpg"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWidget_UploadFailure(t *testing.T) {
	up := &fakeUploader{uploadErr: &APIError{StatusCode: 500, Message: "failed to upload images"}}
	var rec recorder
	w := NewWidget(up, rec.config(WidgetConfig{Existing: []string{"https://x/1.jpg"}}))

	got, err := w.Select(context.Background(), []File{jpeg("a.jpg")})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected the API error, got %v", err)
	}
	if !slices.Equal(got, []string{"https://x/1.jpg"}) {
		t.Errorf("committed images must be untouched: %v", got)
	}
	if len(w.Previews()) != 0 || w.State() != StateIdle {
		t.Errorf("previews %v, state %s", w.Previews(), w.State())
	}
	if len(rec.changes) != 0 || len(rec.errs) != 1 {
		t.Errorf("callbacks: %d changes, %d errors", len(rec.changes), len(rec.errs))
	}
}

func TestWidget_Remove(t *testing.T) {
	a := "https://bucket.s3.amazonaws.com/cars/1/a_1_x.jpg?X-Amz-Signature=s"
	b := "https://bucket.s3.amazonaws.com/cars/1/b_1_x.jpg"
	up := &fakeUploader{}
	var rec recorder
	w := NewWidget(up, rec.config(WidgetConfig{Existing: []string{a, b}}))

	if err := w.Remove(context.Background(), a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !slices.Equal(up.deleted, []string{a}) {
		t.Errorf("deleted: %v", up.deleted)
	}
	if got := w.Images(); !slices.Equal(got, []string{b}) {
		t.Errorf("after remove: %v", got)
	}
	if len(rec.changes) != 1 {
		t.Errorf("OnChange calls: %d", len(rec.changes))
	}

	if err := w.Remove(context.Background(), a); !errors.Is(err, ErrNotCommitted) {
		t.Errorf("second remove: %v", err)
	}

	up.deleteErr = fmt.Errorf("network down")
	if err := w.Remove(context.Background(), b); err == nil {
		t.Fatal("expected delete failure")
	}
	if got := w.Images(); !slices.Equal(got, []string{b}) {
		t.Errorf("failed remove must leave state unchanged: %v", got)
	}
}

func TestWidget_ConcurrentSelectsShareBudget(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	up := &fakeUploader{}
	up.onUpload = func() {
		select {
		case started <- struct{}{}:
			<-release
		default:
		}
	}
	w := NewWidget(up, WidgetConfig{MaxFiles: 3})

	done := make(chan error)
	go func() {
		_, err := w.Select(context.Background(), []File{jpeg("a.jpg"), jpeg("b.jpg")})
		done <- err
	}()
	<-started

	if _, err := w.Select(context.Background(), []File{jpeg("c.jpg"), jpeg("d.jpg")}); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("in-flight files should count against the budget: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Select: %v", err)
	}
	if got := w.Images(); len(got) != 2 {
		t.Errorf("committed: %v", got)
	}
}
