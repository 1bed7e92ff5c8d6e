package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"images": ["beach.png", "city.jpg"]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, 5*time.Second)
	records, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	want := []ImageRecord{
		{Filename: "beach.png", DownloadLink: srv.URL + "/images/beach.png"},
		{Filename: "city.jpg", DownloadLink: srv.URL + "/images/city.jpg"},
	}
	if len(records) != len(want) {
		t.Fatalf("Fetch() returned %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("Fetch()[%d] = %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestFetch_SendsBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"images": []}`)
	}))
	defer srv.Close()

	creds := &Credentials{User: "alice", Password: "secret"}
	client := NewHTTPClient(srv.URL, creds, 5*time.Second)

	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() with credentials error = %v", err)
	}
}

func TestFetch_EscapesDownloadLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"images": ["my pic.png"]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", nil, 5*time.Second)
	records, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := srv.URL + "/images/my%20pic.png"
	if records[0].DownloadLink != want {
		t.Errorf("DownloadLink = %q, want %q", records[0].DownloadLink, want)
	}
}

func TestFetch_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>login page</html>`},
		{"missing images field", `{"files": ["a.png"]}`},
		{"images not an array", `{"images": 42}`},
		{"non-string entry", `{"images": ["a.png", 7]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewHTTPClient(srv.URL, nil, 5*time.Second)
			_, err := client.Fetch(context.Background())
			if !errors.Is(err, ErrMalformedCatalog) {
				t.Errorf("Fetch() error = %v, want ErrMalformedCatalog", err)
			}
		})
	}
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, 5*time.Second)
	_, err := client.Fetch(context.Background())
	if err == nil {
		t.Fatal("Fetch() against a failing server should error")
	}
	if errors.Is(err, ErrMalformedCatalog) {
		t.Errorf("status failures should not be reported as malformed catalog: %v", err)
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewHTTPClient(srv.URL, nil, time.Second)
	if _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("Fetch() against a dead server should error")
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/beach.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image bytes"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, 5*time.Second)
	rc, err := client.Download(context.Background(), ImageRecord{
		Filename:     "beach.png",
		DownloadLink: srv.URL + "/images/beach.png",
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "image bytes" {
		t.Errorf("Download() content = %q, want %q", got, "image bytes")
	}
}

func TestDownload_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil, 5*time.Second)
	_, err := client.Download(context.Background(), ImageRecord{
		Filename:     "gone.png",
		DownloadLink: srv.URL + "/images/gone.png",
	})
	if err == nil {
		t.Fatal("Download() of a missing file should error")
	}
}
