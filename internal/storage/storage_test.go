package storage

import "testing"

func TestContentTypeFor(t *testing.T) {
	if got := ContentTypeFor("charts/2026/01/02/plot_x.png"); got != "image/png" {
		t.Fatalf("ContentTypeFor(png) = %q", got)
	}
	if got := ContentTypeFor("charts/blob"); got != "application/octet-stream" {
		t.Fatalf("ContentTypeFor(no ext) = %q", got)
	}
}
