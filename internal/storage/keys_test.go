package storage

import (
	"strings"
	"testing"
)

func TestKeysAreScopedToOwner(t *testing.T) {
	photo := ProfilePhotoKey(7, ".png")
	if !strings.HasPrefix(photo, "profile-photos/7/") || !strings.HasSuffix(photo, ".png") {
		t.Fatalf("photo key = %s", photo)
	}
	if got := InvoiceKey(3, 11); got != "invoices/3/11.pdf" {
		t.Fatalf("invoice key = %s", got)
	}
	if !OwnedBy(photo, ProfilePhotoPrefix, 7) {
		t.Fatalf("owner check failed")
	}
	for _, key := range []string{"profile-photos/8/a.png", "profile-photos/7/../8/a.png", "", "resumes/7/x.pdf"} {
		if OwnedBy(key, ProfilePhotoPrefix, 7) {
			t.Fatalf("OwnedBy(%q) should be false", key)
		}
	}
	if len(UserPrefixes(5)) != 4 {
		t.Fatalf("unexpected prefixes")
	}
}
