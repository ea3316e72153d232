package codec

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		archiveID     int64
		msgID         int
		wantArchiveID int64
	}{
		{-1001234567890, 42, -1001234567890},
		{-1009999999999, 1, -1009999999999},
		{1234567890, 7, -1001234567890},
		{-5, 1000000, -5},
	}
	for _, c := range cases {
		token, err := Encode(c.archiveID, c.msgID)
		if err != nil {
			t.Fatalf("Encode(%d, %d): %v", c.archiveID, c.msgID, err)
		}
		payload, err := Decode(token)
		if err != nil {
			t.Fatalf("Decode(%q): %v", token, err)
		}
		if payload.MsgID != c.msgID {
			t.Errorf("MsgID = %d, want %d", payload.MsgID, c.msgID)
		}
		gotArchiveID, err := DenormalizeArchiveID(payload.ChatID)
		if err != nil {
			t.Fatalf("DenormalizeArchiveID(%q): %v", payload.ChatID, err)
		}
		if gotArchiveID != c.wantArchiveID {
			t.Errorf("archive id round trip = %d, want %d", gotArchiveID, c.wantArchiveID)
		}
	}
}

func TestTokenAlphabetIsURLSafe(t *testing.T) {
	token, err := Encode(-1001234567890, 123456)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, r := range token {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			t.Fatalf("token %q contains non base62 rune %q", token, r)
		}
	}
}

func TestDecodeMalformedToken(t *testing.T) {
	cases := []string{"", "!!!not-base62!!!", "0", "zzzzzzzzzzzzzzzzzzzzzzzzzzzz"}
	for _, tok := range cases {
		if _, err := Decode(tok); err == nil {
			t.Errorf("Decode(%q) expected error, got nil", tok)
		}
	}
}

func TestNormalizeArchiveID(t *testing.T) {
	if got := NormalizeArchiveID(-1001234567890); got != "1234567890" {
		t.Errorf("NormalizeArchiveID = %q, want %q", got, "1234567890")
	}
	if got := NormalizeArchiveID(-5); got != "-5" {
		t.Errorf("NormalizeArchiveID = %q, want %q", got, "-5")
	}
}

func TestDenormalizeArchiveID(t *testing.T) {
	got, err := DenormalizeArchiveID("1234567890")
	if err != nil {
		t.Fatalf("DenormalizeArchiveID: %v", err)
	}
	if got != -1001234567890 {
		t.Errorf("DenormalizeArchiveID = %d, want %d", got, -1001234567890)
	}
	got, err = DenormalizeArchiveID("-5")
	if err != nil {
		t.Fatalf("DenormalizeArchiveID: %v", err)
	}
	if got != -5 {
		t.Errorf("DenormalizeArchiveID = %d, want %d", got, -5)
	}
}
