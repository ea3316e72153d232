package types

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestKindFromAttributesPrecedence(t *testing.T) {
	cases := []struct {
		name  string
		attrs []tg.DocumentAttributeClass
		want  FileKind
	}{
		{"video wins", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}, &tg.DocumentAttributeAudio{Voice: true}}, FileKindVideo},
		{"voice", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}, FileKindVoice},
		{"audio", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: false}}, FileKindAudio},
		{"plain document", []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "a.zip"}}, FileKindDocument},
	}
	for _, c := range cases {
		kind, _ := kindFromAttributes(c.attrs)
		if kind != c.want {
			t.Errorf("%s: kind = %v, want %v", c.name, kind, c.want)
		}
	}
}

func TestDeriveUniqueIDIsStableAndDistinct(t *testing.T) {
	a := deriveUniqueID(FileKindDocument, 100, 0, 0)
	b := deriveUniqueID(FileKindDocument, 100, 0, 0)
	if a != b {
		t.Errorf("deriveUniqueID not deterministic: %q != %q", a, b)
	}
	c := deriveUniqueID(FileKindDocument, 101, 0, 0)
	if a == c {
		t.Errorf("deriveUniqueID collided for distinct media ids")
	}
}

func TestIntegrityPrefixTruncates(t *testing.T) {
	id := &FileIdentity{UniqueID: "abcdefghij"}
	if got := id.IntegrityPrefix(); got != "abcdef" {
		t.Errorf("IntegrityPrefix() = %q, want %q", got, "abcdef")
	}
}
